package commbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// LOGGING MIDDLEWARE TESTS
// =============================================================================

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	mw := NewLoggingMiddleware("info")

	msg := &TaskSubmitted{TaskID: "t1"}
	out, err := mw.Before(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg, out)

	result, err := mw.After(context.Background(), msg, "result", nil)
	require.NoError(t, err)
	assert.Equal(t, "result", result)
}

// =============================================================================
// CIRCUIT BREAKER TESTS
// =============================================================================

func TestCircuitOpensAfterThreshold(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(3, time.Minute, nil)
	msg := &GetTaskSnapshot{TaskID: "t1"}
	failure := errors.New("handler failed")

	for i := 0; i < 3; i++ {
		_, _ = mw.After(context.Background(), msg, nil, failure)
	}
	assert.Equal(t, "open", mw.GetStates()["GetTaskSnapshot"])

	// Open circuit blocks the next request.
	out, err := mw.Before(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCircuitStaysClosedBelowThreshold(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(3, time.Minute, nil)
	msg := &GetTaskSnapshot{TaskID: "t1"}

	_, _ = mw.After(context.Background(), msg, nil, errors.New("one failure"))

	out, err := mw.Before(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg, out)
}

func TestCircuitHalfOpenThenCloses(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(1, 10*time.Millisecond, nil)
	msg := &GetTaskSnapshot{TaskID: "t1"}

	_, _ = mw.After(context.Background(), msg, nil, errors.New("failure"))
	assert.Equal(t, "open", mw.GetStates()["GetTaskSnapshot"])

	time.Sleep(20 * time.Millisecond)

	// Reset timeout elapsed: the probe request is let through.
	out, err := mw.Before(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg, out)
	assert.Equal(t, "half-open", mw.GetStates()["GetTaskSnapshot"])

	// Probe success closes the circuit.
	_, _ = mw.After(context.Background(), msg, "ok", nil)
	assert.Equal(t, "closed", mw.GetStates()["GetTaskSnapshot"])
}

func TestCircuitHalfOpenReopensOnFailure(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(1, 10*time.Millisecond, nil)
	msg := &GetTaskSnapshot{TaskID: "t1"}

	_, _ = mw.After(context.Background(), msg, nil, errors.New("failure"))
	time.Sleep(20 * time.Millisecond)
	_, _ = mw.Before(context.Background(), msg)

	_, _ = mw.After(context.Background(), msg, nil, errors.New("probe failed"))
	assert.Equal(t, "open", mw.GetStates()["GetTaskSnapshot"])
}

func TestCircuitExcludedTypes(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(1, time.Minute, []string{"TaskFinished"})
	msg := &TaskFinished{TaskID: "t1"}

	_, _ = mw.After(context.Background(), msg, nil, errors.New("failure"))

	// Excluded types never trip the breaker.
	out, err := mw.Before(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg, out)
	assert.Empty(t, mw.GetStates())
}

func TestCircuitReset(t *testing.T) {
	mw := NewCircuitBreakerMiddleware(1, time.Minute, nil)
	msg := &GetTaskSnapshot{TaskID: "t1"}

	_, _ = mw.After(context.Background(), msg, nil, errors.New("failure"))
	assert.Equal(t, "open", mw.GetStates()["GetTaskSnapshot"])

	msgType := "GetTaskSnapshot"
	mw.Reset(&msgType)
	assert.Empty(t, mw.GetStates())
}

// =============================================================================
// BUS + MIDDLEWARE INTEGRATION
// =============================================================================

func TestBusWithCircuitBreaker(t *testing.T) {
	bus := NewInMemoryCommBus(time.Second)
	bus.AddMiddleware(NewCircuitBreakerMiddleware(1, time.Minute, nil))

	require.NoError(t, bus.RegisterHandler("GetTaskSnapshot", func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New("handler failed")
	}))

	// First query fails and trips the breaker.
	_, err := bus.QuerySync(context.Background(), &GetTaskSnapshot{TaskID: "t1"})
	require.Error(t, err)

	// Second query is blocked before reaching the handler.
	_, err = bus.QuerySync(context.Background(), &GetTaskSnapshot{TaskID: "t1"})
	var noHandler *NoHandlerError
	assert.ErrorAs(t, err, &noHandler)
}
