// Package client implements the agent connection client: the HTTP/SSE
// consumer a manager uses to delegate a question to a remote expert
// endpoint and to inspect or cancel its tasks.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"expertmesh/coreengine/protocol"
)

// DefaultTimeout bounds a full delegation round trip, including the
// remote expert's completion-service call.
const DefaultTimeout = 2 * time.Minute

// ErrNoArtifact indicates the remote endpoint terminated the stream
// without producing any artifact text.
var ErrNoArtifact = errors.New("client: stream ended without an artifact")

// Client talks to one or more agent endpoints.
type Client struct {
	http *http.Client
}

// New creates a client with DefaultTimeout.
func New() *Client {
	return NewWithTimeout(DefaultTimeout)
}

// NewWithTimeout creates a client with an explicit round-trip timeout.
func NewWithTimeout(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// SendMessage posts a message to the endpoint's streaming surface and
// returns the live event stream. The caller must Close the stream.
func (c *Client) SendMessage(ctx context.Context, endpoint string, msg protocol.Message) (*EventStream, error) {
	body, err := json.Marshal(protocol.SendMessageRequest{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/message/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("send message to %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return newEventStream(resp.Body), nil
}

// Ask delegates one question and blocks until the stream terminates,
// returning the first artifact's text.
func (c *Client) Ask(ctx context.Context, endpoint string, msg protocol.Message) (string, error) {
	stream, err := c.SendMessage(ctx, endpoint, msg)
	if err != nil {
		return "", err
	}
	defer stream.Close()
	return stream.CollectText()
}

// GetTask fetches the current snapshot of a task.
func (c *Client) GetTask(ctx context.Context, endpoint, taskID string) (protocol.Task, error) {
	var t protocol.Task
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return t, fmt.Errorf("build request: %w", err)
	}
	if err := c.doJSON(req, &t); err != nil {
		return t, err
	}
	return t, nil
}

// CancelTask requests cancellation of a task and returns the resulting
// snapshot.
func (c *Client) CancelTask(ctx context.Context, endpoint, taskID string) (protocol.Task, error) {
	var t protocol.Task
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/tasks/"+taskID+"/cancel", nil)
	if err != nil {
		return t, fmt.Errorf("build request: %w", err)
	}
	if err := c.doJSON(req, &t); err != nil {
		return t, err
	}
	return t, nil
}

// FetchCard retrieves the endpoint's agent card.
func (c *Client) FetchCard(ctx context.Context, endpoint string) (protocol.AgentCard, error) {
	var card protocol.AgentCard
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/.well-known/agent-card.json", nil)
	if err != nil {
		return card, fmt.Errorf("build request: %w", err)
	}
	if err := c.doJSON(req, &card); err != nil {
		return card, err
	}
	return card, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// =============================================================================
// EVENT STREAM
// =============================================================================

// EventStream is a live SSE stream of task events.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newEventStream(body io.ReadCloser) *EventStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &EventStream{body: body, scanner: sc}
}

// Next returns the next event on the stream, or io.EOF when the server
// closes it. Non-event SSE lines (comments, event names, blank
// separators) are skipped.
func (s *EventStream) Next() (protocol.Event, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		ev, err := protocol.UnmarshalEvent([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// CollectText drains the stream and returns the text of the first
// artifact event. A stream that terminates without any artifact yields
// ErrNoArtifact; a failed or canceled terminal status reported before
// any artifact is surfaced as an error.
func (s *EventStream) CollectText() (string, error) {
	var (
		text  string
		found bool
	)
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch e := ev.(type) {
		case protocol.TaskArtifactUpdateEvent:
			if !found {
				if t, ok := protocol.FirstText(e.Artifact.Parts); ok {
					text = t
					found = true
				}
			}
		case protocol.TaskStatusUpdateEvent:
			if e.Final && !found && e.Status != protocol.TaskStateCompleted {
				return "", fmt.Errorf("client: task ended in state %s", e.Status)
			}
		}
	}
	if !found {
		return "", ErrNoArtifact
	}
	return text, nil
}

// Close releases the underlying connection. Safe to call more than once.
func (s *EventStream) Close() error {
	return s.body.Close()
}
