package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"expertmesh/coreengine/routing"
	"expertmesh/coreengine/runtime"
)

func TestExtractAnswerStripsReportFrame(t *testing.T) {
	// The history turn carries the bare answer; none of the report
	// framing may leak into later prompts.
	report := runtime.FormatReport(routing.LabelTech, "A lightweight thread managed by the Go runtime.")

	answer := extractAnswer(report)
	assert.Equal(t, "A lightweight thread managed by the Go runtime.", answer)
	assert.NotContains(t, answer, "╔")
	assert.NotContains(t, answer, "───")
	assert.NotContains(t, answer, "MULTI-AGENT RESPONSE REPORT")
	assert.NotContains(t, answer, "Question routed to:")
}

func TestExtractAnswerKeepsMultilineAnswer(t *testing.T) {
	report := runtime.FormatReport(routing.LabelDesign, "First line.\n\nSecond paragraph.")

	answer := extractAnswer(report)
	assert.Equal(t, "First line.\n\nSecond paragraph.", answer)
}

func TestExtractAnswerPlainTextPassthrough(t *testing.T) {
	// A response without the report frame comes back unchanged.
	assert.Equal(t, "plain answer", extractAnswer("plain answer"))
}

func TestExtractAnswerPlaceholder(t *testing.T) {
	report := runtime.FormatReport(routing.LabelHR, runtime.NoResultPlaceholder(routing.LabelHR))
	answer := extractAnswer(report)
	assert.Equal(t, "No result from HR Expert.", answer)
}
