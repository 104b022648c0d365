package compose

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/catalog"
	"github.com/pkonate/teampulse/internal/dispatch"
	"github.com/pkonate/teampulse/internal/intent"
	"github.com/pkonate/teampulse/internal/llm"
)

type stubGateway struct {
	reply string
	err   error
	last  llm.Request
	calls int
}

func (g *stubGateway) Complete(ctx context.Context, req llm.Request) (string, error) {
	g.calls++
	g.last = req
	return g.reply, g.err
}

func okResult() dispatch.ToolResult {
	return dispatch.ToolResult{
		Operation: catalog.Operation{Tool: "jira", Action: "search_issues"},
		Success:   true,
		Payload:   []map[string]any{{"key": "PROJ-1"}, {"key": "PROJ-2"}},
	}
}

func timeoutResult() dispatch.ToolResult {
	return dispatch.ToolResult{
		Operation: catalog.Operation{Tool: "github", Action: "get_commits"},
		Success:   false,
		Kind:      dispatch.KindTimeout,
		Error:     "operation timed out",
	}
}

func TestCompose_PhrasesResults(t *testing.T) {
	g := &stubGateway{reply: "John worked on PROJ-1 and PROJ-2 this week."}
	c := New(g, zap.NewNop())

	text := c.Compose(context.Background(), Input{
		Query:   "what did john do this week?",
		Intent:  &intent.Record{TimeRange: intent.TimeRange{Label: "this week"}},
		Results: []dispatch.ToolResult{okResult()},
	})

	assert.Equal(t, "John worked on PROJ-1 and PROJ-2 this week.", text)
	assert.Contains(t, g.last.Prompt, "PROJ-1")
	assert.Contains(t, g.last.Prompt, "this week")
	assert.Contains(t, g.last.System, "every operation that failed")
}

func TestCompose_TemplateOnGatewayFailure(t *testing.T) {
	g := &stubGateway{err: fmt.Errorf("provider down")}
	c := New(g, zap.NewNop())

	text := c.Compose(context.Background(), Input{
		Query:   "q",
		Results: []dispatch.ToolResult{okResult(), timeoutResult()},
	})

	// The deterministic rendering accounts for both results.
	assert.Contains(t, text, "jira.search_issues")
	assert.Contains(t, text, "2 result(s)")
	assert.Contains(t, text, "github.get_commits timed out")
}

func TestCompose_Rejection(t *testing.T) {
	g := &stubGateway{}
	c := New(g, zap.NewNop())

	text := c.Compose(context.Background(), Input{
		Query:     "what's the weather?",
		Rejection: &intent.Rejection{Reason: "weather is not team activity"},
	})

	assert.Contains(t, text, "engineering activity")
	assert.Contains(t, text, "weather is not team activity")
	// Rejections never spend an inference call.
	assert.Zero(t, g.calls)
}

func TestCompose_GaveUp(t *testing.T) {
	g := &stubGateway{}
	c := New(g, zap.NewNop())

	text := c.Compose(context.Background(), Input{
		Query:   "q",
		GaveUp:  true,
		Results: []dispatch.ToolResult{okResult(), timeoutResult()},
	})

	assert.Contains(t, text, "couldn't work out a reliable answer")
	assert.Contains(t, text, "2 lookup(s)")
	assert.Contains(t, text, "1 of which failed")
	assert.Zero(t, g.calls)
}

func TestCompose_FallbackAnswerPassesThrough(t *testing.T) {
	g := &stubGateway{}
	c := New(g, zap.NewNop())

	text := c.Compose(context.Background(), Input{
		Query:          "q",
		FallbackAnswer: "John shipped two fixes.",
		Results:        []dispatch.ToolResult{okResult()},
	})

	assert.Equal(t, "John shipped two fixes.", text)
	assert.Zero(t, g.calls)
}

func TestCompose_FallbackAnswerKeepsFailureNote(t *testing.T) {
	g := &stubGateway{}
	c := New(g, zap.NewNop())

	text := c.Compose(context.Background(), Input{
		Query:          "q",
		FallbackAnswer: "Partial picture only.",
		Results:        []dispatch.ToolResult{timeoutResult()},
	})

	assert.Contains(t, text, "Partial picture only.")
	assert.Contains(t, text, "github.get_commits timed out")
}

func TestTemplateText_Empty(t *testing.T) {
	assert.Contains(t, templateText(nil), "No data")
}
