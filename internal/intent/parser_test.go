package intent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/catalog"
	apperrors "github.com/pkonate/teampulse/internal/errors"
	"github.com/pkonate/teampulse/internal/llm"
)

// scriptedGateway returns canned responses in order and records prompts.
type scriptedGateway struct {
	responses []string
	prompts   []llm.Request
	err       error
}

func (g *scriptedGateway) Complete(ctx context.Context, req llm.Request) (string, error) {
	g.prompts = append(g.prompts, req)
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", fmt.Errorf("no scripted response left")
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	r := catalog.New()
	noop := func(ctx context.Context, params map[string]any) (any, error) { return nil, nil }
	require.NoError(t, r.Register(catalog.Descriptor{
		Tool: "jira", Action: "search_issues",
		Params:  map[string]catalog.Param{"assignee": {Type: catalog.TypeString}},
		Handler: noop,
	}))
	require.NoError(t, r.Register(catalog.Descriptor{
		Tool: "github", Action: "get_commits",
		Params:  map[string]catalog.Param{"author": {Type: catalog.TypeString}},
		Handler: noop,
	}))
	return r
}

func newTestParser(t *testing.T, g llm.Gateway) *Parser {
	t.Helper()
	fixed := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return NewParser(g, testRegistry(t), 1, 10, zap.NewNop(), WithClock(fixed))
}

const validPlan = `{
	"is_relevant": true,
	"intent": "activity for john this week",
	"operations": [
		{"tool": "jira", "action": "search_issues", "filters": {"assignee": "john.doe@example.com"}},
		{"tool": "github", "action": "get_commits", "filters": {"author": "johndoe"}}
	],
	"members": ["john.doe@example.com"],
	"time_range": {"start": "2025-03-03", "end": "2025-03-10", "label": "this week"}
}`

func TestParse_RelevantQuery(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlan}}
	p := newTestParser(t, g)

	out, err := p.Parse(context.Background(), "what has @john been working on this week?", nil, "team ctx")
	require.NoError(t, err)
	require.NotNil(t, out.Record)
	assert.Nil(t, out.Rejection)

	rec := out.Record
	require.Len(t, rec.Operations, 2)
	assert.Equal(t, "jira.search_issues", rec.Operations[0].String())
	assert.Equal(t, "github.get_commits", rec.Operations[1].String())
	assert.Equal(t, []string{"john.doe@example.com"}, rec.Members)
	assert.Equal(t, "this week", rec.TimeRange.Label)

	// The prompt must carry the capability manifest and the team context.
	require.Len(t, g.prompts, 1)
	assert.True(t, g.prompts[0].ForceJSON)
	assert.Contains(t, g.prompts[0].System, "search_issues")
	assert.Contains(t, g.prompts[0].System, "team ctx")
	assert.Contains(t, g.prompts[0].System, "2025-03-10")
}

func TestParse_IrrelevantQueryRejected(t *testing.T) {
	g := &scriptedGateway{responses: []string{
		`{"is_relevant": false, "error": {"error": "irrelevant_query", "reasoning": "weather is not team activity"}}`,
	}}
	p := newTestParser(t, g)

	out, err := p.Parse(context.Background(), "what's the weather tomorrow?", nil, "")
	require.NoError(t, err)
	require.NotNil(t, out.Rejection)
	assert.Nil(t, out.Record)
	assert.Contains(t, out.Rejection.Reason, "weather")
}

func TestParse_CorrectiveRetrySucceeds(t *testing.T) {
	g := &scriptedGateway{responses: []string{
		`this is not json at all`,
		validPlan,
	}}
	p := newTestParser(t, g)

	out, err := p.Parse(context.Background(), "john this week", nil, "")
	require.NoError(t, err)
	require.NotNil(t, out.Record)

	// Second prompt must echo what was wrong with the first response.
	require.Len(t, g.prompts, 2)
	assert.Contains(t, g.prompts[1].Prompt, "previous response was invalid")
}

func TestParse_FailureAfterRetryBudget(t *testing.T) {
	g := &scriptedGateway{responses: []string{
		`{"is_relevant": true, "operations": []}`,
		`{"bogus_field": 1}`,
	}}
	p := newTestParser(t, g)

	_, err := p.Parse(context.Background(), "john this week", nil, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrParseFailure.Code, apperrors.GetCode(err))
	assert.Len(t, g.prompts, 2)
}

func TestParse_GatewayFailureNotRetried(t *testing.T) {
	g := &scriptedGateway{err: fmt.Errorf("provider down")}
	p := newTestParser(t, g)

	_, err := p.Parse(context.Background(), "john this week", nil, "")
	require.Error(t, err)
	assert.NotEqual(t, apperrors.ErrParseFailure.Code, apperrors.GetCode(err))
	assert.Len(t, g.prompts, 1)
}

func TestParse_HistoryWindowed(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlan}}
	fixed := func() time.Time { return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) }
	p := NewParser(g, testRegistry(t), 0, 2, zap.NewNop(), WithClock(fixed))

	history := []Turn{
		{Role: "user", Content: "oldest turn"},
		{Role: "assistant", Content: "middle turn"},
		{Role: "user", Content: "newest turn"},
	}

	_, err := p.Parse(context.Background(), "and last month?", history, "")
	require.NoError(t, err)

	require.Len(t, g.prompts, 1)
	assert.NotContains(t, g.prompts[0].Prompt, "oldest turn")
	assert.Contains(t, g.prompts[0].Prompt, "middle turn")
	assert.Contains(t, g.prompts[0].Prompt, "newest turn")
}

func TestDecode_FencedJSON(t *testing.T) {
	out, err := decode("```json\n" + validPlan + "\n```")
	require.NoError(t, err)
	require.NotNil(t, out.Record)
}

func TestDecode_MissingRelevanceFlag(t *testing.T) {
	_, err := decode(`{"intent": "something"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is_relevant")
}

func TestDecode_OperationMissingAction(t *testing.T) {
	_, err := decode(`{"is_relevant": true, "operations": [{"tool": "jira"}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing tool or action")
}
