package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/catalog"
)

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	r := catalog.New()

	require.NoError(t, r.Register(catalog.Descriptor{
		Tool:   "jira",
		Action: "search_issues",
		Params: map[string]catalog.Param{
			"assignee": {Type: catalog.TypeString},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"issues": []string{"PROJ-1"}}, nil
		},
	}))

	require.NoError(t, r.Register(catalog.Descriptor{
		Tool:   "github",
		Action: "get_commits",
		Params: map[string]catalog.Param{
			"author": {Type: catalog.TypeString},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, fmt.Errorf("upstream 500")
		},
	}))

	require.NoError(t, r.Register(catalog.Descriptor{
		Tool:   "github",
		Action: "slow_call",
		Params: map[string]catalog.Param{},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			select {
			case <-time.After(2 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	return r
}

func TestExecute_MixedValidInvalid(t *testing.T) {
	d := New(testRegistry(t), time.Second, zap.NewNop())

	plan := []catalog.Operation{
		{Tool: "jira", Action: "search_issues", Filters: map[string]any{"assignee": "john"}},
		{Tool: "jira", Action: "launch_rocket"},
	}

	results := d.Execute(context.Background(), plan)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.Equal(t, plan[0], results[0].Operation)

	assert.False(t, results[1].Success)
	assert.Equal(t, KindValidation, results[1].Kind)
	assert.Equal(t, plan[1], results[1].Operation)
}

func TestExecute_OrderPreservedUnderConcurrency(t *testing.T) {
	r := catalog.New()
	for i := 0; i < 8; i++ {
		idx := i
		require.NoError(t, r.Register(catalog.Descriptor{
			Tool:   "jira",
			Action: fmt.Sprintf("action_%d", idx),
			Params: map[string]catalog.Param{},
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				// Later plan entries finish earlier.
				time.Sleep(time.Duration(8-idx) * 5 * time.Millisecond)
				return idx, nil
			},
		}))
	}

	d := New(r, time.Second, zap.NewNop())

	var plan []catalog.Operation
	for i := 0; i < 8; i++ {
		plan = append(plan, catalog.Operation{Tool: "jira", Action: fmt.Sprintf("action_%d", i)})
	}

	results := d.Execute(context.Background(), plan)
	require.Len(t, results, 8)
	for i, res := range results {
		require.True(t, res.Success)
		assert.Equal(t, i, res.Payload)
	}
}

func TestExecuteOne_AdapterFailure(t *testing.T) {
	d := New(testRegistry(t), time.Second, zap.NewNop())

	res := d.ExecuteOne(context.Background(), catalog.Operation{
		Tool:    "github",
		Action:  "get_commits",
		Filters: map[string]any{"author": "sarah"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, KindError, res.Kind)
	assert.Contains(t, res.Error, "upstream 500")
}

func TestExecuteOne_Timeout(t *testing.T) {
	d := New(testRegistry(t), 20*time.Millisecond, zap.NewNop())

	res := d.ExecuteOne(context.Background(), catalog.Operation{Tool: "github", Action: "slow_call"})

	assert.False(t, res.Success)
	assert.Equal(t, KindTimeout, res.Kind)
}

func TestExecute_SiblingsSurviveFailure(t *testing.T) {
	d := New(testRegistry(t), time.Second, zap.NewNop())

	plan := []catalog.Operation{
		{Tool: "github", Action: "get_commits", Filters: map[string]any{"author": "sarah"}},
		{Tool: "jira", Action: "search_issues", Filters: map[string]any{"assignee": "sarah"}},
	}

	results := d.Execute(context.Background(), plan)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
}

func TestFailures(t *testing.T) {
	results := []ToolResult{
		{Success: true},
		{Success: false, Kind: KindTimeout},
		{Success: false, Kind: KindValidation},
	}
	assert.Len(t, Failures(results), 2)
	assert.Empty(t, Failures(results[:1]))
}
