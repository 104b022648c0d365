package jira

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/cache"
	"github.com/pkonate/teampulse/internal/catalog"
	"github.com/pkonate/teampulse/internal/config"
)

const searchPayload = `{
	"issues": [
		{
			"key": "PROJ-1",
			"fields": {
				"summary": "Fix login flow",
				"status": {"name": "In Progress"},
				"assignee": {"accountId": "a1", "displayName": "John Doe"},
				"priority": {"name": "High"},
				"updated": "2025-03-08T10:00:00.000+0000"
			}
		},
		{
			"key": "PROJ-2",
			"fields": {
				"summary": "Unassigned cleanup",
				"status": {"name": "To Do"},
				"assignee": null,
				"priority": null,
				"updated": "2025-03-07T09:00:00.000+0000"
			}
		}
	]
}`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(config.JiraConfig{
		BaseURL:  srv.URL,
		Username: "bot@example.com",
		APIToken: "token",
	}, nil, zap.NewNop())
	return c, srv
}

func TestSearchIssues(t *testing.T) {
	var gotJQL string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/search", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "token", pass)
		gotJQL = r.URL.Query().Get("jql")
		w.Write([]byte(searchPayload))
	}))

	issues, err := c.SearchIssues(context.Background(), SearchQuery{
		Assignee: "john.doe@example.com",
		Project:  "PROJ",
		Start:    "2025-03-03",
	})
	require.NoError(t, err)
	require.Len(t, issues, 2)

	assert.Equal(t, "PROJ-1", issues[0].Key)
	assert.Equal(t, "John Doe", issues[0].Assignee)
	assert.Equal(t, "High", issues[0].Priority)
	assert.Empty(t, issues[1].Assignee)

	assert.Contains(t, gotJQL, `project = "PROJ"`)
	assert.Contains(t, gotJQL, `assignee = "john.doe@example.com"`)
	assert.Contains(t, gotJQL, `updated >= "2025-03-03"`)
	assert.Contains(t, gotJQL, "order by updated DESC")
}

func TestSearchIssues_UpstreamError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := c.SearchIssues(context.Background(), SearchQuery{Project: "PROJ"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracker API error")
}

func TestProjects(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/project", r.URL.Path)
		w.Write([]byte(`[{"key": "PROJ", "name": "Product"}, {"key": "API", "name": "Platform API"}]`))
	}))

	keys, err := c.ProjectKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PROJ", "API"}, keys)
}

func TestIssueDetails(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/issue/PROJ-1", r.URL.Path)
		w.Write([]byte(`{
			"key": "PROJ-1",
			"fields": {
				"summary": "Fix login flow",
				"status": {"name": "Done"},
				"description": "Users locked out after SSO change",
				"reporter": {"accountId": "a2", "displayName": "Sarah Chen"},
				"created": "2025-03-01T08:00:00.000+0000",
				"comment": {"total": 4}
			}
		}`))
	}))

	details, err := c.IssueDetails(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "Done", details.Status)
	assert.Equal(t, "Sarah Chen", details.Reporter)
	assert.Equal(t, 4, details.Comments)
	assert.Contains(t, details.Description, "locked out")
}

func TestGetJSON_CacheHitSkipsUpstream(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[{"key": "PROJ", "name": "Product"}]`))
	}))
	t.Cleanup(srv.Close)

	cc, err := cache.OpenInMemory(time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	c := New(config.JiraConfig{BaseURL: srv.URL, Username: "u", APIToken: "t"}, cc, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := c.Projects(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
}

func TestRegister_ValidatesThroughCatalog(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchPayload))
	}))

	r := catalog.New()
	require.NoError(t, Register(r, c))

	// Every registered action validates and the search path executes.
	assert.NoError(t, r.Validate(catalog.Operation{
		Tool: "jira", Action: "search_issues",
		Filters: map[string]any{"assignee": "john"},
	}))
	assert.Error(t, r.Validate(catalog.Operation{Tool: "jira", Action: "get_issue_details"}))

	out, err := r.Execute(context.Background(), catalog.Operation{
		Tool: "jira", Action: "search_issues",
		Filters: map[string]any{"assignee": "john"},
	})
	require.NoError(t, err)
	issues, ok := out.([]Issue)
	require.True(t, ok)
	assert.Len(t, issues, 2)
}
