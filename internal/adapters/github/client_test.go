package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/catalog"
	"github.com/pkonate/teampulse/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(config.GitHubConfig{Token: "gh-token", Organization: "acme"}, nil, zap.NewNop())
	c.baseURL = srv.URL
	return c
}

func TestRepositories(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orgs/acme/repos", r.URL.Path)
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		w.Write([]byte(`[
			{"name": "backend", "description": "Core API", "language": "Go", "open_issues_count": 7, "updated_at": "2025-03-08T10:00:00Z"},
			{"name": "web-app", "language": "TypeScript", "open_issues_count": 2}
		]`))
	}))

	repos, err := c.Repositories(context.Background())
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "backend", repos[0].Name)
	assert.Equal(t, 7, repos[0].OpenIssues)

	names, err := c.RepositoryNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"backend", "web-app"}, names)
}

func TestCommits(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/backend/commits", r.URL.Path)
		assert.Equal(t, "johndoe", r.URL.Query().Get("author"))
		assert.Equal(t, "2025-03-03T00:00:00Z", r.URL.Query().Get("since"))
		w.Write([]byte(`[
			{
				"sha": "abc123",
				"commit": {"message": "Fix login flow\n\nLonger body here", "author": {"name": "John Doe", "date": "2025-03-05T14:00:00Z"}},
				"author": {"login": "johndoe"}
			},
			{
				"sha": "def456",
				"commit": {"message": "Bump deps", "author": {"name": "John Doe", "date": "2025-03-04T09:00:00Z"}},
				"author": null
			}
		]`))
	}))

	commits, err := c.Commits(context.Background(), CommitQuery{
		Repository: "backend",
		Author:     "johndoe",
		Since:      "2025-03-03",
	})
	require.NoError(t, err)
	require.Len(t, commits, 2)

	assert.Equal(t, "Fix login flow", commits[0].Message)
	assert.Equal(t, "johndoe", commits[0].Author)
	// Without a resolved login the git author name is kept.
	assert.Equal(t, "John Doe", commits[1].Author)
}

func TestPullRequests(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/backend/pulls", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		w.Write([]byte(`[
			{"number": 42, "title": "Add rate limiting", "state": "open", "user": {"login": "sarahc"}, "created_at": "2025-03-06T11:00:00Z"}
		]`))
	}))

	pulls, err := c.PullRequests(context.Background(), "backend", "open", 10)
	require.NoError(t, err)
	require.Len(t, pulls, 1)
	assert.Equal(t, 42, pulls[0].Number)
	assert.Equal(t, "sarahc", pulls[0].Author)
}

func TestRecentActivity(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search/commits":
			assert.Contains(t, r.URL.Query().Get("q"), "org:acme")
			assert.Contains(t, r.URL.Query().Get("q"), "author:johndoe")
			w.Write([]byte(`{"items": [
				{"sha": "abc123", "commit": {"message": "Fix login flow", "author": {"name": "John Doe", "date": "2025-03-05T14:00:00Z"}}, "author": {"login": "johndoe"}}
			]}`))
		case "/search/issues":
			assert.Contains(t, r.URL.Query().Get("q"), "type:pr")
			w.Write([]byte(`{"items": [
				{"number": 42, "title": "Add rate limiting", "state": "open", "user": {"login": "johndoe"}, "created_at": "2025-03-06T11:00:00Z"}
			]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	activity, err := c.RecentActivity(context.Background(), "johndoe", 7)
	require.NoError(t, err)
	require.Len(t, activity.Commits, 1)
	require.Len(t, activity.PullRequests, 1)
	assert.Equal(t, "abc123", activity.Commits[0].SHA)
	assert.Equal(t, 42, activity.PullRequests[0].Number)
}

func TestRepositoryIssues_FiltersPulls(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"number": 10, "title": "Crash on startup", "state": "open", "user": {"login": "johndoe"}, "created_at": "2025-03-01T08:00:00Z"},
			{"number": 11, "title": "A pull request", "state": "open", "user": {"login": "sarahc"}, "created_at": "2025-03-02T08:00:00Z", "pull_request": {}}
		]`))
	}))

	issues, err := c.RepositoryIssues(context.Background(), "backend", "open", 10)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 10, issues[0].Number)
}

func TestUpstreamError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))

	_, err := c.Repositories(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source host API error")
}

func TestRegister_RequiredParams(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	r := catalog.New()
	require.NoError(t, Register(r, c))

	assert.Error(t, r.Validate(catalog.Operation{Tool: "github", Action: "get_commits"}))
	assert.NoError(t, r.Validate(catalog.Operation{
		Tool: "github", Action: "get_commits",
		Filters: map[string]any{"repository": "backend"},
	}))
	assert.Error(t, r.Validate(catalog.Operation{
		Tool: "github", Action: "get_commits",
		Filters: map[string]any{"repository": "backend", "branch": "main"},
	}))
}
