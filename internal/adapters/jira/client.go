// Package jira is the issue tracker adapter. It exposes a read-only slice of
// the Jira REST API as catalog actions, with a circuit breaker and a short
// TTL cache between the pipeline and the upstream.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/cache"
	"github.com/pkonate/teampulse/internal/config"
)

const defaultMaxResults = 50

// Client talks to one Jira site with basic auth.
type Client struct {
	baseURL  string
	username string
	token    string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	cache    *cache.Cache
	logger   *zap.Logger
}

// New builds a tracker client. cache may be nil to disable caching.
func New(cfg config.JiraConfig, c *cache.Cache, logger *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "jira",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("tracker breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		token:    cfg.APIToken,
		http:     &http.Client{Timeout: 30 * time.Second},
		breaker:  breaker,
		cache:    c,
		logger:   logger,
	}
}

// Issue is the trimmed issue shape handed to the composer.
type Issue struct {
	Key      string `json:"key"`
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	Assignee string `json:"assignee,omitempty"`
	Priority string `json:"priority,omitempty"`
	Updated  string `json:"updated,omitempty"`
}

// Project is one tracker project.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// User is one tracker account.
type User struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// IssueDetails extends Issue with description and activity fields.
type IssueDetails struct {
	Issue
	Description string `json:"description,omitempty"`
	Reporter    string `json:"reporter,omitempty"`
	Created     string `json:"created,omitempty"`
	Comments    int    `json:"comments"`
}

// SearchQuery narrows an issue search. Zero values are omitted from the JQL.
type SearchQuery struct {
	Assignee   string
	Project    string
	Status     string
	Start      string // YYYY-MM-DD, inclusive
	End        string // YYYY-MM-DD, inclusive
	MaxResults int
}

// SearchIssues runs a JQL search built from the query.
func (c *Client) SearchIssues(ctx context.Context, q SearchQuery) ([]Issue, error) {
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	params := url.Values{}
	params.Set("jql", buildJQL(q))
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("fields", "summary,status,assignee,priority,updated")

	var payload struct {
		Issues []wireIssue `json:"issues"`
	}
	if err := c.getJSON(ctx, "/rest/api/2/search", params, &payload); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(payload.Issues))
	for _, wi := range payload.Issues {
		issues = append(issues, wi.trim())
	}
	return issues, nil
}

// RecentActivity returns issues touched in the last days, optionally scoped
// to one assignee or project.
func (c *Client) RecentActivity(ctx context.Context, assignee, project string, days int) ([]Issue, error) {
	if days <= 0 {
		days = 7
	}
	return c.SearchIssues(ctx, SearchQuery{
		Assignee: assignee,
		Project:  project,
		Start:    time.Now().AddDate(0, 0, -days).Format("2006-01-02"),
	})
}

// Projects lists all visible projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var payload []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	if err := c.getJSON(ctx, "/rest/api/2/project", nil, &payload); err != nil {
		return nil, err
	}

	projects := make([]Project, 0, len(payload))
	for _, p := range payload {
		projects = append(projects, Project{Key: p.Key, Name: p.Name})
	}
	return projects, nil
}

// ProjectKeys returns just the project keys, used by the roster refresh.
func (c *Client) ProjectKeys(ctx context.Context) ([]string, error) {
	projects, err := c.Projects(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(projects))
	for _, p := range projects {
		keys = append(keys, p.Key)
	}
	return keys, nil
}

// ProjectUsers lists accounts assignable in one project.
func (c *Client) ProjectUsers(ctx context.Context, project string) ([]User, error) {
	params := url.Values{}
	params.Set("project", project)

	var payload []wireUser
	if err := c.getJSON(ctx, "/rest/api/2/user/assignable/search", params, &payload); err != nil {
		return nil, err
	}
	return trimUsers(payload), nil
}

// SearchUsers finds accounts matching a free-form query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	params := url.Values{}
	params.Set("query", query)

	var payload []wireUser
	if err := c.getJSON(ctx, "/rest/api/2/user/search", params, &payload); err != nil {
		return nil, err
	}
	return trimUsers(payload), nil
}

// IssueDetails fetches one issue with its description and comment count.
func (c *Client) IssueDetails(ctx context.Context, key string) (*IssueDetails, error) {
	params := url.Values{}
	params.Set("fields", "summary,status,assignee,priority,updated,description,reporter,created,comment")

	var wi wireIssue
	if err := c.getJSON(ctx, "/rest/api/2/issue/"+url.PathEscape(key), params, &wi); err != nil {
		return nil, err
	}

	details := &IssueDetails{
		Issue:       wi.trim(),
		Description: wi.Fields.Description,
		Created:     wi.Fields.Created,
		Comments:    wi.Fields.Comment.Total,
	}
	if wi.Fields.Reporter != nil {
		details.Reporter = wi.Fields.Reporter.DisplayName
	}
	return details, nil
}

func buildJQL(q SearchQuery) string {
	var clauses []string
	if q.Project != "" {
		clauses = append(clauses, fmt.Sprintf("project = %q", q.Project))
	}
	if q.Assignee != "" {
		clauses = append(clauses, fmt.Sprintf("assignee = %q", q.Assignee))
	}
	if q.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = %q", q.Status))
	}
	if q.Start != "" {
		clauses = append(clauses, fmt.Sprintf("updated >= %q", q.Start))
	}
	if q.End != "" {
		clauses = append(clauses, fmt.Sprintf("updated <= %q", q.End))
	}
	jql := strings.Join(clauses, " AND ")
	if jql == "" {
		jql = "order by updated DESC"
	} else {
		jql += " order by updated DESC"
	}
	return jql
}

// getJSON performs a cached GET through the circuit breaker.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	if c.cache != nil {
		if err := c.cache.Get("jira", u, out); err == nil {
			return nil
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doGet(ctx, u)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode tracker response: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.Set("jira", u, out); err != nil {
			c.logger.Debug("tracker cache write failed", zap.Error(err))
		}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tracker API error: %s - %s", resp.Status, string(body))
	}
	return io.ReadAll(resp.Body)
}

// wire types mirror the fields of the upstream responses we consume.

type wireUser struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

type wireIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Status  struct {
			Name string `json:"name"`
		} `json:"status"`
		Assignee *wireUser `json:"assignee"`
		Reporter *wireUser `json:"reporter"`
		Priority *struct {
			Name string `json:"name"`
		} `json:"priority"`
		Updated     string `json:"updated"`
		Created     string `json:"created"`
		Description string `json:"description"`
		Comment     struct {
			Total int `json:"total"`
		} `json:"comment"`
	} `json:"fields"`
}

func (wi wireIssue) trim() Issue {
	issue := Issue{
		Key:     wi.Key,
		Summary: wi.Fields.Summary,
		Status:  wi.Fields.Status.Name,
		Updated: wi.Fields.Updated,
	}
	if wi.Fields.Assignee != nil {
		issue.Assignee = wi.Fields.Assignee.DisplayName
	}
	if wi.Fields.Priority != nil {
		issue.Priority = wi.Fields.Priority.Name
	}
	return issue
}

func trimUsers(wire []wireUser) []User {
	users := make([]User, 0, len(wire))
	for _, wu := range wire {
		users = append(users, User{
			AccountID:   wu.AccountID,
			DisplayName: wu.DisplayName,
			Email:       wu.EmailAddress,
		})
	}
	return users
}
