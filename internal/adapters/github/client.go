// Package github is the source-control host adapter. It covers the read-only
// queries the pipeline needs: repositories, commits, pull requests and
// contributor activity inside one organization.
package github

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
	"golang.org/x/oauth2"

	"github.com/pkonate/teampulse/internal/cache"
	"github.com/pkonate/teampulse/internal/config"
)

const defaultLimit = 30

// Client talks to the GitHub REST API for one organization.
type Client struct {
	baseURL string
	org     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	cache   *cache.Cache
	logger  *zap.Logger
}

// New builds a source host client. The token is carried by an oauth2
// transport; cache may be nil to disable caching.
func New(cfg config.GitHubConfig, c *cache.Cache, logger *zap.Logger) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), src)
		httpClient.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "github",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("source host breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL: "https://api.github.com",
		org:     cfg.Organization,
		http:    httpClient,
		breaker: breaker,
		cache:   c,
		logger:  logger,
	}
}

// Repository is the trimmed repository shape.
type Repository struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	OpenIssues  int    `json:"open_issues"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Commit is one commit with its author resolved to a login when possible.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
}

// PullRequest is the trimmed pull request shape.
type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
	MergedAt  string `json:"merged_at,omitempty"`
}

// Contributor is one repository contributor with their commit count.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// IssueRef is one repository issue (the host's issue list, not the tracker's).
type IssueRef struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
}

// Activity aggregates one author's recent commits and pull requests.
type Activity struct {
	Commits      []Commit      `json:"commits"`
	PullRequests []PullRequest `json:"pull_requests"`
}

// Repositories lists the organization's repositories.
func (c *Client) Repositories(ctx context.Context) ([]Repository, error) {
	params := url.Values{}
	params.Set("sort", "updated")
	params.Set("per_page", "100")

	var payload []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Language    string `json:"language"`
		OpenIssues  int    `json:"open_issues_count"`
		UpdatedAt   string `json:"updated_at"`
	}
	if err := c.getJSON(ctx, "/orgs/"+c.org+"/repos", params, &payload); err != nil {
		return nil, err
	}

	repos := make([]Repository, 0, len(payload))
	for _, r := range payload {
		repos = append(repos, Repository{
			Name:        r.Name,
			Description: r.Description,
			Language:    r.Language,
			OpenIssues:  r.OpenIssues,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return repos, nil
}

// RepositoryNames returns just the repository names, used by the roster
// refresh.
func (c *Client) RepositoryNames(ctx context.Context) ([]string, error) {
	repos, err := c.Repositories(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.Name)
	}
	return names, nil
}

// CommitQuery narrows a commit listing.
type CommitQuery struct {
	Repository string
	Author     string
	Since      string // YYYY-MM-DD
	Until      string // YYYY-MM-DD
	Limit      int
}

// Commits lists commits for one repository.
func (c *Client) Commits(ctx context.Context, q CommitQuery) ([]Commit, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	params := url.Values{}
	params.Set("per_page", strconv.Itoa(limit))
	if q.Author != "" {
		params.Set("author", q.Author)
	}
	if q.Since != "" {
		params.Set("since", q.Since+"T00:00:00Z")
	}
	if q.Until != "" {
		params.Set("until", q.Until+"T23:59:59Z")
	}

	var payload []wireCommit
	if err := c.getJSON(ctx, "/repos/"+c.org+"/"+q.Repository+"/commits", params, &payload); err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(payload))
	for _, wc := range payload {
		commits = append(commits, wc.trim())
	}
	return commits, nil
}

// PullRequests lists pull requests for one repository.
func (c *Client) PullRequests(ctx context.Context, repository, state string, limit int) ([]PullRequest, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if state == "" {
		state = "all"
	}

	params := url.Values{}
	params.Set("state", state)
	params.Set("sort", "updated")
	params.Set("direction", "desc")
	params.Set("per_page", strconv.Itoa(limit))

	var payload []wirePull
	if err := c.getJSON(ctx, "/repos/"+c.org+"/"+repository+"/pulls", params, &payload); err != nil {
		return nil, err
	}

	pulls := make([]PullRequest, 0, len(payload))
	for _, wp := range payload {
		pulls = append(pulls, wp.trim())
	}
	return pulls, nil
}

// RecentActivity aggregates one author's commits and pull requests across the
// organization over the last days, using the search API to avoid walking
// every repository.
func (c *Client) RecentActivity(ctx context.Context, author string, days int) (*Activity, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	activity := &Activity{}

	commitParams := url.Values{}
	commitParams.Set("q", fmt.Sprintf("org:%s author:%s committer-date:>=%s", c.org, author, since))
	commitParams.Set("sort", "committer-date")

	var commitSearch struct {
		Items []struct {
			SHA    string     `json:"sha"`
			Commit wireDetail `json:"commit"`
			Author *wireLogin `json:"author"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "/search/commits", commitParams, &commitSearch); err != nil {
		return nil, err
	}
	for _, item := range commitSearch.Items {
		commit := Commit{
			SHA:     item.SHA,
			Message: firstLine(item.Commit.Message),
			Author:  item.Commit.Author.Name,
			Date:    item.Commit.Author.Date,
		}
		if item.Author != nil {
			commit.Author = item.Author.Login
		}
		activity.Commits = append(activity.Commits, commit)
	}

	prParams := url.Values{}
	prParams.Set("q", fmt.Sprintf("org:%s type:pr author:%s created:>=%s", c.org, author, since))
	prParams.Set("sort", "created")

	var prSearch struct {
		Items []struct {
			Number    int        `json:"number"`
			Title     string     `json:"title"`
			State     string     `json:"state"`
			User      *wireLogin `json:"user"`
			CreatedAt string     `json:"created_at"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "/search/issues", prParams, &prSearch); err != nil {
		return nil, err
	}
	for _, item := range prSearch.Items {
		pr := PullRequest{
			Number:    item.Number,
			Title:     item.Title,
			State:     item.State,
			CreatedAt: item.CreatedAt,
		}
		if item.User != nil {
			pr.Author = item.User.Login
		}
		activity.PullRequests = append(activity.PullRequests, pr)
	}

	return activity, nil
}

// Contributors lists contributors of one repository by commit count.
func (c *Client) Contributors(ctx context.Context, repository string) ([]Contributor, error) {
	var payload []struct {
		Login         string `json:"login"`
		Contributions int    `json:"contributions"`
	}
	if err := c.getJSON(ctx, "/repos/"+c.org+"/"+repository+"/contributors", nil, &payload); err != nil {
		return nil, err
	}

	contributors := make([]Contributor, 0, len(payload))
	for _, p := range payload {
		contributors = append(contributors, Contributor{Login: p.Login, Contributions: p.Contributions})
	}
	return contributors, nil
}

// RepositoryIssues lists issues of one repository, excluding pull requests.
func (c *Client) RepositoryIssues(ctx context.Context, repository, state string, limit int) ([]IssueRef, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if state == "" {
		state = "open"
	}

	params := url.Values{}
	params.Set("state", state)
	params.Set("per_page", strconv.Itoa(limit))

	var payload []struct {
		Number      int        `json:"number"`
		Title       string     `json:"title"`
		State       string     `json:"state"`
		User        *wireLogin `json:"user"`
		CreatedAt   string     `json:"created_at"`
		PullRequest *struct{}  `json:"pull_request"`
	}
	if err := c.getJSON(ctx, "/repos/"+c.org+"/"+repository+"/issues", params, &payload); err != nil {
		return nil, err
	}

	issues := make([]IssueRef, 0, len(payload))
	for _, p := range payload {
		// The issues endpoint also returns pull requests.
		if p.PullRequest != nil {
			continue
		}
		issue := IssueRef{
			Number:    p.Number,
			Title:     p.Title,
			State:     p.State,
			CreatedAt: p.CreatedAt,
		}
		if p.User != nil {
			issue.Author = p.User.Login
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// getJSON performs a cached GET through the circuit breaker.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	if c.cache != nil {
		if err := c.cache.Get("github", u, out); err == nil {
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
		return fmt.Errorf("failed to decode source host response: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.Set("github", u, out); err != nil {
			c.logger.Debug("source host cache write failed", zap.Error(err))
		}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("source host API error: %s - %s", resp.Status, string(body))
	}
	return io.ReadAll(resp.Body)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// wire types mirror the fields of the upstream responses we consume.

type wireLogin struct {
	Login string `json:"login"`
}

type wireDetail struct {
	Message string `json:"message"`
	Author  struct {
		Name string `json:"name"`
		Date string `json:"date"`
	} `json:"author"`
}

type wireCommit struct {
	SHA    string     `json:"sha"`
	Commit wireDetail `json:"commit"`
	Author *wireLogin `json:"author"`
}

func (wc wireCommit) trim() Commit {
	commit := Commit{
		SHA:     wc.SHA,
		Message: firstLine(wc.Commit.Message),
		Author:  wc.Commit.Author.Name,
		Date:    wc.Commit.Author.Date,
	}
	if wc.Author != nil {
		commit.Author = wc.Author.Login
	}
	return commit
}

type wirePull struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	User      *wireLogin `json:"user"`
	CreatedAt string     `json:"created_at"`
	MergedAt  string     `json:"merged_at"`
}

func (wp wirePull) trim() PullRequest {
	pr := PullRequest{
		Number:    wp.Number,
		Title:     wp.Title,
		State:     wp.State,
		CreatedAt: wp.CreatedAt,
		MergedAt:  wp.MergedAt,
	}
	if wp.User != nil {
		pr.Author = wp.User.Login
	}
	return pr
}
