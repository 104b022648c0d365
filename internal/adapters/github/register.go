package github

import (
	"context"

	"github.com/pkonate/teampulse/internal/catalog"
)

// Register wires the source host actions into the capability registry.
func Register(r *catalog.Registry, c *Client) error {
	descriptors := []catalog.Descriptor{
		{
			Tool:        "github",
			Action:      "get_repositories",
			Description: "List the organization's repositories",
			Params:      map[string]catalog.Param{},
			Returns:     "list of repositories with name, language, open issue count",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.Repositories(ctx)
			},
		},
		{
			Tool:        "github",
			Action:      "get_commits",
			Description: "List commits in a repository, optionally per author and time window",
			Params: map[string]catalog.Param{
				"repository": {Type: catalog.TypeString, Required: true, Description: "Repository name"},
				"author":     {Type: catalog.TypeString, Description: "Author login"},
				"since":      {Type: catalog.TypeString, Description: "On or after, YYYY-MM-DD"},
				"until":      {Type: catalog.TypeString, Description: "On or before, YYYY-MM-DD"},
				"limit":      {Type: catalog.TypeInteger, Description: "Result cap, default 30"},
			},
			Returns: "list of commits with sha, message, author, date",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.Commits(ctx, CommitQuery{
					Repository: catalog.StringValue(params, "repository"),
					Author:     catalog.StringValue(params, "author"),
					Since:      catalog.StringValue(params, "since"),
					Until:      catalog.StringValue(params, "until"),
					Limit:      catalog.IntValue(params, "limit", 0),
				})
			},
		},
		{
			Tool:        "github",
			Action:      "get_pull_requests",
			Description: "List pull requests in a repository",
			Params: map[string]catalog.Param{
				"repository": {Type: catalog.TypeString, Required: true, Description: "Repository name"},
				"state":      {Type: catalog.TypeString, Description: "open, closed or all (default all)"},
				"limit":      {Type: catalog.TypeInteger, Description: "Result cap, default 30"},
			},
			Returns: "list of pull requests with number, title, state, author",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.PullRequests(ctx,
					catalog.StringValue(params, "repository"),
					catalog.StringValue(params, "state"),
					catalog.IntValue(params, "limit", 0),
				)
			},
		},
		{
			Tool:        "github",
			Action:      "get_recent_activity",
			Description: "One author's commits and pull requests across the organization in the last N days",
			Params: map[string]catalog.Param{
				"author": {Type: catalog.TypeString, Required: true, Description: "Author login"},
				"days":   {Type: catalog.TypeInteger, Description: "Lookback window, default 7"},
			},
			Returns: "commits and pull requests grouped by kind",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.RecentActivity(ctx,
					catalog.StringValue(params, "author"),
					catalog.IntValue(params, "days", 7),
				)
			},
		},
		{
			Tool:        "github",
			Action:      "get_repository_contributors",
			Description: "List contributors of a repository by commit count",
			Params: map[string]catalog.Param{
				"repository": {Type: catalog.TypeString, Required: true, Description: "Repository name"},
			},
			Returns: "list of contributors with login and contribution count",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.Contributors(ctx, catalog.StringValue(params, "repository"))
			},
		},
		{
			Tool:        "github",
			Action:      "get_repository_issues",
			Description: "List a repository's issues on the source host",
			Params: map[string]catalog.Param{
				"repository": {Type: catalog.TypeString, Required: true, Description: "Repository name"},
				"state":      {Type: catalog.TypeString, Description: "open, closed or all (default open)"},
				"limit":      {Type: catalog.TypeInteger, Description: "Result cap, default 30"},
			},
			Returns: "list of issues with number, title, state, author",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.RepositoryIssues(ctx,
					catalog.StringValue(params, "repository"),
					catalog.StringValue(params, "state"),
					catalog.IntValue(params, "limit", 0),
				)
			},
		},
	}

	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}
