package jira

import (
	"context"

	"github.com/pkonate/teampulse/internal/catalog"
)

// Register wires the tracker actions into the capability registry.
func Register(r *catalog.Registry, c *Client) error {
	descriptors := []catalog.Descriptor{
		{
			Tool:        "jira",
			Action:      "search_issues",
			Description: "Search issues by assignee, project, status and time window",
			Params: map[string]catalog.Param{
				"assignee":    {Type: catalog.TypeString, Description: "Assignee account or email"},
				"project":     {Type: catalog.TypeString, Description: "Project key"},
				"status":      {Type: catalog.TypeString, Description: "Issue status name"},
				"start":       {Type: catalog.TypeString, Description: "Updated on or after, YYYY-MM-DD"},
				"end":         {Type: catalog.TypeString, Description: "Updated on or before, YYYY-MM-DD"},
				"max_results": {Type: catalog.TypeInteger, Description: "Result cap, default 50"},
			},
			Returns: "list of issues with key, summary, status, assignee",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.SearchIssues(ctx, SearchQuery{
					Assignee:   catalog.StringValue(params, "assignee"),
					Project:    catalog.StringValue(params, "project"),
					Status:     catalog.StringValue(params, "status"),
					Start:      catalog.StringValue(params, "start"),
					End:        catalog.StringValue(params, "end"),
					MaxResults: catalog.IntValue(params, "max_results", 0),
				})
			},
		},
		{
			Tool:        "jira",
			Action:      "get_recent_activity",
			Description: "Issues touched in the last N days, optionally per assignee or project",
			Params: map[string]catalog.Param{
				"assignee": {Type: catalog.TypeString, Description: "Assignee account or email"},
				"project":  {Type: catalog.TypeString, Description: "Project key"},
				"days":     {Type: catalog.TypeInteger, Description: "Lookback window, default 7"},
			},
			Returns: "list of recently updated issues",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.RecentActivity(ctx,
					catalog.StringValue(params, "assignee"),
					catalog.StringValue(params, "project"),
					catalog.IntValue(params, "days", 7),
				)
			},
		},
		{
			Tool:        "jira",
			Action:      "get_projects",
			Description: "List all tracker projects",
			Params:      map[string]catalog.Param{},
			Returns:     "list of projects with key and name",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.Projects(ctx)
			},
		},
		{
			Tool:        "jira",
			Action:      "get_project_users",
			Description: "List accounts assignable in a project",
			Params: map[string]catalog.Param{
				"project": {Type: catalog.TypeString, Required: true, Description: "Project key"},
			},
			Returns: "list of users with account id and display name",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.ProjectUsers(ctx, catalog.StringValue(params, "project"))
			},
		},
		{
			Tool:        "jira",
			Action:      "search_users",
			Description: "Find tracker accounts by name or email",
			Params: map[string]catalog.Param{
				"query": {Type: catalog.TypeString, Required: true, Description: "Name or email fragment"},
			},
			Returns: "list of matching users",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.SearchUsers(ctx, catalog.StringValue(params, "query"))
			},
		},
		{
			Tool:        "jira",
			Action:      "get_issue_details",
			Description: "Full detail for one issue, including description and comment count",
			Params: map[string]catalog.Param{
				"issue_key": {Type: catalog.TypeString, Required: true, Description: "Issue key, e.g. PROJ-123"},
			},
			Returns: "issue with description, reporter, created date, comment count",
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return c.IssueDetails(ctx, catalog.StringValue(params, "issue_key"))
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
