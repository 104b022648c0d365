package intent

import (
	"github.com/pkonate/teampulse/internal/catalog"
)

// TimeRange is the resolved time window a query refers to. Start and End are
// RFC 3339 dates when the model can pin them down; Label always carries the
// colloquial phrasing ("last week", "this month").
type TimeRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Label string `json:"label,omitempty"`
}

// Record is a validated, self-contained execution plan for one query.
// Pronouns and elisions are already resolved against conversation history;
// nothing downstream needs the original wording. Records live for a single
// turn and are never persisted.
type Record struct {
	Intent       string              `json:"intent"`
	Operations   []catalog.Operation `json:"operations"`
	Members      []string            `json:"members,omitempty"`
	Projects     []string            `json:"projects,omitempty"`
	Repositories []string            `json:"repositories,omitempty"`
	TimeRange    TimeRange           `json:"time_range"`
}

// Rejection is the relevance gate's verdict for an out-of-domain query. It is
// an answer, not an error: no operations are ever emitted for it.
type Rejection struct {
	Reason string `json:"reason"`
}

// Turn is one prior message of conversation context.
type Turn struct {
	Role    string
	Content string
}

// wire types mirror the JSON object the model is instructed to produce.
// Decoding is strict: any field outside this set is a validation failure.

type wireResponse struct {
	IsRelevant   *bool           `json:"is_relevant"`
	Intent       string          `json:"intent"`
	Operations   []wireOperation `json:"operations"`
	Members      []string        `json:"members"`
	Projects     []string        `json:"projects"`
	Repositories []string        `json:"repositories"`
	TimeRange    *TimeRange      `json:"time_range"`
	Error        *wireError      `json:"error"`
}

type wireOperation struct {
	Tool    string         `json:"tool"`
	Action  string         `json:"action"`
	Filters map[string]any `json:"filters"`
}

type wireError struct {
	Error     string `json:"error"`
	Reasoning string `json:"reasoning"`
}
