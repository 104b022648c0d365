// Package compose turns raw tool results into the reply the user reads. One
// inference call phrases the results; when that call fails a deterministic
// template takes over, so the pipeline always produces text. Failed
// operations are never silently dropped from the reply.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/dispatch"
	"github.com/pkonate/teampulse/internal/intent"
	"github.com/pkonate/teampulse/internal/llm"
	"github.com/pkonate/teampulse/internal/metrics"
)

const maxResultChars = 4000

const composeContract = `You summarize engineering activity data for a teammate. Write a concise,
direct answer to their question from the tool results below.

Rules:
- Use only the data in the results. Never invent issues, commits or people.
- Explicitly mention every operation that failed or timed out, and answer
  from whatever partial data succeeded.
- Plain text, no markdown tables.`

// Input is everything the composer may draw on for one turn.
type Input struct {
	Query          string
	Intent         *intent.Record
	Rejection      *intent.Rejection
	Results        []dispatch.ToolResult
	FallbackAnswer string
	GaveUp         bool
}

// Composer renders the final reply.
type Composer struct {
	gateway llm.Gateway
	logger  *zap.Logger
}

func New(gateway llm.Gateway, logger *zap.Logger) *Composer {
	return &Composer{gateway: gateway, logger: logger}
}

// Compose produces the reply text. It never returns an error: every path has
// a deterministic rendering to fall back on.
func (c *Composer) Compose(ctx context.Context, in Input) string {
	switch {
	case in.Rejection != nil:
		return rejectionText(in.Rejection)
	case in.GaveUp:
		return gaveUpText(in.Results)
	case in.FallbackAnswer != "":
		return withFailureNotes(in.FallbackAnswer, in.Results)
	}

	text, err := c.phrase(ctx, in)
	if err != nil {
		c.logger.Warn("compose inference failed, using template", zap.Error(err))
		return templateText(in.Results)
	}
	return text
}

func (c *Composer) phrase(ctx context.Context, in Input) (string, error) {
	data, err := json.Marshal(in.Results)
	if err != nil {
		return "", fmt.Errorf("failed to encode results: %w", err)
	}
	body := string(data)
	if len(body) > maxResultChars {
		body = body[:maxResultChars] + "...(truncated)"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", in.Query)
	if in.Intent != nil && in.Intent.TimeRange.Label != "" {
		fmt.Fprintf(&sb, "Time range: %s\n", in.Intent.TimeRange.Label)
	}
	fmt.Fprintf(&sb, "\nTool results:\n%s", body)

	start := time.Now()
	text, err := c.gateway.Complete(ctx, llm.Request{
		System: composeContract,
		Prompt: sb.String(),
	})
	metrics.RecordInference("compose", time.Since(start))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func rejectionText(r *intent.Rejection) string {
	return fmt.Sprintf(
		"I can only answer questions about the team's engineering activity: issues, projects, commits, pull requests and members. (%s)",
		r.Reason,
	)
}

func gaveUpText(results []dispatch.ToolResult) string {
	var sb strings.Builder
	sb.WriteString("I couldn't work out a reliable answer to that question.")
	if n := len(results); n > 0 {
		fmt.Fprintf(&sb, " I tried %d lookup(s) along the way", n)
		if failed := len(dispatch.Failures(results)); failed > 0 {
			fmt.Fprintf(&sb, ", %d of which failed", failed)
		}
		sb.WriteString(".")
	}
	sb.WriteString(" Try rephrasing, or narrowing it to a person, project or time range.")
	return sb.String()
}

// withFailureNotes appends failure mentions to an answer the fallback agent
// already drafted.
func withFailureNotes(answer string, results []dispatch.ToolResult) string {
	failures := dispatch.Failures(results)
	if len(failures) == 0 {
		return answer
	}
	var sb strings.Builder
	sb.WriteString(answer)
	sb.WriteString("\n\nNote: ")
	sb.WriteString(failureSentence(failures))
	return sb.String()
}

// templateText renders results without inference. Terse but complete: every
// result is accounted for.
func templateText(results []dispatch.ToolResult) string {
	if len(results) == 0 {
		return "No data was gathered for that question."
	}

	var sb strings.Builder
	sb.WriteString("Here is what I found:\n")
	for _, r := range results {
		if !r.Success {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", r.Operation, summarizePayload(r.Payload))
	}
	if failures := dispatch.Failures(results); len(failures) > 0 {
		sb.WriteString("\n")
		sb.WriteString(failureSentence(failures))
	}
	return strings.TrimSpace(sb.String())
}

func failureSentence(failures []dispatch.ToolResult) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		switch f.Kind {
		case dispatch.KindTimeout:
			parts = append(parts, fmt.Sprintf("%s timed out", f.Operation))
		case dispatch.KindValidation:
			parts = append(parts, fmt.Sprintf("%s was rejected as invalid", f.Operation))
		default:
			parts = append(parts, fmt.Sprintf("%s failed", f.Operation))
		}
	}
	return "Some lookups did not complete: " + strings.Join(parts, "; ") + "."
}

func summarizePayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "no data"
	case string:
		return v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "data unavailable"
	}
	// Lists read better as counts in the template rendering.
	var list []any
	if json.Unmarshal(data, &list) == nil {
		return fmt.Sprintf("%d result(s)", len(list))
	}
	body := string(data)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return body
}
