// Package intent turns free-form queries into validated execution plans. The
// model output is untrusted text: everything it produces is decoded strictly
// and checked before anything downstream sees it.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/catalog"
	apperrors "github.com/pkonate/teampulse/internal/errors"
	"github.com/pkonate/teampulse/internal/llm"
	"github.com/pkonate/teampulse/internal/metrics"
)

// Outcome is the parser's verdict for one query: exactly one of Record or
// Rejection is set.
type Outcome struct {
	Record    *Record
	Rejection *Rejection
}

// Parser drives the relevance gate and plan extraction through the gateway.
type Parser struct {
	gateway  llm.Gateway
	registry *catalog.Registry
	retries  int
	window   int
	logger   *zap.Logger
	now      func() time.Time
}

// Option mutates parser construction.
type Option func(*Parser)

// WithClock overrides the wall clock, used to pin dates in tests.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// NewParser builds a parser. retries is the number of corrective re-prompts
// after an invalid response; window caps how many history turns reach the
// prompt.
func NewParser(gateway llm.Gateway, registry *catalog.Registry, retries, window int, logger *zap.Logger, opts ...Option) *Parser {
	p := &Parser{
		gateway:  gateway,
		registry: registry,
		retries:  retries,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse classifies the query and, when relevant, extracts its execution plan.
// An invalid model response earns one corrective re-prompt per configured
// retry; when the budget is spent the parser reports ErrParseFailure rather
// than guessing.
func (p *Parser) Parse(ctx context.Context, query string, history []Turn, teamContext string) (Outcome, error) {
	if p.window > 0 && len(history) > p.window {
		history = history[len(history)-p.window:]
	}

	system := SystemPrompt(p.registry.Manifest(), teamContext, p.now())
	prompt := UserPrompt(query, history)

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordParseRetry()
			prompt = correctivePrompt(query, history, lastErr)
			p.logger.Debug("re-prompting after invalid plan",
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}

		start := time.Now()
		raw, err := p.gateway.Complete(ctx, llm.Request{
			System:    system,
			Prompt:    prompt,
			ForceJSON: true,
		})
		metrics.RecordInference("parse", time.Since(start))
		if err != nil {
			// Gateway failure is not a malformed plan; retrying with a
			// corrective prompt would not help.
			return Outcome{}, fmt.Errorf("intent inference failed: %w", err)
		}

		outcome, err := decode(raw)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
	}

	metrics.RecordParseFailure()
	p.logger.Warn("intent parsing failed after retries", zap.Error(lastErr))
	return Outcome{}, apperrors.Wrap(lastErr, apperrors.ErrParseFailure.Code, apperrors.ErrParseFailure.Message)
}

func correctivePrompt(query string, history []Turn, cause error) string {
	return fmt.Sprintf(
		"%s\n\nYour previous response was invalid: %v\nRespond again with only the JSON object described in the instructions.",
		UserPrompt(query, history), cause,
	)
}

// decode strictly parses the model output into an Outcome. The field set is
// closed: unknown fields, a missing relevance flag, or a relevant plan with
// no operations all fail decoding.
func decode(raw string) (Outcome, error) {
	cleaned := stripFences(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()

	var wire wireResponse
	if err := dec.Decode(&wire); err != nil {
		return Outcome{}, fmt.Errorf("response is not a valid plan object: %w", err)
	}

	if wire.IsRelevant == nil {
		return Outcome{}, fmt.Errorf("response missing is_relevant flag")
	}

	if !*wire.IsRelevant {
		reason := "the query is outside the team activity domain"
		if wire.Error != nil && wire.Error.Reasoning != "" {
			reason = wire.Error.Reasoning
		}
		return Outcome{Rejection: &Rejection{Reason: reason}}, nil
	}

	if len(wire.Operations) == 0 {
		return Outcome{}, fmt.Errorf("relevant plan has no operations")
	}

	rec := Record{
		Intent:       wire.Intent,
		Members:      wire.Members,
		Projects:     wire.Projects,
		Repositories: wire.Repositories,
	}
	if wire.TimeRange != nil {
		rec.TimeRange = *wire.TimeRange
	}

	for i, op := range wire.Operations {
		if op.Tool == "" || op.Action == "" {
			return Outcome{}, fmt.Errorf("operation %d missing tool or action", i)
		}
		rec.Operations = append(rec.Operations, catalog.Operation{
			Tool:    op.Tool,
			Action:  op.Action,
			Filters: op.Filters,
		})
	}

	return Outcome{Record: &rec}, nil
}

// stripFences tolerates models that wrap JSON in markdown fences despite the
// instructions.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
