// Package agent wires the full turn pipeline: remember the question, parse it
// into a plan, execute the plan, compose a reply, remember the reply. The
// fallback loop only enters when structured parsing fails.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/compose"
	"github.com/pkonate/teampulse/internal/dispatch"
	apperrors "github.com/pkonate/teampulse/internal/errors"
	"github.com/pkonate/teampulse/internal/fallback"
	"github.com/pkonate/teampulse/internal/intent"
	"github.com/pkonate/teampulse/internal/memory"
	"github.com/pkonate/teampulse/internal/metrics"
	"github.com/pkonate/teampulse/internal/roster"
)

// Request is one user turn.
type Request struct {
	ThreadID string
	Query    string
	Title    string // optional explicit thread title
}

// Trace records how the reply was produced, for the API surface and tests.
type Trace struct {
	Intent       *intent.Record        `json:"intent,omitempty"`
	Rejection    *intent.Rejection     `json:"rejection,omitempty"`
	Results      []dispatch.ToolResult `json:"results,omitempty"`
	FallbackUsed bool                  `json:"fallback_used,omitempty"`
	GaveUp       bool                  `json:"gave_up,omitempty"`
}

// Response is the finished turn.
type Response struct {
	ThreadID     string `json:"thread_id"`
	Text         string `json:"text"`
	Trace        Trace  `json:"trace"`
	ProcessingMs int64  `json:"processing_ms"`
}

// Pipeline owns one turn end to end.
type Pipeline struct {
	store      *memory.Store
	parser     *intent.Parser
	dispatcher *dispatch.Dispatcher
	fallback   *fallback.Agent
	composer   *compose.Composer
	roster     *roster.Roster
	window     int
	logger     *zap.Logger
}

func New(store *memory.Store, parser *intent.Parser, dispatcher *dispatch.Dispatcher, fb *fallback.Agent, composer *compose.Composer, r *roster.Roster, window int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		parser:     parser,
		dispatcher: dispatcher,
		fallback:   fb,
		composer:   composer,
		roster:     r,
		window:     window,
		logger:     logger,
	}
}

// Ask runs one turn. The thread lock is held for the whole turn, so two
// requests on the same thread never interleave their history. A cancelled
// turn persists the question but never a half-made answer.
func (p *Pipeline) Ask(ctx context.Context, req Request) (*Response, error) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	var resp *Response
	err := p.store.WithThreadLock(threadID, func() error {
		r, err := p.turn(ctx, threadID, req)
		resp = r
		return err
	})
	return resp, err
}

func (p *Pipeline) turn(ctx context.Context, threadID string, req Request) (*Response, error) {
	start := time.Now()

	history, err := p.loadHistory(threadID)
	if err != nil {
		metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	if _, err := p.store.Append(threadID, memory.Message{
		Role:    memory.RoleUser,
		Content: req.Query,
	}); err != nil {
		metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}
	if req.Title != "" {
		if err := p.store.UpdateTitle(threadID, req.Title); err != nil {
			p.logger.Warn("failed to set thread title", zap.Error(err))
		}
	}

	trace, outcome, err := p.resolve(ctx, req.Query, history)
	if err != nil {
		metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	text := p.composer.Compose(ctx, compose.Input{
		Query:          req.Query,
		Intent:         trace.Intent,
		Rejection:      trace.Rejection,
		Results:        trace.Results,
		FallbackAnswer: trace.fallbackAnswer,
		GaveUp:         trace.GaveUp,
	})

	if ctx.Err() != nil {
		// Cancelled turns leave no assistant message behind.
		metrics.RecordRequest("error", time.Since(start))
		return nil, ctx.Err()
	}

	processing := time.Since(start)
	if _, err := p.store.Append(threadID, memory.Message{
		Role:         memory.RoleAssistant,
		Content:      text,
		ProcessingMs: processing.Milliseconds(),
	}); err != nil {
		metrics.RecordRequest("error", time.Since(start))
		return nil, err
	}

	metrics.RecordRequest(outcome, processing)
	p.logger.Info("turn completed",
		zap.String("thread", threadID),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", processing),
	)

	return &Response{
		ThreadID:     threadID,
		Text:         text,
		Trace:        trace.Trace,
		ProcessingMs: processing.Milliseconds(),
	}, nil
}

// turnTrace extends the public Trace with the fallback agent's draft answer,
// which feeds composition but is not part of the API surface.
type turnTrace struct {
	Trace
	fallbackAnswer string
}

func (p *Pipeline) resolve(ctx context.Context, query string, history []intent.Turn) (turnTrace, string, error) {
	teamContext := p.roster.Snapshot().PromptContext()

	outcome, err := p.parser.Parse(ctx, query, history, teamContext)
	switch {
	case err == nil && outcome.Rejection != nil:
		return turnTrace{Trace: Trace{Rejection: outcome.Rejection}}, "rejected", nil

	case err == nil:
		results := p.dispatcher.Execute(ctx, outcome.Record.Operations)
		if ctx.Err() != nil {
			return turnTrace{}, "", ctx.Err()
		}
		return turnTrace{Trace: Trace{Intent: outcome.Record, Results: results}}, "answered", nil

	case apperrors.GetCode(err) == apperrors.ErrParseFailure.Code:
		p.logger.Info("structured parsing failed, entering fallback")
		res, fbErr := p.fallback.Run(ctx, query)
		trace := turnTrace{
			Trace:          Trace{Results: res.Results, FallbackUsed: true},
			fallbackAnswer: res.Answer,
		}
		if fbErr != nil {
			if apperrors.GetCode(fbErr) == apperrors.ErrGiveUp.Code {
				trace.GaveUp = true
				return trace, "gave_up", nil
			}
			return turnTrace{}, "", fbErr
		}
		return trace, "fallback", nil

	default:
		return turnTrace{}, "", err
	}
}

// loadHistory reads the context window. A new thread simply has no messages
// yet; any error here is a real storage failure and fails the turn.
func (p *Pipeline) loadHistory(threadID string) ([]intent.Turn, error) {
	msgs, err := p.store.History(threadID, p.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	turns := make([]intent.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, intent.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}
