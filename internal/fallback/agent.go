// Package fallback is the second line of planning: a bounded reason-act loop
// used when the structured intent parser cannot produce a plan. Each step asks
// the model for one operation or a final answer, executes it, and feeds the
// observation back.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/catalog"
	"github.com/pkonate/teampulse/internal/dispatch"
	apperrors "github.com/pkonate/teampulse/internal/errors"
	"github.com/pkonate/teampulse/internal/llm"
	"github.com/pkonate/teampulse/internal/metrics"
)

const maxObservationChars = 2000

const stepContract = `You answer questions about a software team's engineering activity by
calling tools one at a time. Respond with ONLY a JSON object, no prose.

To call a tool:
{"done": false, "operation": {"tool": "<tool>", "action": "<action>", "filters": {...}}}

When you have enough information to answer:
{"done": true, "answer": "<the answer>"}

Rules:
- Only use tools and actions from the capability list, with the declared
  parameters.
- One operation per step. Use earlier observations before asking for more.
- Do not add fields beyond the ones shown above.`

// Agent drives the reason-act loop.
type Agent struct {
	gateway    llm.Gateway
	dispatcher *dispatch.Dispatcher
	registry   *catalog.Registry
	maxSteps   int
	maxInvalid int
	logger     *zap.Logger
}

// Result carries whatever the loop produced before finishing: executed
// operation results and, when the model declared itself done, a draft answer.
type Result struct {
	Results []dispatch.ToolResult
	Answer  string
	Steps   int
}

// New builds a fallback agent. maxSteps is the hard ceiling on loop
// iterations; maxInvalid ends the loop early after that many consecutive
// unusable model responses.
func New(gateway llm.Gateway, dispatcher *dispatch.Dispatcher, registry *catalog.Registry, maxSteps, maxInvalid int, logger *zap.Logger) *Agent {
	return &Agent{
		gateway:    gateway,
		dispatcher: dispatcher,
		registry:   registry,
		maxSteps:   maxSteps,
		maxInvalid: maxInvalid,
		logger:     logger,
	}
}

type wireStep struct {
	Done      bool   `json:"done"`
	Answer    string `json:"answer"`
	Operation *struct {
		Tool    string         `json:"tool"`
		Action  string         `json:"action"`
		Filters map[string]any `json:"filters"`
	} `json:"operation"`
}

// Run executes the loop for one query. It terminates on a done step, on
// context cancellation, or by giving up: ErrGiveUp carries everything
// gathered so far so the composer can still acknowledge the failure honestly.
func (a *Agent) Run(ctx context.Context, query string) (Result, error) {
	system := stepContract + "\n\nAvailable capabilities:\n" + a.registry.Manifest()

	var observations []string
	result := Result{}
	invalidStreak := 0

	for step := 1; step <= a.maxSteps; step++ {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		result.Steps = step
		metrics.RecordFallbackStep()

		start := time.Now()
		raw, err := a.gateway.Complete(ctx, llm.Request{
			System:    system,
			Prompt:    stepPrompt(query, observations),
			ForceJSON: true,
		})
		metrics.RecordInference("fallback", time.Since(start))
		if err != nil {
			return result, fmt.Errorf("fallback inference failed: %w", err)
		}

		parsed, err := decodeStep(raw)
		if err != nil {
			invalidStreak++
			a.logger.Debug("fallback step invalid",
				zap.Int("step", step),
				zap.Int("streak", invalidStreak),
				zap.Error(err),
			)
			if invalidStreak >= a.maxInvalid {
				return result, giveUp(fmt.Errorf("%d consecutive invalid steps: %w", invalidStreak, err))
			}
			observations = append(observations, fmt.Sprintf("Step %d: your response was invalid: %v", step, err))
			continue
		}

		if parsed.Done {
			result.Answer = parsed.Answer
			a.logger.Info("fallback answered", zap.Int("steps", step))
			return result, nil
		}

		op := catalog.Operation{
			Tool:    parsed.Operation.Tool,
			Action:  parsed.Operation.Action,
			Filters: parsed.Operation.Filters,
		}
		res := a.dispatcher.ExecuteOne(ctx, op)
		result.Results = append(result.Results, res)

		if res.Kind == dispatch.KindValidation {
			invalidStreak++
			if invalidStreak >= a.maxInvalid {
				return result, giveUp(fmt.Errorf("%d consecutive rejected operations", invalidStreak))
			}
		} else {
			invalidStreak = 0
		}

		observations = append(observations, observe(step, res))
	}

	return result, giveUp(fmt.Errorf("no answer after %d steps", a.maxSteps))
}

func stepPrompt(query string, observations []string) string {
	if len(observations) == 0 {
		return fmt.Sprintf("Question: %s", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nObservations so far:\n", query)
	for _, o := range observations {
		sb.WriteString(o)
		sb.WriteString("\n")
	}
	sb.WriteString("\nNext step:")
	return sb.String()
}

func decodeStep(raw string) (wireStep, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}

	// Same closed schema as the intent parser: undeclared fields are invalid.
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()

	var step wireStep
	if err := dec.Decode(&step); err != nil {
		return wireStep{}, fmt.Errorf("response is not a valid step object: %w", err)
	}
	if step.Done {
		if step.Answer == "" {
			return wireStep{}, fmt.Errorf("done step has no answer")
		}
		return step, nil
	}
	if step.Operation == nil || step.Operation.Tool == "" || step.Operation.Action == "" {
		return wireStep{}, fmt.Errorf("step has neither answer nor operation")
	}
	return step, nil
}

func observe(step int, res dispatch.ToolResult) string {
	if !res.Success {
		return fmt.Sprintf("Step %d: %s failed (%s): %s", step, res.Operation, res.Kind, res.Error)
	}
	payload, err := json.Marshal(res.Payload)
	if err != nil {
		return fmt.Sprintf("Step %d: %s succeeded (unencodable payload)", step, res.Operation)
	}
	body := string(payload)
	if len(body) > maxObservationChars {
		body = body[:maxObservationChars] + "...(truncated)"
	}
	return fmt.Sprintf("Step %d: %s returned: %s", step, res.Operation, body)
}

func giveUp(cause error) error {
	return apperrors.Wrap(cause, apperrors.ErrGiveUp.Code, apperrors.ErrGiveUp.Message)
}
