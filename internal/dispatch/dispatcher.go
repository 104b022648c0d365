// Package dispatch executes a validated operation plan against the capability
// catalog. Its job is fan-out, per-operation bounding, and order-preserving
// collection; retries belong to the adapters, not here.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pkonate/teampulse/internal/catalog"
	apperrors "github.com/pkonate/teampulse/internal/errors"
	"github.com/pkonate/teampulse/internal/metrics"
)

// ErrorKind classifies a failed ToolResult so composition can phrase a timeout
// differently from an outright failure.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindError      ErrorKind = "error"
)

// ToolResult is the outcome of executing one Operation.
type ToolResult struct {
	Operation catalog.Operation `json:"operation"`
	Success   bool              `json:"success"`
	Payload   any               `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
	Kind      ErrorKind         `json:"kind,omitempty"`
	Elapsed   time.Duration     `json:"elapsed_ms"`
}

// Dispatcher runs operation plans against the catalog.
type Dispatcher struct {
	registry  *catalog.Registry
	opTimeout time.Duration
	logger    *zap.Logger
}

func New(registry *catalog.Registry, opTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// Execute runs the plan. Operations run concurrently, each under its own
// timeout; results come back in plan order regardless of completion order.
// One operation's failure never aborts its siblings.
func (d *Dispatcher) Execute(ctx context.Context, plan []catalog.Operation) []ToolResult {
	results := make([]ToolResult, len(plan))

	var wg sync.WaitGroup
	for i, op := range plan {
		wg.Add(1)
		go func(i int, op catalog.Operation) {
			defer wg.Done()
			results[i] = d.ExecuteOne(ctx, op)
		}(i, op)
	}
	wg.Wait()

	return results
}

// ExecuteOne validates and runs a single operation. Validation failures are
// reported without consuming external-call budget. The fallback agent reuses
// this path so validation semantics stay identical in both modes.
func (d *Dispatcher) ExecuteOne(ctx context.Context, op catalog.Operation) ToolResult {
	start := time.Now()

	if err := d.registry.Validate(op); err != nil {
		d.logger.Warn("operation rejected",
			zap.String("operation", op.String()),
			zap.Error(err),
		)
		metrics.RecordOperation(op.Tool, "validation_error")
		return ToolResult{
			Operation: op,
			Success:   false,
			Error:     err.Error(),
			Kind:      KindValidation,
			Elapsed:   time.Since(start),
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	payload, err := d.registry.Execute(opCtx, op)
	elapsed := time.Since(start)

	if err != nil {
		kind := KindError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
			err = apperrors.Wrap(err, apperrors.ErrOperationTimeout.Code, apperrors.ErrOperationTimeout.Message)
		}
		d.logger.Warn("operation failed",
			zap.String("operation", op.String()),
			zap.String("kind", string(kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		metrics.RecordOperation(op.Tool, string(kind))
		return ToolResult{
			Operation: op,
			Success:   false,
			Error:     err.Error(),
			Kind:      kind,
			Elapsed:   elapsed,
		}
	}

	d.logger.Debug("operation completed",
		zap.String("operation", op.String()),
		zap.Duration("elapsed", elapsed),
	)
	metrics.RecordOperation(op.Tool, "ok")
	return ToolResult{
		Operation: op,
		Success:   true,
		Payload:   payload,
		Elapsed:   elapsed,
	}
}

// Failures returns the subset of results that did not succeed.
func Failures(results []ToolResult) []ToolResult {
	var out []ToolResult
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
