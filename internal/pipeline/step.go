package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Outcome is the result class of one step.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSoftFailed
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSoftFailed:
		return "soft_failed"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// StepKind decides what a failure of a step means for the run.
type StepKind int

const (
	// StepFatal aborts the run on failure.
	StepFatal StepKind = iota
	// StepSoft substitutes a fallback value and lets the run continue.
	StepSoft
)

// step describes one unit of work of a run.
type step struct {
	name    string
	kind    StepKind
	errKind Kind
}

type stepResult[T any] struct {
	value   T
	outcome Outcome
	err     *Error
}

// runStep executes fn and classifies its result. On a soft failure the
// result carries fallback; on a fatal failure the zero value.
func runStep[T any](ctx context.Context, logger *slog.Logger, s step, fallback T, fn func(context.Context) (T, error)) stepResult[T] {
	start := time.Now()
	value, err := fn(ctx)
	elapsed := time.Since(start)

	if err == nil {
		logger.Debug("step completed", "step", s.name, "duration_ms", elapsed.Milliseconds())
		return stepResult[T]{value: value, outcome: OutcomeOK}
	}

	var pe *Error
	if !errors.As(err, &pe) {
		pe = newError(s.errKind, s.name, err)
	}

	if s.kind == StepSoft {
		logger.Warn("step failed, continuing",
			"step", s.name,
			"kind", string(pe.Kind),
			"duration_ms", elapsed.Milliseconds(),
			"error", pe.Error(),
		)
		return stepResult[T]{value: fallback, outcome: OutcomeSoftFailed, err: pe}
	}

	logger.Error("step failed",
		"step", s.name,
		"kind", string(pe.Kind),
		"duration_ms", elapsed.Milliseconds(),
		"error", pe.Error(),
	)
	var zero T
	return stepResult[T]{value: zero, outcome: OutcomeFatal, err: pe}
}
