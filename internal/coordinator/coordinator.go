// Package coordinator runs one batch of condition evaluations for a segment.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/evaluator"
	"stockwatch/internal/logging"
	"stockwatch/internal/models"
	"stockwatch/internal/store"
)

// ConditionEvaluator advances one condition.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, cond models.AlertCondition, now time.Time) (evaluator.Result, error)
}

// RunOptions modifies a single batch.
type RunOptions struct {
	// Force ignores the segment's active hour and trading calendar.
	Force bool
}

// RunSummary reports a finished batch.
type RunSummary struct {
	RunID      string                 `json:"run_id" yaml:"run_id"`
	Segment    models.Segment         `json:"segment" yaml:"segment"`
	StartedAt  time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time              `json:"finished_at" yaml:"finished_at"`
	Skipped    bool                   `json:"skipped" yaml:"skipped"`
	Reason     string                 `json:"reason,omitempty" yaml:"reason,omitempty"`
	Total      int                    `json:"total" yaml:"total"`
	Processed  int                    `json:"processed" yaml:"processed"`
	Outcomes   map[models.Outcome]int `json:"outcomes" yaml:"outcomes"`
	// Errors holds the per-condition failures; they never abort the batch.
	Errors   error    `json:"-" yaml:"-"`
	Messages []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Coordinator loads a segment's active conditions and evaluates them concurrently.
type Coordinator struct {
	conditions store.ConditionStore
	evaluator  ConditionEvaluator
	schedule   *Schedule
	workers    int
	now        func() time.Time
	base       zerolog.Logger
	logger     zerolog.Logger

	evaluated metric.Int64Counter
	runs      metric.Int64Counter
}

// New creates a Coordinator. workers bounds concurrent evaluations.
func New(conditions store.ConditionStore, eval ConditionEvaluator, schedule *Schedule, workers int, logger zerolog.Logger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	if schedule == nil {
		schedule = NewSchedule(nil, nil)
	}

	c := &Coordinator{
		conditions: conditions,
		evaluator:  eval,
		schedule:   schedule,
		workers:    workers,
		now:        time.Now,
		base:       logger,
		logger:     logging.WithOperation(logger, "run_batch"),
	}

	meter := otel.Meter("stockwatch/coordinator")
	c.evaluated, _ = meter.Int64Counter("stockwatch.conditions.evaluated",
		metric.WithDescription("Conditions evaluated per outcome"),
		metric.WithUnit("{condition}"),
	)
	c.runs, _ = meter.Int64Counter("stockwatch.runs",
		metric.WithDescription("Batch invocations per segment"),
		metric.WithUnit("{run}"),
	)
	return c
}

// WithClock replaces the time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// RunBatch evaluates every active condition of segment once. Only fatal errors
// (configuration) are returned; per-condition failures are in the summary.
// Evaluations log through a context logger tagged with the run id.
func (c *Coordinator) RunBatch(ctx context.Context, segment models.Segment, opts RunOptions) (RunSummary, error) {
	runID := uuid.NewString()
	logger := logging.WithRunID(logging.WithSegment(c.logger, string(segment)), runID)
	ctx = logging.WithLogger(ctx, logging.WithRunID(logging.WithSegment(c.base, string(segment)), runID))
	now := c.now()
	summary := RunSummary{
		RunID:     runID,
		Segment:   segment,
		StartedAt: now,
		Outcomes:  make(map[models.Outcome]int),
	}

	if segment != models.SegmentDomestic && segment != models.SegmentForeign {
		return summary, apperrors.Wrapf(apperrors.ErrInvalidSegment, "segment %q", segment)
	}

	if !opts.Force {
		if skip := c.schedule.Check(segment, now); skip != nil {
			summary.Skipped = true
			summary.Reason = skip.Error()
			summary.FinishedAt = c.now()
			c.runs.Add(ctx, 1, metric.WithAttributes(
				attribute.String("segment", string(segment)),
				attribute.Bool("skipped", true),
			))
			logger.Info().Err(skip).Msg("Run skipped")
			return summary, nil
		}
	}

	conditions, err := c.conditions.ActiveConditions(ctx, segment)
	if err != nil {
		summary.FinishedAt = c.now()
		return summary, apperrors.Wrap(err, "loading active conditions")
	}
	summary.Total = len(conditions)
	logger.Info().Int("conditions", len(conditions)).Int("workers", c.workers).Msg("Run started")

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(c.workers).WithContext(ctx).WithCancelOnError()
	for _, cond := range conditions {
		cond := cond
		p.Go(func(ctx context.Context) error {
			res, err := c.evaluator.Evaluate(ctx, cond, now)

			c.evaluated.Add(ctx, 1, metric.WithAttributes(
				attribute.String("segment", string(segment)),
				attribute.String("outcome", string(res.Outcome)),
			))

			mu.Lock()
			defer mu.Unlock()
			summary.Outcomes[res.Outcome]++
			switch res.Outcome {
			case models.OutcomeAccumulate, models.OutcomeTriggered, models.OutcomeExpired:
				summary.Processed++
			}
			if err != nil {
				if apperrors.IsFatal(err) {
					return err
				}
				summary.Errors = multierr.Append(summary.Errors, apperrors.Wrapf(err, "condition %s", cond.ID))
			}
			return nil
		})
	}

	fatal := p.Wait()
	summary.FinishedAt = c.now()
	for _, e := range multierr.Errors(summary.Errors) {
		summary.Messages = append(summary.Messages, e.Error())
	}
	c.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("segment", string(segment)),
		attribute.Bool("skipped", false),
	))

	if fatal != nil {
		logger.Error().Err(fatal).Msg("Run aborted")
		return summary, fatal
	}

	logger.Info().
		Int("total", summary.Total).
		Int("processed", summary.Processed).
		Int("errors", len(summary.Messages)).
		Interface("outcomes", summary.Outcomes).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Run finished")
	return summary, nil
}
