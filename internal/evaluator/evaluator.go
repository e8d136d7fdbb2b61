// Package evaluator advances one alert condition per scheduled run.
//
// Each evaluation fetches a quote, adds its daily change to the condition's
// cumulative rate and takes exactly one transition:
//
//	ACCUMULATE   threshold not crossed, window open: store the new rate
//	TRIGGERED    threshold crossed: record + push, then reset the window
//	EXPIRED      not crossed, window end date reached: reset without notifying
//	FETCH_FAILED quote unavailable: no write at all
//
// Crossing wins over expiry when both hold on the same run. Every write is a
// compare-and-set on the condition version read at the start of the run.
package evaluator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/logging"
	"stockwatch/internal/models"
	"stockwatch/internal/notify"
	"stockwatch/internal/quote"
	"stockwatch/internal/store"
	"stockwatch/pkg/utils"
)

// AlertDispatcher records and delivers a fired alert.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, a notify.Alert) (notify.DeliveryOutcome, error)
}

// Decision is the pure outcome of combining a condition with a quote.
type Decision struct {
	Outcome      models.Outcome
	PreviousRate decimal.Decimal
	DailyRate    decimal.Decimal
	NewRate      decimal.Decimal // rate observed this run, before any reset
	WindowStart  time.Time       // window after the transition
	WindowEnd    time.Time
}

// Decide computes the transition for cond given q at now. Expiry compares
// calendar dates in now's location.
func Decide(cond models.AlertCondition, q models.Quote, now time.Time) Decision {
	d := Decision{
		PreviousRate: cond.CumulativeChangeRate,
		DailyRate:    q.DailyChangeRate,
		NewRate:      cond.CumulativeChangeRate.Add(q.DailyChangeRate),
		WindowStart:  cond.TrackingStartedAt,
		WindowEnd:    cond.TrackingEndedAt,
	}

	switch {
	case cond.Crossed(d.NewRate):
		d.Outcome = models.OutcomeTriggered
	case cond.Expired(now, now.Location()):
		d.Outcome = models.OutcomeExpired
	default:
		d.Outcome = models.OutcomeAccumulate
		return d
	}

	d.WindowStart = now
	d.WindowEnd = models.WindowEnd(now, cond.PeriodDays)
	return d
}

// Result reports what happened to one condition.
type Result struct {
	ConditionID string
	Ticker      string
	Outcome     models.Outcome
	Decision    Decision
	Delivery    *notify.DeliveryOutcome
}

// Options configures an Evaluator.
type Options struct {
	QuoteTimeout time.Duration
	// QuoteRetry bounds extra attempts inside one run; MaxAttempts 1 leaves
	// recovery to the next scheduled run.
	QuoteRetry utils.RetryConfig
	Location   *time.Location
}

// Evaluator runs the per-condition state machine.
type Evaluator struct {
	conditions store.ConditionStore
	quotes     quote.Fetcher
	dispatcher AlertDispatcher
	opts       Options
	logger     zerolog.Logger
}

// New creates an Evaluator.
func New(conditions store.ConditionStore, quotes quote.Fetcher, dispatcher AlertDispatcher, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 5 * time.Second
	}
	if opts.QuoteRetry.MaxAttempts < 1 {
		opts.QuoteRetry.MaxAttempts = 1
	}
	if opts.QuoteRetry.Retryable == nil {
		opts.QuoteRetry.Retryable = quote.IsRetryable
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Evaluator{
		conditions: conditions,
		quotes:     quotes,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
}

// Evaluate advances cond by one run. The error is non-nil for fetch failures,
// failed writes and fatal configuration problems; a lost compare-and-set is
// reported as OutcomeConflict with a nil error.
func (e *Evaluator) Evaluate(ctx context.Context, cond models.AlertCondition, now time.Time) (Result, error) {
	now = now.In(e.opts.Location)
	ticker := cond.Subscription.StockCode
	logger := logging.WithCondition(logging.FromContext(ctx, e.logger), cond.ID, ticker)
	res := Result{ConditionID: cond.ID, Ticker: ticker}

	if err := cond.Validate(); err != nil {
		res.Outcome = models.OutcomeInvalid
		logger.Error().Err(err).Msg("Skipping invalid condition")
		return res, err
	}

	q, err := utils.RetryWithResult(ctx, e.opts.QuoteRetry, func() (models.Quote, error) {
		qctx, cancel := context.WithTimeout(ctx, e.opts.QuoteTimeout)
		defer cancel()
		return e.quotes.FetchQuote(qctx, cond.Subscription.QuoteEndpoint, ticker)
	})
	if err != nil {
		res.Outcome = models.OutcomeFetchFailed
		logger.Warn().Err(err).Str("outcome", string(res.Outcome)).Msg("Quote unavailable, condition left untouched")
		return res, err
	}

	d := Decide(cond, q, now)
	res.Decision = d
	res.Outcome = d.Outcome

	switch d.Outcome {
	case models.OutcomeAccumulate:
		err = e.conditions.Accumulate(ctx, cond.ID, cond.Version, d.NewRate, now)

	case models.OutcomeTriggered:
		delivery, derr := e.dispatcher.Dispatch(ctx, notify.Alert{
			Condition:      cond,
			Quote:          q,
			CumulativeRate: d.NewRate,
			TriggeredAt:    now,
		})
		res.Delivery = &delivery
		if derr != nil {
			if apperrors.IsFatal(derr) {
				return res, derr
			}
			// Not recorded: keep the pre-evaluation state so the next run retries.
			res.Outcome = models.OutcomeWriteFailed
			logger.Error().Err(derr).Msg("Notification record failed, condition not reset")
			return res, derr
		}
		err = e.conditions.ResetWindow(ctx, cond.ID, cond.Version, d.WindowStart, d.WindowEnd, now)

	case models.OutcomeExpired:
		err = e.conditions.ResetWindow(ctx, cond.ID, cond.Version, d.WindowStart, d.WindowEnd, now)
	}

	if err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			logger.Info().Str("decided", string(d.Outcome)).Msg("Condition changed by another run, skipping")
			res.Outcome = models.OutcomeConflict
			return res, nil
		}
		logger.Error().Err(err).Str("decided", string(d.Outcome)).Msg("Condition write failed")
		res.Outcome = models.OutcomeWriteFailed
		return res, err
	}

	logging.LogTransition(logger, string(d.Outcome),
		d.PreviousRate.StringFixed(2), d.DailyRate.StringFixed(2), d.NewRate.StringFixed(2))
	return res, nil
}
