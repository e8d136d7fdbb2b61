// Package notify records fired alerts and pushes them to the owner's devices.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/logging"
	"stockwatch/internal/models"
	"stockwatch/internal/resilience"
	"stockwatch/internal/store"
	"stockwatch/pkg/utils"
)

// DefaultTitle is the push notification title.
const DefaultTitle = "Stock alert"

// Pusher delivers one message to one device.
type Pusher interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

// Alert is a threshold crossing to be recorded and delivered.
type Alert struct {
	Condition      models.AlertCondition
	Quote          models.Quote
	CumulativeRate decimal.Decimal
	TriggeredAt    time.Time
}

// DeliveryOutcome summarises one Dispatch call.
type DeliveryOutcome struct {
	RecordID        string
	AlreadyRecorded bool // idempotency key existed; push skipped
	Devices         int
	Delivered       int
	// DeviceErrors aggregates per-device failures. It never makes Dispatch fail.
	DeviceErrors error
}

// Options configures a Dispatcher.
type Options struct {
	Title       string
	PushTimeout time.Duration
	Breaker     *resilience.CircuitBreaker // optional
	NewID       func() string
}

// Dispatcher writes the notification record first, then pushes to every active
// device of the user, continuing past individual failures.
type Dispatcher struct {
	notifications store.NotificationStore
	devices       store.DeviceTokenStore
	pusher        Pusher
	opts          Options
	logger        zerolog.Logger

	sent   metric.Int64Counter
	failed metric.Int64Counter
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(notifications store.NotificationStore, devices store.DeviceTokenStore, pusher Pusher, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 5 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}

	d := &Dispatcher{
		notifications: notifications,
		devices:       devices,
		pusher:        pusher,
		opts:          opts,
		logger:        logger,
	}

	meter := otel.Meter("stockwatch/notify")
	d.sent, _ = meter.Int64Counter("stockwatch.notifications.sent",
		metric.WithDescription("Push messages accepted by the push service"),
		metric.WithUnit("{message}"),
	)
	d.failed, _ = meter.Int64Counter("stockwatch.notifications.failed",
		metric.WithDescription("Push messages that could not be delivered"),
		metric.WithUnit("{message}"),
	)
	return d
}

// FormatMessage builds the push title and body for an alert, e.g.
// "Samsung Electronics (+2.50%) cumulative +5.50% / 3d".
func FormatMessage(a Alert) (title, body string) {
	name := a.Condition.Subscription.StockName
	if name == "" {
		name = a.Quote.Name
	}
	if name == "" {
		name = a.Condition.Subscription.StockCode
	}
	body = fmt.Sprintf("%s (%s) cumulative %s / %dd",
		name,
		utils.FormatPercent(a.Quote.DailyChangeRate),
		utils.FormatPercent(a.CumulativeRate),
		a.Condition.PeriodDays,
	)
	return DefaultTitle, body
}

// Dispatch records the alert and delivers it. The returned error is non-nil only
// when the record could not be written, or when push credentials turn out to be
// unusable (fatal). A record that already exists for this window is reported
// through AlreadyRecorded and is not pushed again.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) (DeliveryOutcome, error) {
	cond := a.Condition
	logger := logging.WithCondition(
		logging.WithOperation(logging.FromContext(ctx, d.logger), "dispatch"),
		cond.ID, cond.Subscription.StockCode)

	rec := models.NotificationRecord{
		ID:                   d.opts.NewID(),
		UserID:               cond.Subscription.UserID,
		SubscriptionID:       cond.SubscriptionID,
		ConditionID:          cond.ID,
		TriggeredPrice:       a.Quote.ClosePrice,
		CumulativeChangeRate: a.CumulativeRate,
		SentAt:               a.TriggeredAt,
		IdempotencyKey:       cond.IdempotencyKey(),
	}

	outcome := DeliveryOutcome{RecordID: rec.ID}
	if err := d.notifications.InsertNotification(ctx, rec); err != nil {
		if apperrors.Is(err, apperrors.ErrDuplicateNotification) {
			logger.Info().Str("idempotency_key", rec.IdempotencyKey).Msg("Alert already recorded for this window, skipping push")
			outcome.AlreadyRecorded = true
			return outcome, nil
		}
		return outcome, err
	}
	logging.LogAlert(logger, cond.ID, cond.Subscription.StockCode, string(cond.Type),
		utils.FormatPrice(a.Quote.ClosePrice), utils.FormatPercent(a.CumulativeRate))

	tokens, err := d.devices.ActiveDeviceTokens(ctx, rec.UserID)
	if err != nil {
		// The alert is durably recorded; a failed lookup only loses the push.
		logger.Warn().Err(err).Str("user_id", rec.UserID).Msg("Device lookup failed")
		outcome.DeviceErrors = err
		return outcome, nil
	}
	outcome.Devices = len(tokens)
	if len(tokens) == 0 {
		logger.Info().Str("user_id", rec.UserID).Msg("No active devices for user")
		return outcome, nil
	}

	_, body := FormatMessage(a)

	for _, tok := range tokens {
		err := d.push(ctx, tok.Token, d.opts.Title, body)
		if err == nil {
			outcome.Delivered++
			d.sent.Add(ctx, 1)
			continue
		}
		if apperrors.IsFatal(err) {
			return outcome, err
		}

		d.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("device_type", tok.DeviceType)))
		logger.Warn().
			Err(err).
			Str("device", apperrors.MaskToken(tok.Token)).
			Str("device_type", tok.DeviceType).
			Msg("Push delivery failed")
		outcome.DeviceErrors = multierr.Append(outcome.DeviceErrors, err)
	}
	return outcome, nil
}

func (d *Dispatcher) push(ctx context.Context, token, title, body string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PushTimeout)
	defer cancel()

	send := func(ctx context.Context) error {
		return d.pusher.Send(ctx, token, title, body)
	}
	if d.opts.Breaker == nil {
		return send(ctx)
	}
	return d.opts.Breaker.Execute(ctx, send)
}

// CountsAgainstBreaker reports whether a push error indicates the push service
// itself is failing. Rejections of a single device (4xx other than 401/403/429)
// do not.
func CountsAgainstBreaker(err error) bool {
	var de *apperrors.DeliveryError
	if apperrors.As(err, &de) && de.StatusCode >= 400 && de.StatusCode < 500 {
		switch de.StatusCode {
		case 401, 403, 429:
			return true
		}
		return false
	}
	return true
}
