// Package models holds the alert-condition domain types shared by the job.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionType is the direction of the watched move.
type ConditionType string

const (
	ConditionRise ConditionType = "rise"
	ConditionDrop ConditionType = "drop"
)

// ParseConditionType accepts the stored lower-case form as well as RISE/DROP.
func ParseConditionType(s string) (ConditionType, error) {
	switch ConditionType(strings.ToLower(strings.TrimSpace(s))) {
	case ConditionRise:
		return ConditionRise, nil
	case ConditionDrop:
		return ConditionDrop, nil
	}
	return "", fmt.Errorf("unknown condition type %q", s)
}

// Segment groups subscriptions by market. Each segment runs on its own schedule.
type Segment string

const (
	SegmentDomestic Segment = "KOR"
	SegmentForeign  Segment = "FOREIGN"
)

// ParseSegment validates a nationType value from an invocation.
func ParseSegment(s string) (Segment, error) {
	switch Segment(strings.ToUpper(strings.TrimSpace(s))) {
	case SegmentDomestic:
		return SegmentDomestic, nil
	case SegmentForeign:
		return SegmentForeign, nil
	}
	return "", fmt.Errorf("invalid segment %q (must be KOR or FOREIGN)", s)
}

// Subscription is the parent row of a condition: a ticker owned by a user.
type Subscription struct {
	ID            string
	UserID        string
	StockCode     string
	StockName     string
	Segment       Segment
	QuoteEndpoint string
}

// AlertCondition is the unit of tracking.
//
// TrackingEndedAt is always TrackingStartedAt + PeriodDays. CumulativeChangeRate is
// the sum of daily change rates observed since TrackingStartedAt. Version is the
// optimistic-lock counter bumped by every write.
type AlertCondition struct {
	ID                   string
	SubscriptionID       string
	Type                 ConditionType
	Threshold            decimal.Decimal
	PeriodDays           int
	CumulativeChangeRate decimal.Decimal
	TrackingStartedAt    time.Time
	TrackingEndedAt      time.Time
	IsActive             bool
	LastCheckedAt        *time.Time
	Version              int64

	Subscription Subscription
}

// WindowEnd returns the end of a tracking window opened at start.
func WindowEnd(start time.Time, periodDays int) time.Time {
	return start.AddDate(0, 0, periodDays)
}

// Crossed reports whether rate crosses the threshold in the condition's direction.
// Threshold is a positive magnitude; drops compare against its negation.
func (c AlertCondition) Crossed(rate decimal.Decimal) bool {
	switch c.Type {
	case ConditionRise:
		return rate.GreaterThanOrEqual(c.Threshold)
	case ConditionDrop:
		return rate.LessThanOrEqual(c.Threshold.Neg())
	}
	return false
}

// Expired reports whether now has reached the window end, compared by calendar
// date in loc.
func (c AlertCondition) Expired(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return !dateOf(now, loc).Before(dateOf(c.TrackingEndedAt, loc))
}

// IdempotencyKey identifies the current tracking window of this condition.
func (c AlertCondition) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", c.ID, c.TrackingStartedAt.Unix())
}

// Validate checks the fields the evaluator relies on.
func (c AlertCondition) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("condition id is empty")
	}
	if c.Type != ConditionRise && c.Type != ConditionDrop {
		return fmt.Errorf("condition %s: invalid type %q", c.ID, c.Type)
	}
	if !c.Threshold.IsPositive() {
		return fmt.Errorf("condition %s: threshold must be positive, got %s", c.ID, c.Threshold)
	}
	if c.PeriodDays < 1 {
		return fmt.Errorf("condition %s: period_days must be >= 1, got %d", c.ID, c.PeriodDays)
	}
	return nil
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
