package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationRecord is written once per fired alert and never mutated here.
type NotificationRecord struct {
	ID                   string
	UserID               string
	SubscriptionID       string
	ConditionID          string
	TriggeredPrice       decimal.Decimal
	CumulativeChangeRate decimal.Decimal
	SentAt               time.Time
	IdempotencyKey       string
}

// DeviceToken is an active push endpoint registered by a user.
type DeviceToken struct {
	Token      string
	DeviceType string
}

// Outcome is the transition taken for one condition in one run.
type Outcome string

const (
	OutcomeAccumulate  Outcome = "ACCUMULATE"
	OutcomeTriggered   Outcome = "TRIGGERED"
	OutcomeExpired     Outcome = "EXPIRED"
	OutcomeFetchFailed Outcome = "FETCH_FAILED"
	OutcomeConflict    Outcome = "CONFLICT"
	OutcomeWriteFailed Outcome = "WRITE_FAILED"
	OutcomeInvalid     Outcome = "INVALID"
)
