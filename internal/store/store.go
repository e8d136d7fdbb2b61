// Package store provides data persistence implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockwatch/internal/models"
)

// ConditionStore reads active conditions and advances their state. Every write
// is a compare-and-set on the condition's version and returns
// errors.ErrConflict when the row changed since it was read.
type ConditionStore interface {
	// ActiveConditions returns active conditions of the segment joined with their subscription.
	ActiveConditions(ctx context.Context, segment models.Segment) ([]models.AlertCondition, error)
	GetCondition(ctx context.Context, id string) (models.AlertCondition, error)

	// Accumulate stores the new cumulative rate and bumps last_checked_at.
	Accumulate(ctx context.Context, id string, version int64, newRate decimal.Decimal, checkedAt time.Time) error
	// ResetWindow zeroes the cumulative rate and opens the window [start, end).
	ResetWindow(ctx context.Context, id string, version int64, start, end, checkedAt time.Time) error
}

// NotificationStore appends notification records. A second record with the same
// idempotency key returns errors.ErrDuplicateNotification.
type NotificationStore interface {
	InsertNotification(ctx context.Context, rec models.NotificationRecord) error
	NotificationsForCondition(ctx context.Context, conditionID string) ([]models.NotificationRecord, error)
}

// DeviceTokenStore is the read-only view of registered push endpoints.
type DeviceTokenStore interface {
	ActiveDeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error)
}

// Store combines all persistence operations used by a run.
type Store interface {
	ConditionStore
	NotificationStore
	DeviceTokenStore

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured driver. driver is "sqlite" or "postgres".
func Open(driver, path, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "sqlite3", "":
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}
