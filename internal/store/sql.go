package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "stockwatch/internal/errors"
	"stockwatch/internal/models"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore implements Store over database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	isDup   func(error) bool
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate creates all tables and indexes if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == dialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewPersistenceError("migrate", "", err)
		}
	}
	return nil
}

const conditionColumns = `
	c.id, c.subscription_id, c.condition_type, c.threshold, c.period_days,
	c.cumulative_change_rate, c.tracking_started_at, c.tracking_ended_at,
	c.is_active, c.last_checked_at, c.version,
	s.id, s.user_id, s.stock_code, s.stock_name, s.nation_type, s.api_endpoint`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCondition(row rowScanner) (models.AlertCondition, error) {
	var (
		c           models.AlertCondition
		condType    string
		segment     string
		lastChecked sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.SubscriptionID, &condType, &c.Threshold, &c.PeriodDays,
		&c.CumulativeChangeRate, &c.TrackingStartedAt, &c.TrackingEndedAt,
		&c.IsActive, &lastChecked, &c.Version,
		&c.Subscription.ID, &c.Subscription.UserID, &c.Subscription.StockCode,
		&c.Subscription.StockName, &segment, &c.Subscription.QuoteEndpoint,
	)
	if err != nil {
		return c, err
	}

	if c.Type, err = models.ParseConditionType(condType); err != nil {
		return c, err
	}
	c.Subscription.Segment = models.Segment(strings.ToUpper(segment))
	if lastChecked.Valid {
		t := lastChecked.Time
		c.LastCheckedAt = &t
	}
	return c, nil
}

// ActiveConditions returns active conditions whose subscription belongs to segment.
func (s *SQLStore) ActiveConditions(ctx context.Context, segment models.Segment) ([]models.AlertCondition, error) {
	query := s.rebind(`SELECT` + conditionColumns + `
		FROM alert_conditions c
		JOIN stock_subscriptions s ON s.id = c.subscription_id
		WHERE c.is_active = ? AND UPPER(s.nation_type) = ?
		ORDER BY c.id`)

	rows, err := s.db.QueryContext(ctx, query, true, string(segment))
	if err != nil {
		return nil, apperrors.NewPersistenceError("active_conditions", "", err)
	}
	defer rows.Close()

	var conditions []models.AlertCondition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("active_conditions", c.ID, err)
		}
		conditions = append(conditions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("active_conditions", "", err)
	}
	return conditions, nil
}

// GetCondition loads one condition by id.
func (s *SQLStore) GetCondition(ctx context.Context, id string) (models.AlertCondition, error) {
	query := s.rebind(`SELECT` + conditionColumns + `
		FROM alert_conditions c
		JOIN stock_subscriptions s ON s.id = c.subscription_id
		WHERE c.id = ?`)

	c, err := scanCondition(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return c, apperrors.NewPersistenceError("get_condition", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return c, apperrors.NewPersistenceError("get_condition", id, err)
	}
	return c, nil
}

// Accumulate writes the new cumulative rate if version still matches.
func (s *SQLStore) Accumulate(ctx context.Context, id string, version int64, newRate decimal.Decimal, checkedAt time.Time) error {
	query := s.rebind(`
		UPDATE alert_conditions
		SET cumulative_change_rate = ?, last_checked_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND is_active = ?`)

	res, err := s.db.ExecContext(ctx, query, newRate, checkedAt.UTC(), id, version, true)
	return s.checkCAS("accumulate", id, res, err)
}

// ResetWindow zeroes the rate and opens a new window if version still matches.
func (s *SQLStore) ResetWindow(ctx context.Context, id string, version int64, start, end, checkedAt time.Time) error {
	query := s.rebind(`
		UPDATE alert_conditions
		SET cumulative_change_rate = ?, tracking_started_at = ?, tracking_ended_at = ?,
			last_checked_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND is_active = ?`)

	res, err := s.db.ExecContext(ctx, query, decimal.Zero, start.UTC(), end.UTC(), checkedAt.UTC(), id, version, true)
	return s.checkCAS("reset_window", id, res, err)
}

func (s *SQLStore) checkCAS(op, id string, res sql.Result, err error) error {
	if err != nil {
		return apperrors.NewPersistenceError(op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewPersistenceError(op, id, err)
	}
	if n == 0 {
		return apperrors.NewPersistenceError(op, id, apperrors.ErrConflict)
	}
	return nil
}

// InsertNotification appends a record. A repeated idempotency key is reported
// as ErrDuplicateNotification.
func (s *SQLStore) InsertNotification(ctx context.Context, rec models.NotificationRecord) error {
	query := s.rebind(`
		INSERT INTO notifications (
			id, user_id, subscription_id, condition_id, triggered_price,
			cumulative_change_rate, sent_at, idempotency_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.SubscriptionID, rec.ConditionID, rec.TriggeredPrice,
		rec.CumulativeChangeRate, rec.SentAt.UTC(), rec.IdempotencyKey,
	)
	if err != nil {
		if s.isDup(err) {
			return apperrors.NewPersistenceError("insert_notification", rec.ConditionID, apperrors.ErrDuplicateNotification)
		}
		return apperrors.NewPersistenceError("insert_notification", rec.ConditionID, err)
	}
	return nil
}

// NotificationsForCondition returns records for a condition, oldest first.
func (s *SQLStore) NotificationsForCondition(ctx context.Context, conditionID string) ([]models.NotificationRecord, error) {
	query := s.rebind(`
		SELECT id, user_id, subscription_id, condition_id, triggered_price,
			cumulative_change_rate, sent_at, idempotency_key
		FROM notifications
		WHERE condition_id = ?
		ORDER BY sent_at`)

	rows, err := s.db.QueryContext(ctx, query, conditionID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list_notifications", conditionID, err)
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		var r models.NotificationRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SubscriptionID, &r.ConditionID, &r.TriggeredPrice,
			&r.CumulativeChangeRate, &r.SentAt, &r.IdempotencyKey); err != nil {
			return nil, apperrors.NewPersistenceError("list_notifications", conditionID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ActiveDeviceTokens returns the user's active push endpoints.
func (s *SQLStore) ActiveDeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	query := s.rebind(`
		SELECT token, device_type FROM fcm_tokens
		WHERE user_id = ? AND is_active = ?
		ORDER BY token`)

	rows, err := s.db.QueryContext(ctx, query, userID, true)
	if err != nil {
		return nil, apperrors.NewPersistenceError("device_tokens", "", err)
	}
	defer rows.Close()

	var tokens []models.DeviceToken
	for rows.Next() {
		var t models.DeviceToken
		var deviceType sql.NullString
		if err := rows.Scan(&t.Token, &deviceType); err != nil {
			return nil, apperrors.NewPersistenceError("device_tokens", "", err)
		}
		t.DeviceType = deviceType.String
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// SaveSubscription inserts or replaces a subscription row. Subscriptions are
// normally created by the web application; this is used for seeding.
func (s *SQLStore) SaveSubscription(ctx context.Context, sub models.Subscription) error {
	query := s.rebind(`
		INSERT INTO stock_subscriptions (id, user_id, stock_code, stock_name, nation_type, api_endpoint)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id, stock_code = excluded.stock_code,
			stock_name = excluded.stock_name, nation_type = excluded.nation_type,
			api_endpoint = excluded.api_endpoint`)

	_, err := s.db.ExecContext(ctx, query, sub.ID, sub.UserID, sub.StockCode, sub.StockName, string(sub.Segment), sub.QuoteEndpoint)
	if err != nil {
		return apperrors.NewPersistenceError("save_subscription", "", err)
	}
	return nil
}

// SaveCondition inserts a condition row with version 0 semantics preserved from c.
func (s *SQLStore) SaveCondition(ctx context.Context, c models.AlertCondition) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("save condition: %w", err)
	}
	query := s.rebind(`
		INSERT INTO alert_conditions (
			id, subscription_id, condition_type, threshold, period_days,
			cumulative_change_rate, tracking_started_at, tracking_ended_at,
			is_active, last_checked_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var lastChecked interface{}
	if c.LastCheckedAt != nil {
		lastChecked = c.LastCheckedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.SubscriptionID, string(c.Type), c.Threshold, c.PeriodDays,
		c.CumulativeChangeRate, c.TrackingStartedAt.UTC(), c.TrackingEndedAt.UTC(),
		c.IsActive, lastChecked, c.Version,
	)
	if err != nil {
		return apperrors.NewPersistenceError("save_condition", c.ID, err)
	}
	return nil
}

// SaveDeviceToken registers a push endpoint for a user.
func (s *SQLStore) SaveDeviceToken(ctx context.Context, userID string, token models.DeviceToken, active bool) error {
	query := s.rebind(`
		INSERT INTO fcm_tokens (user_id, token, device_type, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			user_id = excluded.user_id, device_type = excluded.device_type, is_active = excluded.is_active`)

	_, err := s.db.ExecContext(ctx, query, userID, token.Token, token.DeviceType, active)
	if err != nil {
		return apperrors.NewPersistenceError("save_device_token", "", err)
	}
	return nil
}
