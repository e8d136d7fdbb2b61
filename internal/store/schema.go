package store

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stock_subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		stock_code TEXT NOT NULL,
		stock_name TEXT NOT NULL,
		nation_type TEXT NOT NULL,
		api_endpoint TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS alert_conditions (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		condition_type TEXT NOT NULL CHECK (condition_type IN ('rise', 'drop')),
		threshold REAL NOT NULL CHECK (threshold > 0),
		period_days INTEGER NOT NULL CHECK (period_days >= 1),
		cumulative_change_rate REAL NOT NULL DEFAULT 0,
		tracking_started_at DATETIME NOT NULL,
		tracking_ended_at DATETIME NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_checked_at DATETIME,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (subscription_id) REFERENCES stock_subscriptions(id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		condition_id TEXT NOT NULL,
		triggered_price REAL NOT NULL,
		cumulative_change_rate REAL NOT NULL,
		sent_at DATETIME NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS fcm_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		device_type TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conditions_active ON alert_conditions(is_active, subscription_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_nation ON stock_subscriptions(nation_type)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_condition ON notifications(condition_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user ON fcm_tokens(user_id, is_active)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS stock_subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		stock_code TEXT NOT NULL,
		stock_name TEXT NOT NULL,
		nation_type TEXT NOT NULL,
		api_endpoint TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS alert_conditions (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL REFERENCES stock_subscriptions(id),
		condition_type TEXT NOT NULL CHECK (condition_type IN ('rise', 'drop')),
		threshold NUMERIC NOT NULL CHECK (threshold > 0),
		period_days INTEGER NOT NULL CHECK (period_days >= 1),
		cumulative_change_rate NUMERIC NOT NULL DEFAULT 0,
		tracking_started_at TIMESTAMPTZ NOT NULL,
		tracking_ended_at TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_checked_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL,
		condition_id TEXT NOT NULL,
		triggered_price NUMERIC NOT NULL,
		cumulative_change_rate NUMERIC NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS fcm_tokens (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		device_type TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conditions_active ON alert_conditions(is_active, subscription_id)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_nation ON stock_subscriptions(nation_type)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_condition ON notifications(condition_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user ON fcm_tokens(user_id, is_active)`,
}
