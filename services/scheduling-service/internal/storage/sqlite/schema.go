package sqlite

// Times are stored as unix milliseconds in UTC.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		min_lead_minutes INTEGER NOT NULL DEFAULT 120 CHECK (min_lead_minutes >= 0),
		max_advance_days INTEGER NOT NULL DEFAULT 60 CHECK (max_advance_days >= 0),
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		name TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL CHECK (duration_minutes >= 0),
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS staff_services (
		business_id TEXT NOT NULL REFERENCES businesses(id),
		staff_id TEXT NOT NULL REFERENCES staff(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		PRIMARY KEY (staff_id, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS availability_rules (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		staff_id TEXT NOT NULL REFERENCES staff(id),
		weekday INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
		start_minute INTEGER NOT NULL CHECK (start_minute >= 0),
		end_minute INTEGER NOT NULL CHECK (end_minute <= 1440),
		deleted_at INTEGER,
		CHECK (start_minute < end_minute)
	)`,
	`CREATE INDEX IF NOT EXISTS availability_rules_lookup_idx
		ON availability_rules (business_id, weekday, staff_id) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS blackout_windows (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		staff_id TEXT,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		CHECK (start_at < end_at)
	)`,
	`CREATE INDEX IF NOT EXISTS blackout_windows_range_idx ON blackout_windows (business_id, start_at)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id),
		staff_id TEXT NOT NULL REFERENCES staff(id),
		service_id TEXT NOT NULL REFERENCES services(id),
		customer_name TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('held','pending','scheduled','completed','cancelled','no_show','refunded','expired')),
		payment_method_attached INTEGER NOT NULL DEFAULT 0,
		payment_method_ref TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		hold_created_at INTEGER NOT NULL,
		released_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		CHECK (start_at < end_at)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS bookings_active_staff_start_uidx
		ON bookings (staff_id, start_at) WHERE status IN ('held','pending','scheduled')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS bookings_idempotency_uidx
		ON bookings (business_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS bookings_held_idx ON bookings (hold_created_at) WHERE status = 'held'`,
	`CREATE INDEX IF NOT EXISTS bookings_business_range_idx ON bookings (business_id, staff_id, start_at)`,
	`CREATE TRIGGER IF NOT EXISTS bookings_no_overlap
		BEFORE INSERT ON bookings
		WHEN NEW.status IN ('held','pending','scheduled')
		BEGIN
			SELECT RAISE(ABORT, 'booking overlaps an active booking')
			WHERE EXISTS (
				SELECT 1 FROM bookings b
				WHERE b.staff_id = NEW.staff_id
					AND b.status IN ('held','pending','scheduled')
					AND b.start_at < NEW.end_at
					AND NEW.start_at < b.end_at
			);
		END`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		traceparent TEXT NOT NULL DEFAULT '',
		tracestate TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		published_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_unpublished_idx ON outbox_events (id) WHERE published_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS inbox_events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		received_at INTEGER NOT NULL
	)`,
}
