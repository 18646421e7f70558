package repository

// Schema is the engine's DDL in the sqlite dialect, used by tests and by
// single-node deployments on the sqlite3 driver. The PostgreSQL variant lives
// under migrations/.
const Schema = `
CREATE TABLE IF NOT EXISTS sla_policy (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_default BOOLEAN NOT NULL DEFAULT 0,
	business_hours_schedule_id INTEGER,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sla_policy_target (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	policy_id INTEGER NOT NULL,
	priority_id INTEGER NOT NULL,
	response_time_minutes INTEGER,
	resolution_time_minutes INTEGER,
	escalation_1_percent INTEGER,
	escalation_2_percent INTEGER,
	escalation_3_percent INTEGER,
	is_24x7 BOOLEAN NOT NULL DEFAULT 0,
	UNIQUE (policy_id, priority_id)
);

CREATE TABLE IF NOT EXISTS business_hours_schedule (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	timezone TEXT NOT NULL,
	is_24x7 BOOLEAN NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS business_hours_entry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	schedule_id INTEGER NOT NULL,
	day_of_week INTEGER NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	is_enabled BOOLEAN NOT NULL DEFAULT 1,
	UNIQUE (schedule_id, day_of_week)
);

CREATE TABLE IF NOT EXISTS holiday (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	schedule_id INTEGER,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	date TIMESTAMP NOT NULL,
	is_recurring BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ticket_sla_tracking (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	ticket_id INTEGER NOT NULL,
	sla_policy_id INTEGER NOT NULL,
	priority_id INTEGER NOT NULL,
	board_id INTEGER NOT NULL,
	assignee_id INTEGER,
	started_at TIMESTAMP NOT NULL,
	response_deadline TIMESTAMP,
	resolution_deadline TIMESTAMP,
	first_response_at TIMESTAMP,
	resolved_at TIMESTAMP,
	response_met BOOLEAN,
	resolution_met BOOLEAN,
	total_pause_minutes INTEGER NOT NULL DEFAULT 0,
	last_response_threshold INTEGER NOT NULL DEFAULT 0,
	last_resolution_threshold INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracking_tenant_ticket ON ticket_sla_tracking (tenant_id, ticket_id);
CREATE INDEX IF NOT EXISTS idx_tracking_scan ON ticket_sla_tracking (tenant_id, active);

CREATE TABLE IF NOT EXISTS sla_pause_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	ticket_id INTEGER NOT NULL,
	paused_at TIMESTAMP NOT NULL,
	resumed_at TIMESTAMP,
	pause_reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pause_tenant_ticket ON sla_pause_history (tenant_id, ticket_id);

CREATE TABLE IF NOT EXISTS sla_notification_threshold (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	policy_id INTEGER NOT NULL,
	threshold_percent INTEGER NOT NULL,
	type TEXT NOT NULL,
	notify_assignee BOOLEAN NOT NULL DEFAULT 0,
	notify_board_manager BOOLEAN NOT NULL DEFAULT 0,
	notify_escalation_manager BOOLEAN NOT NULL DEFAULT 0,
	channels TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS escalation_manager (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	board_id INTEGER NOT NULL,
	level INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	notify_channels TEXT NOT NULL DEFAULT '',
	UNIQUE (tenant_id, board_id, level)
);

CREATE TABLE IF NOT EXISTS sla_settings (
	tenant_id TEXT PRIMARY KEY,
	pause_on_awaiting_client BOOLEAN NOT NULL DEFAULT 0,
	pausing_statuses TEXT NOT NULL DEFAULT '',
	backend TEXT NOT NULL DEFAULT 'polling'
);

CREATE TABLE IF NOT EXISTS sla_notification_audit (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	ticket_id INTEGER NOT NULL,
	sla_type TEXT NOT NULL,
	threshold_percent INTEGER NOT NULL,
	template_key TEXT NOT NULL,
	recipient_id INTEGER NOT NULL,
	channel TEXT NOT NULL,
	dispatched_at TIMESTAMP NOT NULL,
	success BOOLEAN NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_ticket ON sla_notification_audit (tenant_id, ticket_id);
`
