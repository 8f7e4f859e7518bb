package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS change_requests (
	id TEXT PRIMARY KEY,
	ticket_id TEXT NOT NULL UNIQUE,
	submitted_by TEXT NOT NULL,
	classification TEXT NOT NULL,
	title TEXT NOT NULL,
	justification TEXT NOT NULL DEFAULT '',
	purpose TEXT NOT NULL DEFAULT '',
	affected_assets TEXT NOT NULL DEFAULT '',
	implementation_plan TEXT NOT NULL DEFAULT '',
	rollback_plan TEXT NOT NULL DEFAULT '',
	scheduled_at INTEGER,
	assigned_technician_id TEXT NOT NULL DEFAULT '',
	photo_url TEXT NOT NULL DEFAULT '',
	estimated_cost REAL,
	estimated_minutes INTEGER,
	status TEXT NOT NULL,
	revision INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_requests_status ON change_requests(status);
CREATE INDEX IF NOT EXISTS idx_change_requests_submitted_by ON change_requests(submitted_by);
CREATE INDEX IF NOT EXISTS idx_change_requests_updated_at ON change_requests(updated_at);

CREATE TABLE IF NOT EXISTS approval_histories (
	id TEXT PRIMARY KEY,
	change_request_id TEXT NOT NULL REFERENCES change_requests(id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL,
	approver_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(change_request_id, sequence)
);

CREATE TABLE IF NOT EXISTS risk_assessments (
	change_request_id TEXT PRIMARY KEY REFERENCES change_requests(id) ON DELETE CASCADE,
	technician_id TEXT NOT NULL,
	impact INTEGER NOT NULL,
	likelihood INTEGER NOT NULL,
	exposure INTEGER NOT NULL,
	score INTEGER NOT NULL,
	level TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	change_request_id TEXT NOT NULL REFERENCES change_requests(id) ON DELETE CASCADE,
	ticket_id TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	read INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, read);

CREATE TABLE IF NOT EXISTS ticket_counters (
	day TEXT PRIMARY KEY,
	seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	token TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL DEFAULT 0,
	pulled_at INTEGER NOT NULL DEFAULT 0,
	pushed_at INTEGER NOT NULL DEFAULT 0,
	last_attempt_at INTEGER NOT NULL DEFAULT 0,
	last_success_at INTEGER NOT NULL DEFAULT 0
);
`
