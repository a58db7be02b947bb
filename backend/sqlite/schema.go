package sqlite

// Schema version for migration management
const SchemaVersion = 1

// SQL statements for database schema creation

// TasksTableSQL mirrors the flagged e-mails exposed as tasks
const TasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    exchange_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    last_modified INTEGER,
    due_date INTEGER,
    completed INTEGER NOT NULL DEFAULT 0,
    synced_at INTEGER NOT NULL
);
`

// AppointmentsTableSQL mirrors calendar items and meeting requests
const AppointmentsTableSQL = `
CREATE TABLE IF NOT EXISTS appointments (
    exchange_id TEXT PRIMARY KEY,
    summary TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    start_at INTEGER,
    end_at INTEGER,
    last_modified INTEGER,
    organizer_name TEXT,
    organizer_email TEXT,
    reminder_minutes INTEGER NOT NULL DEFAULT 0,
    recurrence_type TEXT NOT NULL DEFAULT 'none'
        CHECK(recurrence_type IN ('none', 'daily', 'weekly', 'monthly', 'yearly')),
    recurrence_count INTEGER,
    synced_at INTEGER NOT NULL
);
`

// AttendeesTableSQL keeps attendees in their original order
const AttendeesTableSQL = `
CREATE TABLE IF NOT EXISTS attendees (
    appointment_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    optional INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY(appointment_id, position),
    FOREIGN KEY(appointment_id) REFERENCES appointments(exchange_id) ON DELETE CASCADE
);
`

// TaskEventsTableSQL journals task change notifications
const TaskEventsTableSQL = `
CREATE TABLE IF NOT EXISTS task_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    exchange_id TEXT NOT NULL,
    name TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    due_date INTEGER,
    received_at INTEGER NOT NULL
);
`

// SchemaVersionTableSQL creates the schema version table for migration tracking
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// Index creation statements

// TasksIndexesSQL creates indexes on tasks table for common queries
const TasksIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(completed);
CREATE INDEX IF NOT EXISTS idx_tasks_due_date ON tasks(due_date);
`

// AppointmentsIndexesSQL creates indexes on appointments table
const AppointmentsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_appointments_start_at ON appointments(start_at);
`

// TaskEventsIndexesSQL creates indexes on the event journal
const TaskEventsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_task_events_exchange_id ON task_events(exchange_id);
CREATE INDEX IF NOT EXISTS idx_task_events_run_id ON task_events(run_id);
`

// AllTableSchemas returns all table creation statements in order
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		TasksTableSQL,
		AppointmentsTableSQL,
		AttendeesTableSQL,
		TaskEventsTableSQL,
	}
}

// AllIndexes returns all index creation statements
func AllIndexes() []string {
	return []string{
		TasksIndexesSQL,
		AppointmentsIndexesSQL,
		TaskEventsIndexesSQL,
	}
}

// PragmaStatements returns pragma statements to execute on database connection
func PragmaStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL", // Balance between safety and performance
		"PRAGMA busy_timeout = 5000",
	}
}
