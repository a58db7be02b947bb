package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"exchangesync/internal/utils"
)

const defaultDatabaseFile = "mirror.db"

// Database wraps sqlx.DB with helper methods for schema management
type Database struct {
	*sqlx.DB
	path string
}

// InitDatabase opens the SQLite database and sets up all tables.
// An empty path selects the XDG data directory.
func InitDatabase(customPath string) (*Database, error) {
	dbPath, err := getDatabasePath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// pragmas apply per connection
	db.SetMaxOpenConns(1)

	database := &Database{
		DB:   db,
		path: dbPath,
	}

	if err := database.initializeSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	utils.Debugf("Opened mirror database at %s", dbPath)
	return database, nil
}

// getDatabasePath returns the path to the SQLite database file
// Priority: customPath > $XDG_DATA_HOME/exchangesync/mirror.db > ~/.local/share/exchangesync/mirror.db
func getDatabasePath(customPath string) (string, error) {
	if customPath != "" {
		return utils.ExpandPath(customPath)
	}

	dir, err := utils.DataDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user data directory: %w", err)
	}
	return filepath.Join(dir, defaultDatabaseFile), nil
}

// initializeSchema creates all tables, indexes, and sets pragmas
func (db *Database) initializeSchema() error {
	for _, pragma := range PragmaStatements() {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	for _, schema := range AllTableSchemas() {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, index := range AllIndexes() {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := db.recordSchemaVersion(); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// recordSchemaVersion records the current schema version in the database
func (db *Database) recordSchemaVersion() error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM schema_version WHERE version = ?", SchemaVersion); err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err := db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version from the database
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	if err := db.Get(&version, "SELECT MAX(version) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}

// GetStats returns basic database statistics
func (db *Database) GetStats(ctx context.Context) (DatabaseStats, error) {
	stats := DatabaseStats{}

	counts := []struct {
		dest  *int
		query string
		what  string
	}{
		{&stats.TaskCount, "SELECT COUNT(*) FROM tasks", "tasks"},
		{&stats.OpenTaskCount, "SELECT COUNT(*) FROM tasks WHERE completed = 0", "open tasks"},
		{&stats.AppointmentCount, "SELECT COUNT(*) FROM appointments", "appointments"},
		{&stats.EventCount, "SELECT COUNT(*) FROM task_events", "task events"},
	}
	for _, c := range counts {
		if err := db.GetContext(ctx, c.dest, c.query); err != nil {
			return stats, fmt.Errorf("failed to count %s: %w", c.what, err)
		}
	}

	fileInfo, err := os.Stat(db.path)
	if err != nil {
		return stats, fmt.Errorf("failed to stat database file: %w", err)
	}
	stats.DatabaseSize = fileInfo.Size()

	return stats, nil
}

// DatabaseStats holds statistics about the mirror
type DatabaseStats struct {
	TaskCount        int   `json:"tasks" yaml:"tasks"`
	OpenTaskCount    int   `json:"open_tasks" yaml:"open_tasks"`
	AppointmentCount int   `json:"appointments" yaml:"appointments"`
	EventCount       int   `json:"task_events" yaml:"task_events"`
	DatabaseSize     int64 `json:"size_bytes" yaml:"size_bytes"`
}

// String returns a human-readable representation of database statistics
func (s DatabaseStats) String() string {
	sizeMB := float64(s.DatabaseSize) / (1024 * 1024)
	return fmt.Sprintf(
		"Tasks: %d (%d open) | Appointments: %d | Events: %d | Size: %.2f MB",
		s.TaskCount, s.OpenTaskCount, s.AppointmentCount, s.EventCount, sizeMB,
	)
}
