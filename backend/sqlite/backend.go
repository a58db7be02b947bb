// Package sqlite is a local mirror of the Exchange tasks and appointments.
// It implements the full task and calendar contracts and journals change
// notifications received from a streaming subscription.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"exchangesync/backend"
	"exchangesync/internal/utils"
)

// ErrNotFound is returned when an item is not in the mirror
var ErrNotFound = errors.New("item not found")

// SQLiteError represents errors specific to SQLite backend operations
type SQLiteError struct {
	Op     string // Operation that failed
	Err    error  // Underlying error
	ItemID string // Optional: item id if relevant
}

func (e *SQLiteError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("sqlite %s failed for item %s: %v", e.Op, e.ItemID, e.Err)
	}
	return fmt.Sprintf("sqlite %s failed: %v", e.Op, e.Err)
}

func (e *SQLiteError) Unwrap() error {
	return e.Err
}

func init() {
	backend.RegisterType("sqlite", newSQLiteBackendWrapper)
}

// newSQLiteBackendWrapper wraps NewSQLiteBackend to match BackendConfigConstructor signature
func newSQLiteBackendWrapper(config backend.BackendConfig) (backend.Backend, error) {
	return NewSQLiteBackend(config)
}

// SQLiteBackend stores tasks, appointments and task events locally
type SQLiteBackend struct {
	Config backend.BackendConfig
	db     *Database
	runID  string
	now    func() time.Time
}

// NewSQLiteBackend opens the mirror database. Every backend instance gets
// a run id that tags the task events it journals.
func NewSQLiteBackend(config backend.BackendConfig) (*SQLiteBackend, error) {
	db, err := InitDatabase(config.DBPath)
	if err != nil {
		return nil, &SQLiteError{Op: "init", Err: err}
	}
	return &SQLiteBackend{
		Config: config,
		db:     db,
		runID:  uuid.NewString(),
		now:    time.Now,
	}, nil
}

// Type returns the registry type name
func (sb *SQLiteBackend) Type() string {
	return "sqlite"
}

// RunID identifies the events journaled by this instance
func (sb *SQLiteBackend) RunID() string {
	return sb.runID
}

// DB exposes the database for statistics
func (sb *SQLiteBackend) DB() *Database {
	return sb.db
}

// Close closes the database connection
func (sb *SQLiteBackend) Close() error {
	if sb.db != nil {
		return sb.db.Close()
	}
	return nil
}

type taskRow struct {
	ExchangeID   string        `db:"exchange_id"`
	Name         string        `db:"name"`
	LastModified sql.NullInt64 `db:"last_modified"`
	DueDate      sql.NullInt64 `db:"due_date"`
	Completed    bool          `db:"completed"`
	SyncedAt     int64         `db:"synced_at"`
}

func newTaskRow(t backend.TaskDto, syncedAt time.Time) taskRow {
	return taskRow{
		ExchangeID:   t.ExchangeID,
		Name:         t.Name,
		LastModified: timeValueToNullInt64(t.LastModified),
		DueDate:      timeToNullInt64(t.DueDate),
		Completed:    t.Completed,
		SyncedAt:     syncedAt.Unix(),
	}
}

func (r taskRow) dto() backend.TaskDto {
	return backend.TaskDto{
		ExchangeID:   r.ExchangeID,
		Name:         r.Name,
		LastModified: nullInt64ToTime(r.LastModified),
		DueDate:      nullInt64ToTimePtr(r.DueDate),
		Completed:    r.Completed,
	}
}

const insertTaskSQL = `
	INSERT INTO tasks (exchange_id, name, last_modified, due_date, completed, synced_at)
	VALUES (:exchange_id, :name, :last_modified, :due_date, :completed, :synced_at)`

const upsertTaskSQL = insertTaskSQL + `
	ON CONFLICT(exchange_id) DO UPDATE SET
		name = excluded.name,
		last_modified = excluded.last_modified,
		due_date = excluded.due_date,
		completed = excluded.completed,
		synced_at = excluded.synced_at`

// AddTask stores a new task; an empty ExchangeID gets a generated id
func (sb *SQLiteBackend) AddTask(ctx context.Context, task backend.TaskDto) error {
	if task.ExchangeID == "" {
		task.ExchangeID = uuid.NewString()
	}
	if _, err := sb.db.NamedExecContext(ctx, insertTaskSQL, newTaskRow(task, sb.now())); err != nil {
		return &SQLiteError{Op: "AddTask", Err: err, ItemID: task.ExchangeID}
	}
	return nil
}

// GetAllTasks returns open tasks first, then by due date
func (sb *SQLiteBackend) GetAllTasks(ctx context.Context) ([]backend.TaskDto, error) {
	var rows []taskRow
	err := sb.db.SelectContext(ctx, &rows, `
		SELECT exchange_id, name, last_modified, due_date, completed, synced_at
		FROM tasks
		ORDER BY completed ASC, due_date IS NULL, due_date ASC, name ASC`)
	if err != nil {
		return nil, &SQLiteError{Op: "GetAllTasks", Err: err}
	}

	tasks := make([]backend.TaskDto, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.dto())
	}
	return tasks, nil
}

// GetTask returns a single task by id
func (sb *SQLiteBackend) GetTask(ctx context.Context, id string) (backend.TaskDto, error) {
	var row taskRow
	err := sb.db.GetContext(ctx, &row, `
		SELECT exchange_id, name, last_modified, due_date, completed, synced_at
		FROM tasks WHERE exchange_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.TaskDto{}, &SQLiteError{Op: "GetTask", Err: ErrNotFound, ItemID: id}
	}
	if err != nil {
		return backend.TaskDto{}, &SQLiteError{Op: "GetTask", Err: err, ItemID: id}
	}
	return row.dto(), nil
}

// UpdateDueDate sets or clears the due date of a stored task
func (sb *SQLiteBackend) UpdateDueDate(ctx context.Context, task backend.TaskDto) error {
	result, err := sb.db.ExecContext(ctx,
		"UPDATE tasks SET due_date = ?, synced_at = ? WHERE exchange_id = ?",
		timeToNullInt64(task.DueDate), sb.now().Unix(), task.ExchangeID)
	return checkAffected("UpdateDueDate", task.ExchangeID, result, err)
}

// UpdateCompletedFlag stores the completion state and title of a task
func (sb *SQLiteBackend) UpdateCompletedFlag(ctx context.Context, task backend.TaskDto) error {
	result, err := sb.db.ExecContext(ctx,
		"UPDATE tasks SET completed = ?, name = ?, synced_at = ? WHERE exchange_id = ?",
		task.Completed, task.Name, sb.now().Unix(), task.ExchangeID)
	return checkAffected("UpdateCompletedFlag", task.ExchangeID, result, err)
}

// ReplaceTasks swaps the whole task table for a fresh snapshot
func (sb *SQLiteBackend) ReplaceTasks(ctx context.Context, tasks []backend.TaskDto) error {
	return sb.withTx(ctx, "ReplaceTasks", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
			return err
		}
		now := sb.now()
		for _, t := range tasks {
			if _, err := tx.NamedExecContext(ctx, upsertTaskSQL, newTaskRow(t, now)); err != nil {
				return fmt.Errorf("task %s: %w", t.ExchangeID, err)
			}
		}
		return nil
	})
}

type appointmentRow struct {
	ExchangeID      string         `db:"exchange_id"`
	Summary         string         `db:"summary"`
	Description     string         `db:"description"`
	Location        string         `db:"location"`
	StartAt         sql.NullInt64  `db:"start_at"`
	EndAt           sql.NullInt64  `db:"end_at"`
	LastModified    sql.NullInt64  `db:"last_modified"`
	OrganizerName   sql.NullString `db:"organizer_name"`
	OrganizerEmail  sql.NullString `db:"organizer_email"`
	ReminderMinutes int            `db:"reminder_minutes"`
	RecurrenceType  string         `db:"recurrence_type"`
	RecurrenceCount sql.NullInt64  `db:"recurrence_count"`
	SyncedAt        int64          `db:"synced_at"`
}

type attendeeRow struct {
	AppointmentID string `db:"appointment_id"`
	Position      int    `db:"position"`
	Name          string `db:"name"`
	Email         string `db:"email"`
	Optional      bool   `db:"optional"`
}

func newAppointmentRow(a backend.AppointmentDto, syncedAt time.Time) appointmentRow {
	row := appointmentRow{
		ExchangeID:      a.ExchangeID,
		Summary:         a.Summary,
		Description:     a.Description,
		Location:        a.Location,
		StartAt:         timeValueToNullInt64(a.Start),
		EndAt:           timeValueToNullInt64(a.End),
		LastModified:    timeValueToNullInt64(a.LastModified),
		ReminderMinutes: a.ReminderMinutesBeforeStart,
		RecurrenceType:  string(a.RecurrenceType),
		SyncedAt:        syncedAt.Unix(),
	}
	if row.RecurrenceType == "" {
		row.RecurrenceType = string(backend.RecurrenceNone)
	}
	if a.Organizer != nil {
		row.OrganizerName = nullString(a.Organizer.Name)
		row.OrganizerEmail = nullString(a.Organizer.Email)
	}
	if a.RecurrenceCount != nil {
		row.RecurrenceCount = sql.NullInt64{Int64: int64(*a.RecurrenceCount), Valid: true}
	}
	return row
}

func (r appointmentRow) dto() backend.AppointmentDto {
	a := backend.AppointmentDto{
		ExchangeID:                 r.ExchangeID,
		LastModified:               nullInt64ToTime(r.LastModified),
		Summary:                    r.Summary,
		Description:                r.Description,
		Start:                      nullInt64ToTime(r.StartAt),
		End:                        nullInt64ToTime(r.EndAt),
		Location:                   r.Location,
		ReminderMinutesBeforeStart: r.ReminderMinutes,
		RecurrenceType:             backend.RecurrenceType(r.RecurrenceType),
	}
	if r.OrganizerName.Valid || r.OrganizerEmail.Valid {
		a.Organizer = &backend.PersonDto{Name: r.OrganizerName.String, Email: r.OrganizerEmail.String}
	}
	if r.RecurrenceCount.Valid {
		count := int(r.RecurrenceCount.Int64)
		a.RecurrenceCount = &count
	}
	return a
}

const insertAppointmentSQL = `
	INSERT INTO appointments (
		exchange_id, summary, description, location, start_at, end_at, last_modified,
		organizer_name, organizer_email, reminder_minutes, recurrence_type, recurrence_count, synced_at
	) VALUES (
		:exchange_id, :summary, :description, :location, :start_at, :end_at, :last_modified,
		:organizer_name, :organizer_email, :reminder_minutes, :recurrence_type, :recurrence_count, :synced_at
	)`

const updateAppointmentSQL = `
	UPDATE appointments SET
		summary = :summary, description = :description, location = :location,
		start_at = :start_at, end_at = :end_at, last_modified = :last_modified,
		organizer_name = :organizer_name, organizer_email = :organizer_email,
		reminder_minutes = :reminder_minutes, recurrence_type = :recurrence_type,
		recurrence_count = :recurrence_count, synced_at = :synced_at
	WHERE exchange_id = :exchange_id`

const insertAttendeeSQL = `
	INSERT INTO attendees (appointment_id, position, name, email, optional)
	VALUES (:appointment_id, :position, :name, :email, :optional)`

// GetAllAppointments returns appointments ordered by start time
func (sb *SQLiteBackend) GetAllAppointments(ctx context.Context) ([]backend.AppointmentDto, error) {
	var rows []appointmentRow
	err := sb.db.SelectContext(ctx, &rows, `
		SELECT exchange_id, summary, description, location, start_at, end_at, last_modified,
			organizer_name, organizer_email, reminder_minutes, recurrence_type, recurrence_count, synced_at
		FROM appointments
		ORDER BY start_at ASC, exchange_id ASC`)
	if err != nil {
		return nil, &SQLiteError{Op: "GetAllAppointments", Err: err}
	}

	var attendees []attendeeRow
	err = sb.db.SelectContext(ctx, &attendees, `
		SELECT appointment_id, position, name, email, optional
		FROM attendees
		ORDER BY appointment_id, position`)
	if err != nil {
		return nil, &SQLiteError{Op: "GetAllAppointments", Err: err}
	}

	byAppointment := make(map[string][]backend.PersonDto)
	for _, a := range attendees {
		byAppointment[a.AppointmentID] = append(byAppointment[a.AppointmentID],
			backend.PersonDto{Name: a.Name, Email: a.Email, Optional: a.Optional})
	}

	appointments := make([]backend.AppointmentDto, 0, len(rows))
	for _, r := range rows {
		a := r.dto()
		a.Attendees = byAppointment[r.ExchangeID]
		appointments = append(appointments, a)
	}
	return appointments, nil
}

// AddAppointment stores a new appointment with its attendees
func (sb *SQLiteBackend) AddAppointment(ctx context.Context, appointment backend.AppointmentDto) error {
	if appointment.ExchangeID == "" {
		appointment.ExchangeID = uuid.NewString()
	}
	return sb.withTx(ctx, "AddAppointment", func(tx *sqlx.Tx) error {
		return sb.insertAppointment(ctx, tx, appointment)
	})
}

// UpdateAppointment rewrites an appointment and replaces its attendees
func (sb *SQLiteBackend) UpdateAppointment(ctx context.Context, appointment backend.AppointmentDto) error {
	return sb.withTx(ctx, "UpdateAppointment", func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, updateAppointmentSQL, newAppointmentRow(appointment, sb.now()))
		if err := checkAffected("UpdateAppointment", appointment.ExchangeID, result, err); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM attendees WHERE appointment_id = ?", appointment.ExchangeID); err != nil {
			return err
		}
		return insertAttendees(ctx, tx, appointment)
	})
}

// DeleteAppointment removes an appointment; attendees cascade
func (sb *SQLiteBackend) DeleteAppointment(ctx context.Context, appointment backend.AppointmentDto) error {
	result, err := sb.db.ExecContext(ctx, "DELETE FROM appointments WHERE exchange_id = ?", appointment.ExchangeID)
	return checkAffected("DeleteAppointment", appointment.ExchangeID, result, err)
}

// ReplaceAppointments swaps all appointments for a fresh snapshot
func (sb *SQLiteBackend) ReplaceAppointments(ctx context.Context, appointments []backend.AppointmentDto) error {
	return sb.withTx(ctx, "ReplaceAppointments", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM appointments"); err != nil {
			return err
		}
		for _, a := range appointments {
			if err := sb.insertAppointment(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (sb *SQLiteBackend) insertAppointment(ctx context.Context, tx *sqlx.Tx, a backend.AppointmentDto) error {
	if _, err := tx.NamedExecContext(ctx, insertAppointmentSQL, newAppointmentRow(a, sb.now())); err != nil {
		return fmt.Errorf("appointment %s: %w", a.ExchangeID, err)
	}
	return insertAttendees(ctx, tx, a)
}

func insertAttendees(ctx context.Context, tx *sqlx.Tx, a backend.AppointmentDto) error {
	for i, p := range a.Attendees {
		row := attendeeRow{AppointmentID: a.ExchangeID, Position: i, Name: p.Name, Email: p.Email, Optional: p.Optional}
		if _, err := tx.NamedExecContext(ctx, insertAttendeeSQL, row); err != nil {
			return fmt.Errorf("attendee %d of %s: %w", i, a.ExchangeID, err)
		}
	}
	return nil
}

// TaskEvent is one journaled task change
type TaskEvent struct {
	ID         int64      `db:"id" json:"id" yaml:"id"`
	RunID      string     `db:"run_id" json:"run_id" yaml:"run_id"`
	ExchangeID string     `db:"exchange_id" json:"exchange_id" yaml:"exchange_id"`
	Name       string     `db:"name" json:"name" yaml:"name"`
	Completed  bool       `db:"completed" json:"completed" yaml:"completed"`
	DueDate    *time.Time `db:"-" json:"due_date,omitempty" yaml:"due_date,omitempty"`
	ReceivedAt time.Time  `db:"-" json:"received_at" yaml:"received_at"`
}

type taskEventRow struct {
	TaskEvent
	DueDateUnix    sql.NullInt64 `db:"due_date"`
	ReceivedAtUnix int64         `db:"received_at"`
}

// RecordTaskEvent journals a change and updates the mirrored task
func (sb *SQLiteBackend) RecordTaskEvent(ctx context.Context, task backend.TaskDto) error {
	now := sb.now()
	return sb.withTx(ctx, "RecordTaskEvent", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_events (run_id, exchange_id, name, completed, due_date, received_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sb.runID, task.ExchangeID, task.Name, task.Completed, timeToNullInt64(task.DueDate), now.Unix())
		if err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, upsertTaskSQL, newTaskRow(task, now))
		return err
	})
}

// TaskEvents returns the most recent events first; limit <= 0 returns all
func (sb *SQLiteBackend) TaskEvents(ctx context.Context, limit int) ([]TaskEvent, error) {
	query := `
		SELECT id, run_id, exchange_id, name, completed, due_date, received_at
		FROM task_events
		ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []taskEventRow
	if err := sb.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, &SQLiteError{Op: "TaskEvents", Err: err}
	}

	events := make([]TaskEvent, 0, len(rows))
	for _, r := range rows {
		e := r.TaskEvent
		e.DueDate = nullInt64ToTimePtr(r.DueDateUnix)
		e.ReceivedAt = time.Unix(r.ReceivedAtUnix, 0).UTC()
		events = append(events, e)
	}
	return events, nil
}

// TaskChanged journals tasks delivered by an event source
func (sb *SQLiteBackend) TaskChanged(task backend.TaskDto) {
	if err := sb.RecordTaskEvent(context.Background(), task); err != nil {
		utils.WithError(err).WithField("item", task.ExchangeID).Error("Failed to journal task change")
	}
}

func (sb *SQLiteBackend) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := sb.db.BeginTxx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: op, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		var sqlErr *SQLiteError
		if errors.As(err, &sqlErr) {
			return err
		}
		return &SQLiteError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: op, Err: err}
	}
	return nil
}

func checkAffected(op, id string, result sql.Result, err error) error {
	if err != nil {
		return &SQLiteError{Op: op, Err: err, ItemID: id}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return &SQLiteError{Op: op, Err: err, ItemID: id}
	}
	if n == 0 {
		return &SQLiteError{Op: op, Err: ErrNotFound, ItemID: id}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeToNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return timeValueToNullInt64(*t)
}

func timeValueToNullInt64(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullInt64ToTime(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

func nullInt64ToTimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
