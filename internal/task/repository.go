package task

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/core"
)

// Fixed-width timestamps keep lexical order equal to time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Repository persists task records in the metadata database.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository over db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a new record. Records are numbered in insertion order so
// listing stays stable when creation times collide.
func (r *Repository) Insert(ctx context.Context, t *core.TaskRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, seq, description, account_alias, conversation_id, status,
		                    result, error, created_at, completed_at, duration_ms)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Description, t.AccountAlias, t.ConversationID, string(t.Status),
		t.Result, t.Error, t.CreatedAt.UTC().Format(timeFormat), completedAt(t), durationMS(t),
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.ID, err)
	}
	return nil
}

// Update writes the mutable fields of t. The account alias, description,
// and creation time are never rewritten.
func (r *Repository) Update(ctx context.Context, t *core.TaskRecord) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, error = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ?`,
		string(t.Status), t.Result, t.Error, completedAt(t), durationMS(t), t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("task %q not found", t.ID)
	}
	return nil
}

// Get returns one record.
func (r *Repository) Get(ctx context.Context, id string) (*core.TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectTasks+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, core.NotFound("task %q not found", id)
	}
	return &tasks[0], nil
}

// List returns records newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]core.TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectTasks+" ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// FailUnfinished marks every pending or in-progress record as failed with
// message. It returns the number of records changed.
func (r *Repository) FailUnfinished(ctx context.Context, message string, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT id, created_at FROM tasks WHERE status IN (?, ?)",
		string(core.TaskPending), string(core.TaskInProgress))
	if err != nil {
		return 0, fmt.Errorf("querying unfinished tasks: %w", err)
	}

	type unfinished struct {
		id      string
		created time.Time
	}
	var stale []unfinished
	for rows.Next() {
		var u unfinished
		var created string
		if err := rows.Scan(&u.id, &created); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning unfinished task: %w", err)
		}
		u.created = parseTime(created)
		stale = append(stale, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now = now.UTC()
	for _, u := range stale {
		d := now.Sub(u.created)
		if d < 0 {
			d = 0
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE tasks SET status = ?, error = ?, result = NULL, completed_at = ?, duration_ms = ? WHERE id = ?",
			string(core.TaskFailed), message, now.Format(timeFormat), d.Milliseconds(), u.id,
		)
		if err != nil {
			return 0, fmt.Errorf("failing task %s: %w", u.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing recovery: %w", err)
	}
	return len(stale), nil
}

const selectTasks = `SELECT id, description, account_alias, conversation_id, status,
       result, error, created_at, completed_at, duration_ms
  FROM tasks`

func scanTasks(rows *sql.Rows) ([]core.TaskRecord, error) {
	var tasks []core.TaskRecord
	for rows.Next() {
		var t core.TaskRecord
		var status, created string
		var result, errMsg, completed sql.NullString
		var duration sql.NullInt64

		err := rows.Scan(&t.ID, &t.Description, &t.AccountAlias, &t.ConversationID, &status,
			&result, &errMsg, &created, &completed, &duration)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}

		t.Status = core.TaskStatus(status)
		t.CreatedAt = parseTime(created)
		if result.Valid {
			t.Result = &result.String
		}
		if errMsg.Valid {
			t.Error = &errMsg.String
		}
		if completed.Valid {
			c := parseTime(completed.String)
			t.CompletedAt = &c
		}
		if duration.Valid {
			d := time.Duration(duration.Int64) * time.Millisecond
			t.Duration = &d
		}

		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func completedAt(t *core.TaskRecord) *string {
	if t.CompletedAt == nil {
		return nil
	}
	s := t.CompletedAt.UTC().Format(timeFormat)
	return &s
}

func durationMS(t *core.TaskRecord) *int64 {
	if t.Duration == nil {
		return nil
	}
	ms := t.Duration.Milliseconds()
	return &ms
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}
