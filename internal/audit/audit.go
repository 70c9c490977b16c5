// Package audit provides the append-only audit log for account and task
// events. Records form a hash chain for tamper detection.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// EventType categorizes audit log entries.
type EventType string

const (
	EventAccountRegistered    EventType = "account_registered"
	EventCredentialsUpdated   EventType = "credentials_updated"
	EventAccountDeleted       EventType = "account_deleted"
	EventDefaultChanged       EventType = "default_changed"
	EventActiveChanged        EventType = "active_changed"
	EventCredentialsValidated EventType = "credentials_validated"
	EventCredentialsCleared   EventType = "credentials_cleared"
	EventTaskSubmitted        EventType = "task_submitted"
	EventTaskFinished         EventType = "task_finished"
)

// Logger writes tamper-evident audit records to the audit database.
type Logger struct {
	db       *sql.DB
	mu       sync.Mutex
	lastHash string
	now      func() time.Time
}

// NewLogger creates an audit logger, resuming the chain from the last record.
func NewLogger(db *sql.DB) (*Logger, error) {
	al := &Logger{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}

	var lastHash sql.NullString
	err := db.QueryRow("SELECT record_hash FROM audit_log ORDER BY id DESC LIMIT 1").Scan(&lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recovering audit chain: %w", err)
	}
	if lastHash.Valid {
		al.lastHash = lastHash.String
	}

	return al, nil
}

// Log appends an event. alias and taskID may be empty. detail must not
// contain secret material.
func (al *Logger) Log(eventType EventType, operator, alias, taskID string, detail any) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		detailJSON = []byte(fmt.Sprintf(`{"error":"failed to marshal detail: %s"}`, err))
	}
	if operator == "" {
		operator = "local"
	}

	ts := al.now()
	recordHash := chainHash(al.lastHash, ts.Format(time.RFC3339Nano), string(eventType), operator, alias, taskID, string(detailJSON))

	_, err = al.db.Exec(
		`INSERT INTO audit_log (timestamp, alias, task_id, operator, event_type, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.Format(time.RFC3339Nano),
		alias,
		taskID,
		operator,
		string(eventType),
		string(detailJSON),
		recordHash,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}

	al.lastHash = recordHash
	return nil
}

// chainHash links a record to its predecessor:
// SHA-256(previousHash + timestamp + eventType + operator + alias + taskID + detail)
func chainHash(prev, ts, eventType, operator, alias, taskID, detail string) string {
	h := sha256.Sum256([]byte(prev + ts + eventType + operator + alias + taskID + detail))
	return hex.EncodeToString(h[:])
}

// Verify checks the integrity of the whole audit chain. It returns the
// number of records checked.
func Verify(db *sql.DB) (bool, int, error) {
	rows, err := db.Query(
		"SELECT timestamp, event_type, operator, alias, task_id, detail, record_hash FROM audit_log ORDER BY id ASC",
	)
	if err != nil {
		return false, 0, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var previousHash string
	count := 0

	for rows.Next() {
		var ts, eventType, operator, alias, taskID, detail, recordHash string
		if err := rows.Scan(&ts, &eventType, &operator, &alias, &taskID, &detail, &recordHash); err != nil {
			return false, count, fmt.Errorf("scanning audit row: %w", err)
		}

		if chainHash(previousHash, ts, eventType, operator, alias, taskID, detail) != recordHash {
			return false, count, fmt.Errorf("audit chain broken at record %d", count+1)
		}

		previousHash = recordHash
		count++
	}

	return true, count, rows.Err()
}
