package core

import (
	"fmt"
	"time"
)

// TaskStatus tracks a task's lifecycle:
// pending -> in_progress -> completed | failed.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is legal from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskRecord is one unit of asynchronous work run under an account's
// credentials. AccountAlias is captured at creation and never rewritten.
// CompletedAt and Duration are set iff the status is terminal; Result only
// on completed, Error only on failed.
type TaskRecord struct {
	ID             string         `json:"id"`
	Description    string         `json:"description"`
	AccountAlias   string         `json:"account_alias"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Status         TaskStatus     `json:"status"`
	Result         *string        `json:"result,omitempty"`
	Error          *string        `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Duration       *time.Duration `json:"duration,omitempty"`
}

// TaskTransition is published for every state change of a task.
type TaskTransition struct {
	From TaskStatus `json:"from,omitempty"`
	To   TaskStatus `json:"to"`
	Task TaskRecord `json:"task"`
}

// NewTask returns a pending record.
func NewTask(id, description, alias, conversationID string, now time.Time) *TaskRecord {
	return &TaskRecord{
		ID:             id,
		Description:    description,
		AccountAlias:   alias,
		ConversationID: conversationID,
		Status:         TaskPending,
		CreatedAt:      now,
	}
}

// Start moves a pending task to in_progress.
func (t *TaskRecord) Start() error {
	if t.Status != TaskPending {
		return t.illegal(TaskInProgress)
	}
	t.Status = TaskInProgress
	return nil
}

// Complete moves an in-progress task to completed with its result.
func (t *TaskRecord) Complete(result string, at time.Time) error {
	if t.Status != TaskInProgress {
		return t.illegal(TaskCompleted)
	}
	t.Status = TaskCompleted
	t.Result = &result
	t.finish(at)
	return nil
}

// Fail moves an in-progress task to failed with an error message.
func (t *TaskRecord) Fail(message string, at time.Time) error {
	if t.Status != TaskInProgress {
		return t.illegal(TaskFailed)
	}
	t.Status = TaskFailed
	t.Error = &message
	t.finish(at)
	return nil
}

func (t *TaskRecord) finish(at time.Time) {
	at = at.UTC()
	d := at.Sub(t.CreatedAt)
	if d < 0 {
		d = 0
	}
	t.CompletedAt = &at
	t.Duration = &d
}

func (t *TaskRecord) illegal(to TaskStatus) error {
	return &Error{
		Code:   CodeInvalidTransition,
		Reason: fmt.Sprintf("task %s cannot move from %s to %s", t.ID, t.Status, to),
	}
}

// CheckInvariants reports a violation of the terminal-field invariants.
func (t *TaskRecord) CheckInvariants() error {
	terminal := t.Status.Terminal()
	if terminal != (t.CompletedAt != nil) || terminal != (t.Duration != nil) {
		return fmt.Errorf("task %s: completion fields inconsistent with status %s", t.ID, t.Status)
	}
	if t.Result != nil && t.Status != TaskCompleted {
		return fmt.Errorf("task %s: result present on %s task", t.ID, t.Status)
	}
	if t.Error != nil && t.Status != TaskFailed {
		return fmt.Errorf("task %s: error present on %s task", t.ID, t.Status)
	}
	return nil
}
