// Package conversation stores chat conversations and their transcripts, and
// binds each conversation to the account that was active when its first
// message arrived. The binding is descriptive: task execution never reads
// it.
package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	timeFormat       = "2006-01-02T15:04:05.000000000Z07:00"
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store persists conversations and messages in the metadata database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	mu      sync.Mutex // guards entropy
	entropy *ulid.MonotonicEntropy

	now func() time.Time
}

// NewStore creates a conversation store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:      db,
		logger:  logger.With().Str("subsystem", "conversations").Logger(),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// newMessageID returns a ULID; ids sort in creation order.
func (s *Store) newMessageID(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// Create starts a conversation. An empty title is filled from the first
// message.
func (s *Store) Create(ctx context.Context, title string) (*core.Conversation, error) {
	now := s.now()
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, strings.TrimSpace(title), now.Format(timeFormat), now.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug().Str("conversation", id).Msg("conversation created")
	return s.Get(ctx, id)
}

// Get returns one conversation with its message count.
func (s *Store) Get(ctx context.Context, id string) (*core.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, selectConversations+" WHERE c.id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer rows.Close()

	convs, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, core.NotFound("conversation %q not found", id)
	}
	return &convs[0], nil
}

// List returns conversations, most recently updated first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]core.Conversation, error) {
	if offset < 0 {
		return nil, core.InvalidArgument("offset must not be negative")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		selectConversations+" ORDER BY c.updated_at DESC, c.id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// Rename replaces a conversation's title.
func (s *Store) Rename(ctx context.Context, id, title string) (*core.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, core.InvalidArgument("conversation title is required")
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?",
		title, s.now().Format(timeFormat), id)
	if err != nil {
		return nil, fmt.Errorf("renaming conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.NotFound("conversation %q not found", id)
	}
	return s.Get(ctx, id)
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("conversation %q not found", id)
	}
	return nil
}

// Messages returns a conversation's transcript in order.
func (s *Store) Messages(ctx context.Context, id string) ([]core.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, task_id, created_at
		   FROM messages WHERE conversation_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []core.Message
	for rows.Next() {
		var m core.Message
		var role, created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.TaskID, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = core.MessageRole(role)
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageInput is one message to append.
type MessageInput struct {
	ConversationID string
	Role           core.MessageRole
	Content        string
	TaskID         string
}

// AddMessage appends a message. When it is the conversation's first message
// the conversation is bound to activeAlias (which may be empty) and, if
// untitled, titled from the content.
func (s *Store) AddMessage(ctx context.Context, in MessageInput, activeAlias string) (*core.Message, error) {
	if !in.Role.Valid() {
		return nil, core.InvalidArgument("unknown message role %q", in.Role)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, core.InvalidArgument("message content is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var title string
	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT c.title, (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		   FROM conversations c WHERE c.id = ?`, in.ConversationID,
	).Scan(&title, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFound("conversation %q not found", in.ConversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	now := s.now()
	msg := core.Message{
		ID:             s.newMessageID(now),
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        content,
		TaskID:         in.TaskID,
		CreatedAt:      now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, task_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.TaskID, now.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if count == 0 {
		if _, err := bind(ctx, tx, in.ConversationID, activeAlias); err != nil {
			return nil, err
		}
		if title == "" {
			if _, err := tx.ExecContext(ctx, "UPDATE conversations SET title = ? WHERE id = ?",
				GenerateTitle(content), in.ConversationID); err != nil {
				return nil, fmt.Errorf("titling conversation: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?",
		now.Format(timeFormat), in.ConversationID); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	if count == 0 {
		s.logger.Debug().Str("conversation", in.ConversationID).Str("alias", activeAlias).Msg("conversation bound")
	}
	return &msg, nil
}

// BindOnFirstMessage records alias as the conversation's account unless it
// is already bound. It reports whether this call made the binding.
func (s *Store) BindOnFirstMessage(ctx context.Context, id, alias string) (bool, error) {
	return bind(ctx, s.db, id, alias)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func bind(ctx context.Context, db execer, id, alias string) (bool, error) {
	res, err := db.ExecContext(ctx,
		"UPDATE conversations SET bound = 1, bound_account = ? WHERE id = ? AND bound = 0", alias, id)
	if err != nil {
		return false, fmt.Errorf("binding conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

const selectConversations = `SELECT c.id, c.title, c.bound_account, c.bound, c.created_at, c.updated_at,
       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
  FROM conversations c`

func scanConversations(rows *sql.Rows) ([]core.Conversation, error) {
	var convs []core.Conversation
	for rows.Next() {
		var c core.Conversation
		var bound int
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Title, &c.BoundAccount, &bound, &created, &updated, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		c.Bound = bound == 1
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}
