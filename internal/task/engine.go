// Package task runs asynchronous units of work under an account's
// credentials. Each task is bound to the account resolved at submission and
// receives its own copy of that account's bundle, so later changes to the
// registry or the active selection never affect a task in flight.
package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/audit"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/eichemberger/aws-sidekick/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultConcurrency = 4
	DefaultTimeout     = 5 * time.Minute

	// InterruptedMessage is recorded on tasks a previous process left
	// unfinished.
	InterruptedMessage = "interrupted by restart"

	// panicMessage replaces executor panics so no internal state leaks.
	panicMessage = "task failed: internal error in executor"

	subscriberBuffer = 256
	waitPollInterval = time.Second
	defaultListLimit = 50
	maxListLimit     = 500
)

// Executor performs the work described by a task. It receives a private
// copy of the bundle and must honour ctx.
type Executor interface {
	Execute(ctx context.Context, description string, bundle core.CredentialBundle) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, description string, bundle core.CredentialBundle) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, description string, bundle core.CredentialBundle) (string, error) {
	return f(ctx, description, bundle)
}

// CredentialSource resolves an alias to a copy of its bundle.
type CredentialSource interface {
	Credentials(ctx context.Context, alias string) (core.CredentialBundle, error)
}

// Options tunes the engine.
type Options struct {
	Concurrency int
	Timeout     time.Duration
}

// Engine accepts, runs, and records tasks.
type Engine struct {
	repo     *Repository
	creds    CredentialSource
	session  *session.Session
	executor Executor
	audit    *audit.Logger
	logger   zerolog.Logger

	slots   chan struct{}
	timeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	subs    map[int]chan core.TaskTransition
	nextSub int

	now       func() time.Time
	newID     func() string
	pollEvery time.Duration
}

// NewEngine creates an engine. Call Recover once before accepting work.
func NewEngine(repo *Repository, creds CredentialSource, sess *session.Session, exec Executor, al *audit.Logger, logger zerolog.Logger, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		repo:     repo,
		creds:    creds,
		session:  sess,
		executor: exec,
		audit:    al,
		logger:   logger.With().Str("subsystem", "tasks").Logger(),
		slots:    make(chan struct{}, opts.Concurrency),
		timeout:  opts.Timeout,
		baseCtx:  ctx,
		cancel:   cancel,
		subs:     make(map[int]chan core.TaskTransition),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },

		pollEvery: waitPollInterval,
	}
}

// Recover fails every task a previous process left pending or in progress.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	n, err := e.repo.FailUnfinished(ctx, InterruptedMessage, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Warn().Int("count", n).Msg("failed tasks interrupted by restart")
	}
	return n, nil
}

// SubmitInput describes a new task. An empty AccountAlias means the
// session's active account.
type SubmitInput struct {
	Description    string
	AccountAlias   string
	ConversationID string
}

// Submit resolves the account, records the task, and starts it. It returns
// once the task is in progress; the work continues in the background.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*core.TaskRecord, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return nil, core.InvalidArgument("task description is required")
	}

	alias := in.AccountAlias
	if alias == "" {
		active, ok := e.session.Active()
		if !ok {
			return nil, core.NoAccountSelected()
		}
		alias = active
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, &core.Error{Code: core.CodeBusy, Reason: "task engine is shutting down"}
	}
	e.wg.Add(1)
	e.mu.Unlock()

	select {
	case e.slots <- struct{}{}:
	default:
		e.wg.Done()
		return nil, core.Busy(cap(e.slots))
	}

	release := func() {
		<-e.slots
		e.wg.Done()
	}

	bundle, err := e.creds.Credentials(ctx, alias)
	if err != nil {
		release()
		return nil, err
	}

	rec := core.NewTask(e.newID(), desc, alias, in.ConversationID, e.now())
	if err := e.repo.Insert(ctx, rec); err != nil {
		release()
		return nil, err
	}
	e.publish(core.TaskTransition{To: core.TaskPending, Task: *rec})
	e.record(audit.EventTaskSubmitted, alias, rec.ID, map[string]string{"conversation_id": in.ConversationID})

	if err := rec.Start(); err != nil {
		release()
		return nil, err
	}
	if err := e.repo.Update(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("task", rec.ID).Msg("persisting task start")
	}
	e.publish(core.TaskTransition{From: core.TaskPending, To: core.TaskInProgress, Task: *rec})

	e.logger.Info().Str("task", rec.ID).Str("alias", alias).Msg("task started")

	snapshot := *rec
	go e.run(rec, bundle)
	return &snapshot, nil
}

type outcome struct {
	result string
	err    error
}

// run executes a task and records its final state. The task fails as soon
// as its deadline passes even if the executor ignores ctx; the slot stays
// taken until the executor actually returns.
func (e *Engine) run(rec *core.TaskRecord, bundle core.CredentialBundle) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.baseCtx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func(id, description string) {
		result, err := e.execute(ctx, id, description, bundle)
		done <- outcome{result: result, err: err}
	}(rec.ID, rec.Description)

	var out outcome
	select {
	case out = <-done:
		<-e.slots
	case <-ctx.Done():
		out.err = ctx.Err()
		go func(id string) {
			<-done
			<-e.slots
			e.logger.Debug().Str("task", id).Msg("executor returned after task deadline; result dropped")
		}(rec.ID)
	}

	now := e.now()
	if out.err != nil {
		msg := out.err.Error()
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			msg = fmt.Sprintf("timed out after %s", e.timeout)
		case errors.Is(ctx.Err(), context.Canceled):
			msg = "cancelled: engine shutting down"
		}
		rec.Fail(msg, now)
	} else {
		rec.Complete(out.result, now)
	}

	// The task context may be spent; the final write must still land.
	if err := e.repo.Update(context.Background(), rec); err != nil {
		e.logger.Error().Err(err).Str("task", rec.ID).Msg("persisting task result")
	}
	e.publish(core.TaskTransition{From: core.TaskInProgress, To: rec.Status, Task: *rec})

	e.record(audit.EventTaskFinished, rec.AccountAlias, rec.ID, map[string]any{
		"status":      rec.Status,
		"duration_ms": rec.Duration.Milliseconds(),
	})
	e.logger.Info().Str("task", rec.ID).Str("status", string(rec.Status)).Dur("duration", *rec.Duration).Msg("task finished")
}

func (e *Engine) record(event audit.EventType, alias, taskID string, detail any) {
	if err := e.audit.Log(event, "local", alias, taskID, detail); err != nil {
		e.logger.Warn().Err(err).Str("event", string(event)).Str("task", taskID).Msg("audit write failed")
	}
}

// execute runs the executor, turning a panic into a generic failure.
func (e *Engine) execute(ctx context.Context, id, description string, bundle core.CredentialBundle) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("task", id).Interface("panic", r).Msg("executor panicked")
			result, err = "", errors.New(panicMessage)
		}
	}()
	return e.executor.Execute(ctx, description, bundle)
}

// Get returns one task.
func (e *Engine) Get(ctx context.Context, id string) (*core.TaskRecord, error) {
	return e.repo.Get(ctx, id)
}

// List returns tasks newest first. A non-positive limit uses the default.
func (e *Engine) List(ctx context.Context, limit, offset int) ([]core.TaskRecord, error) {
	if offset < 0 {
		return nil, core.InvalidArgument("offset must not be negative")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return e.repo.List(ctx, limit, offset)
}

// Subscribe returns a stream of task transitions and a function that ends
// the subscription. A subscriber that falls more than the buffer behind
// misses transitions; the repository remains authoritative.
func (e *Engine) Subscribe() (<-chan core.TaskTransition, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan core.TaskTransition, subscriberBuffer)
	if e.closed {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

func (e *Engine) publish(tr core.TaskTransition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- tr:
		default:
			e.logger.Warn().Int("subscriber", id).Str("task", tr.Task.ID).Msg("subscriber behind; transition dropped")
		}
	}
}

// Wait blocks until task id is terminal or ctx is done. The repository is
// re-read periodically in case this subscriber missed the final transition.
func (e *Engine) Wait(ctx context.Context, id string) (*core.TaskRecord, error) {
	ch, cancel := e.Subscribe()
	defer cancel()

	rec, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, nil
	}

	ticker := time.NewTicker(e.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tr, ok := <-ch:
			if !ok {
				return e.repo.Get(context.Background(), id)
			}
			if tr.Task.ID == id && tr.To.Terminal() {
				t := tr.Task
				return &t, nil
			}
		case <-ticker.C:
			rec, err := e.repo.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if rec.Status.Terminal() {
				return rec, nil
			}
		}
	}
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first, running tasks are cancelled and recorded as failed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.cancel()
		<-done
	}
	e.cancel()

	e.mu.Lock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.mu.Unlock()
	return err
}
