// Package app wires the sidekick subsystems together. A process opens one App
// at start and closes it on exit.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eichemberger/aws-sidekick/internal/audit"
	awsx "github.com/eichemberger/aws-sidekick/internal/aws"
	"github.com/eichemberger/aws-sidekick/internal/config"
	"github.com/eichemberger/aws-sidekick/internal/conversation"
	"github.com/eichemberger/aws-sidekick/internal/credstore"
	"github.com/eichemberger/aws-sidekick/internal/db"
	"github.com/eichemberger/aws-sidekick/internal/registry"
	"github.com/eichemberger/aws-sidekick/internal/session"
	"github.com/eichemberger/aws-sidekick/internal/task"
	"github.com/eichemberger/aws-sidekick/internal/toolbox"
	"github.com/eichemberger/aws-sidekick/internal/validator"
	"github.com/rs/zerolog"
)

// App holds every subsystem of a running sidekick.
type App struct {
	Config     config.Config
	MetadataDB *sql.DB
	AuditDB    *sql.DB
	Audit      *audit.Logger
	Logger     zerolog.Logger

	Store         credstore.Store
	Session       *session.Session
	Registry      *registry.Registry
	Clients       *awsx.ClientFactory
	Validator     *validator.Validator
	Tools         *toolbox.Registry
	Tasks         *task.Engine
	Conversations *conversation.Store

	repliesDone chan struct{}
}

// Option adjusts how Open builds the App.
type Option func(*options)

type options struct {
	executor task.Executor
	store    credstore.Store
}

// WithExecutor replaces the toolbox executor that runs tasks.
func WithExecutor(exec task.Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithStore supplies the credential store instead of choosing one from cfg.
func WithStore(store credstore.Store) Option {
	return func(o *options) { o.store = store }
}

// Open creates the data directory and databases, selects the credential
// store backend, and fails any task a previous process left unfinished.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := db.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}

	metaDB, err := db.OpenMetadataDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}

	auditDB, err := db.OpenAuditDB(cfg.DataDir)
	if err != nil {
		metaDB.Close()
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	al, err := audit.NewLogger(auditDB)
	if err != nil {
		metaDB.Close()
		auditDB.Close()
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	store := o.store
	if store == nil {
		store, err = credstore.New(cfg, logger)
		if err != nil {
			metaDB.Close()
			auditDB.Close()
			return nil, fmt.Errorf("opening credential store: %w", err)
		}
	}

	sess := session.New()
	reg := registry.New(metaDB, store, sess, al, logger)
	clients := awsx.NewClientFactory(logger, cfg.RateLimitPerService)

	tools := toolbox.NewRegistry()
	toolbox.RegisterBuiltinTools(tools, clients)

	exec := o.executor
	if exec == nil {
		exec = toolbox.NewExecutor(tools, clients, logger)
	}

	engine := task.NewEngine(task.NewRepository(metaDB), reg, sess, exec, al, logger, task.Options{
		Concurrency: cfg.TaskConcurrency,
		Timeout:     cfg.TaskTimeout,
	})
	interrupted, err := engine.Recover(ctx)
	if err != nil {
		store.Close()
		metaDB.Close()
		auditDB.Close()
		return nil, fmt.Errorf("recovering tasks: %w", err)
	}
	if interrupted > 0 {
		logger.Warn().Int("count", interrupted).Msg("tasks interrupted by restart marked failed")
	}

	a := &App{
		Config:        cfg,
		MetadataDB:    metaDB,
		AuditDB:       auditDB,
		Audit:         al,
		Logger:        logger,
		Store:         store,
		Session:       sess,
		Registry:      reg,
		Clients:       clients,
		Validator:     validator.New(clients, cfg.ValidatorTimeout, logger),
		Tools:         tools,
		Tasks:         engine,
		Conversations: conversation.NewStore(metaDB, logger),
		repliesDone:   make(chan struct{}),
	}

	transitions, _ := engine.Subscribe()
	go func() {
		defer close(a.repliesDone)
		a.Conversations.RecordTaskReplies(context.Background(), transitions)
	}()

	logger.Info().
		Str("data_dir", cfg.DataDir).
		Bool("durable_credentials", cfg.DevMode()).
		Int("task_concurrency", cfg.TaskConcurrency).
		Msg("sidekick opened")
	return a, nil
}

// Close stops the task engine, waiting for running tasks until ctx ends,
// then releases the store and databases.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if err := a.Tasks.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("shutting down tasks: %w", err)
	}
	<-a.repliesDone

	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.MetadataDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.AuditDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
