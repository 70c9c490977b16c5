// service.go implements the sidekick API service layer. Handlers decode
// requests and delegate here; nothing in this file knows about gRPC.
package grpcapi

import (
	"context"
	"errors"

	"github.com/eichemberger/aws-sidekick/internal/app"
	"github.com/eichemberger/aws-sidekick/internal/audit"
	"github.com/eichemberger/aws-sidekick/internal/conversation"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/eichemberger/aws-sidekick/internal/registry"
	"github.com/eichemberger/aws-sidekick/internal/task"
	"github.com/eichemberger/aws-sidekick/internal/toolbox"
	"github.com/rs/zerolog"
)

// Service is the API surface shared by the gRPC handler and tests.
type Service struct {
	app    *app.App
	logger zerolog.Logger
}

// NewService creates a service over an opened App.
func NewService(a *app.App) *Service {
	return &Service{
		app:    a,
		logger: a.Logger.With().Str("subsystem", "api").Logger(),
	}
}

// --- Accounts ---

// RegisterAccountRequest registers a new account.
type RegisterAccountRequest struct {
	Alias        string           `json:"alias"`
	Bundle       core.BundleInput `json:"bundle"`
	Description  string           `json:"description,omitempty"`
	SetAsDefault bool             `json:"set_as_default,omitempty"`
	Validate     bool             `json:"validate,omitempty"`
}

func (s *Service) RegisterAccount(ctx context.Context, req RegisterAccountRequest) (*core.Account, error) {
	b, err := s.parseBundle(req.Bundle)
	if err != nil {
		return nil, err
	}

	identity, err := s.validateBeforeSave(ctx, req.Alias, b, req.Validate)
	if err != nil {
		return nil, err
	}

	return s.app.Registry.Register(ctx, registry.RegisterInput{
		Alias:        req.Alias,
		Bundle:       b,
		Description:  req.Description,
		SetAsDefault: req.SetAsDefault,
		Identity:     identity,
	})
}

// UpdateCredentialsRequest replaces an account's bundle.
type UpdateCredentialsRequest struct {
	Alias    string           `json:"alias"`
	Bundle   core.BundleInput `json:"bundle"`
	Validate bool             `json:"validate,omitempty"`
}

func (s *Service) UpdateCredentials(ctx context.Context, req UpdateCredentialsRequest) (*core.Account, error) {
	b, err := s.parseBundle(req.Bundle)
	if err != nil {
		return nil, err
	}
	if _, err := s.app.Registry.Get(ctx, req.Alias); err != nil {
		return nil, err
	}

	identity, err := s.validateBeforeSave(ctx, req.Alias, b, req.Validate)
	if err != nil {
		return nil, err
	}
	return s.app.Registry.UpdateCredentials(ctx, req.Alias, b, identity)
}

// parseBundle fills a missing region from the configured default_region.
func (s *Service) parseBundle(in core.BundleInput) (core.CredentialBundle, error) {
	return core.ParseBundleWithDefault(in, s.app.Config.DefaultRegion)
}

// validateBeforeSave runs the validator when asked. A rejected bundle is
// never stored.
func (s *Service) validateBeforeSave(ctx context.Context, alias string, b core.CredentialBundle, validate bool) (*core.Identity, error) {
	if !validate {
		return nil, nil
	}
	res := s.app.Validator.Validate(ctx, b)
	if !res.Valid {
		return nil, core.ValidationFailed(alias, res.Error)
	}
	return res.Identity, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]core.Account, error) {
	accounts, err := s.app.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []core.Account{}
	}
	return accounts, nil
}

func (s *Service) GetAccount(ctx context.Context, alias string) (*core.Account, error) {
	return s.app.Registry.Get(ctx, alias)
}

func (s *Service) DeleteAccount(ctx context.Context, alias string) error {
	return s.app.Registry.Delete(ctx, alias)
}

func (s *Service) SetDefault(ctx context.Context, alias string) (*core.Account, error) {
	return s.app.Registry.SetDefault(ctx, alias)
}

func (s *Service) SetActive(ctx context.Context, alias string) (*core.Account, error) {
	return s.app.Registry.SetActive(ctx, alias)
}

func (s *Service) ClearActive(ctx context.Context) {
	s.app.Registry.ClearActive(ctx)
}

// GetActive returns the active account or a not_found error.
func (s *Service) GetActive(ctx context.Context) (*core.Account, error) {
	return s.app.Registry.Active(ctx)
}

// ValidateAccount checks a registered account's stored bundle and records
// the identity on success.
func (s *Service) ValidateAccount(ctx context.Context, alias string) (*core.ValidationResult, error) {
	b, err := s.app.Registry.Credentials(ctx, alias)
	if err != nil {
		return nil, err
	}

	res := s.app.Validator.Validate(ctx, b)
	if res.Valid && res.Identity != nil {
		if _, err := s.app.Registry.RecordValidation(ctx, alias, *res.Identity); err != nil {
			return nil, err
		}
	}
	return &res, nil
}

// --- Credentials ---

// ValidateCredentials checks a bundle without storing it.
func (s *Service) ValidateCredentials(ctx context.Context, in core.BundleInput) (*core.ValidationResult, error) {
	b, err := s.parseBundle(in)
	if err != nil {
		return nil, err
	}
	res := s.app.Validator.Validate(ctx, b)
	return &res, nil
}

// ClearCredentials wipes every stored bundle, keeping account metadata.
func (s *Service) ClearCredentials(ctx context.Context) error {
	return s.app.Registry.ClearAll(ctx)
}

// --- Tasks ---

// SubmitTaskRequest starts a task. An empty alias means the active account.
type SubmitTaskRequest struct {
	Description    string `json:"description"`
	Alias          string `json:"alias,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Service) SubmitTask(ctx context.Context, req SubmitTaskRequest) (*core.TaskRecord, error) {
	if req.ConversationID != "" {
		if _, err := s.app.Conversations.Get(ctx, req.ConversationID); err != nil {
			return nil, err
		}
	}
	return s.app.Tasks.Submit(ctx, task.SubmitInput{
		Description:    req.Description,
		AccountAlias:   req.Alias,
		ConversationID: req.ConversationID,
	})
}

func (s *Service) ListTasks(ctx context.Context, limit, offset int) ([]core.TaskRecord, error) {
	tasks, err := s.app.Tasks.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []core.TaskRecord{}
	}
	return tasks, nil
}

func (s *Service) GetTask(ctx context.Context, id string) (*core.TaskRecord, error) {
	return s.app.Tasks.Get(ctx, id)
}

// WaitTask blocks until the task is terminal or the caller's deadline passes.
func (s *Service) WaitTask(ctx context.Context, id string) (*core.TaskRecord, error) {
	return s.app.Tasks.Wait(ctx, id)
}

func (s *Service) ListTools() []toolbox.ToolMeta {
	return s.app.Tools.List()
}

// --- Conversations ---

func (s *Service) CreateConversation(ctx context.Context, title string) (*core.Conversation, error) {
	return s.app.Conversations.Create(ctx, title)
}

func (s *Service) ListConversations(ctx context.Context, limit, offset int) ([]core.Conversation, error) {
	convs, err := s.app.Conversations.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []core.Conversation{}
	}
	return convs, nil
}

func (s *Service) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	return s.app.Conversations.Get(ctx, id)
}

func (s *Service) RenameConversation(ctx context.Context, id, title string) (*core.Conversation, error) {
	return s.app.Conversations.Rename(ctx, id, title)
}

func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	return s.app.Conversations.Delete(ctx, id)
}

func (s *Service) ConversationMessages(ctx context.Context, id string) ([]core.Message, error) {
	msgs, err := s.app.Conversations.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	return msgs, nil
}

// SendResult is the outcome of a conversation send.
type SendResult struct {
	Message *core.Message    `json:"message"`
	Task    *core.TaskRecord `json:"task,omitempty"`
}

// SendMessage appends a user message and submits it as a task under the
// active account. The assistant reply is appended when the task finishes.
// When no task can be started, the reason is recorded as a system message
// and returned as the error.
func (s *Service) SendMessage(ctx context.Context, id, content string) (*SendResult, error) {
	active, _ := s.app.Session.Active()

	msg, err := s.app.Conversations.AddMessage(ctx, conversation.MessageInput{
		ConversationID: id,
		Role:           core.RoleUser,
		Content:        content,
	}, active)
	if err != nil {
		return nil, err
	}

	rec, err := s.app.Tasks.Submit(ctx, task.SubmitInput{
		Description:    msg.Content,
		AccountAlias:   active,
		ConversationID: id,
	})
	if err != nil {
		if _, serr := s.app.Conversations.AddMessage(ctx, conversation.MessageInput{
			ConversationID: id,
			Role:           core.RoleSystem,
			Content:        err.Error(),
		}, ""); serr != nil {
			s.logger.Error().Err(serr).Str("conversation", id).Msg("recording send failure")
		}
		return nil, err
	}
	return &SendResult{Message: msg, Task: rec}, nil
}

// --- Audit ---

// AuditStatus reports the state of the audit hash chain.
type AuditStatus struct {
	Valid bool `json:"valid"`
	Count int  `json:"count"`
}

func (s *Service) VerifyAudit() (*AuditStatus, error) {
	valid, count, err := audit.Verify(s.app.AuditDB)
	if err != nil {
		return nil, err
	}
	return &AuditStatus{Valid: valid, Count: count}, nil
}

// errorCode maps an error to the stable code carried in responses.
func errorCode(err error) string {
	if code := core.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "internal"
}
