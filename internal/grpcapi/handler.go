// handler.go implements a JSON-RPC-style handler over one gRPC unary method.
// Requests and responses travel as JSON through the codec in codec.go, so no
// generated stubs are needed.
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "sidekick.v1.SidekickService"
	CallMethod  = "/" + ServiceName + "/Call"

	codeUnknownMethod = "unknown_method"
	codeInternal      = "internal"
)

// RPCRequest is a generic JSON-RPC-style request.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a generic JSON-RPC-style response. Code is set with Error.
type RPCResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// Handler dispatches JSON-RPC requests to the Service.
type Handler struct {
	service  *Service
	logger   zerolog.Logger
	dispatch map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NewHandler creates a handler backed by the given service.
func NewHandler(svc *Service) *Handler {
	h := &Handler{service: svc, logger: svc.logger}
	h.dispatch = map[string]handlerFunc{
		// Accounts
		"account.register":           h.handleRegisterAccount,
		"account.list":               h.handleListAccounts,
		"account.get":                h.handleGetAccount,
		"account.update_credentials": h.handleUpdateCredentials,
		"account.delete":             h.handleDeleteAccount,
		"account.set_default":        h.handleSetDefault,
		"account.set_active":         h.handleSetActive,
		"account.clear_active":       h.handleClearActive,
		"account.get_active":         h.handleGetActive,
		"account.validate":           h.handleValidateAccount,

		// Credentials
		"credentials.validate": h.handleValidateCredentials,
		"credentials.clear":    h.handleClearCredentials,

		// Tasks
		"task.submit": h.handleSubmitTask,
		"task.list":   h.handleListTasks,
		"task.get":    h.handleGetTask,
		"task.wait":   h.handleWaitTask,
		"task.tools":  h.handleListTools,

		// Conversations
		"conversation.create":   h.handleCreateConversation,
		"conversation.list":     h.handleListConversations,
		"conversation.get":      h.handleGetConversation,
		"conversation.rename":   h.handleRenameConversation,
		"conversation.delete":   h.handleDeleteConversation,
		"conversation.messages": h.handleConversationMessages,
		"conversation.send":     h.handleSendMessage,

		// Audit
		"audit.verify": h.handleVerifyAudit,
	}
	return h
}

// Methods returns the names of all dispatchable methods.
func (h *Handler) Methods() []string {
	names := make([]string, 0, len(h.dispatch))
	for name := range h.dispatch {
		names = append(names, name)
	}
	return names
}

// Handle processes a JSON-RPC request and returns a response. Expected
// failures carry their code; anything else is reported as internal without
// detail.
func (h *Handler) Handle(ctx context.Context, req *RPCRequest) *RPCResponse {
	fn, ok := h.dispatch[req.Method]
	if !ok {
		return &RPCResponse{Error: fmt.Sprintf("unknown method: %s", req.Method), Code: codeUnknownMethod}
	}

	result, err := fn(ctx, req.Params)
	if err != nil {
		code := errorCode(err)
		if code == codeInternal {
			h.logger.Error().Err(err).Str("method", req.Method).Msg("request failed")
			return &RPCResponse{Error: "internal error; see server log", Code: code}
		}
		return &RPCResponse{Error: err.Error(), Code: code}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		h.logger.Error().Err(err).Str("method", req.Method).Msg("encoding result")
		return &RPCResponse{Error: "internal error; see server log", Code: codeInternal}
	}
	return &RPCResponse{Result: resultJSON}
}

// RegisterWithGRPC registers the handler as the sidekick gRPC service.
// Clients send RPCRequest JSON and receive RPCResponse JSON.
func (h *Handler) RegisterWithGRPC(s *grpc.Server) {
	sd := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*sidekickServiceHandler)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Call",
				Handler:    h.grpcCallHandler,
			},
		},
		Streams: []grpc.StreamDesc{},
	}
	s.RegisterService(&sd, h)
}

// sidekickServiceHandler is the interface type for gRPC service registration.
type sidekickServiceHandler interface{}

func (h *Handler) grpcCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req RPCRequest
	if err := dec(&req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if interceptor == nil {
		return h.Handle(ctx, &req), nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CallMethod}
	return interceptor(ctx, &req, info, func(ctx context.Context, r any) (any, error) {
		return h.Handle(ctx, r.(*RPCRequest)), nil
	})
}

// loggingInterceptor logs each call with its JSON-RPC method and outcome.
func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)

		ev := logger.Debug()
		if r, ok := resp.(*RPCResponse); ok && r.Code != "" {
			ev = logger.Info().Str("code", r.Code)
		}
		if rpc, ok := req.(*RPCRequest); ok {
			ev = ev.Str("method", rpc.Method)
		}
		ev.Dur("elapsed", time.Since(start)).Msg("rpc")
		return resp, err
	}
}

// --- Handler implementations ---

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return core.InvalidArgument("invalid params: %v", err)
	}
	return nil
}

type aliasParam struct {
	Alias string `json:"alias"`
}

type idParam struct {
	ID string `json:"id"`
}

type listParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type successResult struct {
	Success bool `json:"success"`
}

func (h *Handler) handleRegisterAccount(ctx context.Context, params json.RawMessage) (any, error) {
	var req RegisterAccountRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return h.service.RegisterAccount(ctx, req)
}

func (h *Handler) handleListAccounts(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.service.ListAccounts(ctx)
}

func (h *Handler) handleGetAccount(ctx context.Context, params json.RawMessage) (any, error) {
	var p aliasParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.GetAccount(ctx, p.Alias)
}

func (h *Handler) handleUpdateCredentials(ctx context.Context, params json.RawMessage) (any, error) {
	var req UpdateCredentialsRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return h.service.UpdateCredentials(ctx, req)
}

func (h *Handler) handleDeleteAccount(ctx context.Context, params json.RawMessage) (any, error) {
	var p aliasParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := h.service.DeleteAccount(ctx, p.Alias); err != nil {
		return nil, err
	}
	return successResult{Success: true}, nil
}

func (h *Handler) handleSetDefault(ctx context.Context, params json.RawMessage) (any, error) {
	var p aliasParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.SetDefault(ctx, p.Alias)
}

func (h *Handler) handleSetActive(ctx context.Context, params json.RawMessage) (any, error) {
	var p aliasParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.SetActive(ctx, p.Alias)
}

func (h *Handler) handleClearActive(ctx context.Context, _ json.RawMessage) (any, error) {
	h.service.ClearActive(ctx)
	return successResult{Success: true}, nil
}

func (h *Handler) handleGetActive(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.service.GetActive(ctx)
}

func (h *Handler) handleValidateAccount(ctx context.Context, params json.RawMessage) (any, error) {
	var p aliasParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.ValidateAccount(ctx, p.Alias)
}

type bundleParam struct {
	Bundle core.BundleInput `json:"bundle"`
}

func (h *Handler) handleValidateCredentials(ctx context.Context, params json.RawMessage) (any, error) {
	var p bundleParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.ValidateCredentials(ctx, p.Bundle)
}

func (h *Handler) handleClearCredentials(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.service.ClearCredentials(ctx); err != nil {
		return nil, err
	}
	return successResult{Success: true}, nil
}

func (h *Handler) handleSubmitTask(ctx context.Context, params json.RawMessage) (any, error) {
	var req SubmitTaskRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	return h.service.SubmitTask(ctx, req)
}

func (h *Handler) handleListTasks(ctx context.Context, params json.RawMessage) (any, error) {
	var p listParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.ListTasks(ctx, p.Limit, p.Offset)
}

func (h *Handler) handleGetTask(ctx context.Context, params json.RawMessage) (any, error) {
	var p idParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.GetTask(ctx, p.ID)
}

func (h *Handler) handleWaitTask(ctx context.Context, params json.RawMessage) (any, error) {
	var p idParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.WaitTask(ctx, p.ID)
}

func (h *Handler) handleListTools(_ context.Context, _ json.RawMessage) (any, error) {
	return h.service.ListTools(), nil
}

type titleParam struct {
	Title string `json:"title"`
}

func (h *Handler) handleCreateConversation(ctx context.Context, params json.RawMessage) (any, error) {
	var p titleParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.CreateConversation(ctx, p.Title)
}

func (h *Handler) handleListConversations(ctx context.Context, params json.RawMessage) (any, error) {
	var p listParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.ListConversations(ctx, p.Limit, p.Offset)
}

func (h *Handler) handleGetConversation(ctx context.Context, params json.RawMessage) (any, error) {
	var p idParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.GetConversation(ctx, p.ID)
}

type renameParams struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (h *Handler) handleRenameConversation(ctx context.Context, params json.RawMessage) (any, error) {
	var p renameParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.RenameConversation(ctx, p.ID, p.Title)
}

func (h *Handler) handleDeleteConversation(ctx context.Context, params json.RawMessage) (any, error) {
	var p idParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if err := h.service.DeleteConversation(ctx, p.ID); err != nil {
		return nil, err
	}
	return successResult{Success: true}, nil
}

func (h *Handler) handleConversationMessages(ctx context.Context, params json.RawMessage) (any, error) {
	var p idParam
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.ConversationMessages(ctx, p.ID)
}

type sendParams struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (h *Handler) handleSendMessage(ctx context.Context, params json.RawMessage) (any, error) {
	var p sendParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return h.service.SendMessage(ctx, p.ID, p.Content)
}

func (h *Handler) handleVerifyAudit(_ context.Context, _ json.RawMessage) (any, error) {
	return h.service.VerifyAudit()
}
