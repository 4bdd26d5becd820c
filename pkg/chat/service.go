// Package chat orchestrates inbound chat messages: config resolution,
// dispatch to the execution service with a response callback, delivery of the
// response to the session, and asynchronous conversation persistence.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/worker"
)

// Bus is the action bus surface the orchestrator needs.
type Bus interface {
	SendWithCallback(ctx context.Context, a *actions.Action, callbackEventName string) error
	SendFireAndForget(ctx context.Context, a *actions.Action)
}

// ConfigSource resolves agent configs. Implemented by *configcache.Cache.
type ConfigSource interface {
	GetAgentConfigs(ctx context.Context, agentID string) (config.ExecutionConfig, config.QueryConfig, config.RAGConfig)
}

// Progress is the session fan-out surface. Implemented by *progress.Manager.
type Progress interface {
	SendToSession(sessionID, messageType string, data map[string]any, taskID string)
	SendErrorToSession(sessionID, errorType, message, taskID string)
}

// SessionState identifies the conversation an inbound message belongs to.
type SessionState struct {
	TenantID  string
	SessionID string
	AgentID   string
	UserID    string
}

// Request is one inbound chat message.
type Request struct {
	Message  string           `json:"message"`
	Tools    []map[string]any `json:"tools,omitempty"`
	TaskID   string           `json:"task_id,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// pendingExchange holds what the response callback needs to deliver and
// persist the exchange. Keyed by task_id; correlation is by task, never by
// temporal ordering.
type pendingExchange struct {
	state       SessionState
	userMessage string
}

// Service is the chat orchestrator.
type Service struct {
	bus      Bus
	configs  ConfigSource
	progress Progress
	service  string

	mu      sync.Mutex
	pending map[string]pendingExchange
}

// NewService creates the chat orchestrator.
func NewService(b Bus, configs ConfigSource, prog Progress, serviceName string) *Service {
	return &Service{
		bus:      b,
		configs:  configs,
		progress: prog,
		service:  serviceName,
		pending:  make(map[string]pendingExchange),
	}
}

// RegisterHandlers binds the orchestrator's callback types.
func (s *Service) RegisterHandlers(registry *worker.Registry) {
	registry.Register(actions.TypeChatResponse, s.HandleChatResponse, worker.WithTaskIDRequired())
}

// ProcessMessage handles one inbound chat message: allocates the task,
// resolves configs, notifies the session, and dispatches to the execution
// service with the response callback. Returns the task id.
func (s *Service) ProcessMessage(ctx context.Context, state SessionState, req Request) (string, error) {
	if state.TenantID == "" || state.SessionID == "" || state.AgentID == "" {
		return "", apperr.New(apperr.KindValidation, "tenant_id, session_id and agent_id are required")
	}
	if req.Message == "" {
		return "", apperr.New(apperr.KindValidation, "message is required")
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	}

	log := slog.With(
		"session_id", state.SessionID,
		"task_id", taskID,
		"agent_id", state.AgentID,
	)
	log.Info("Processing chat message")

	execCfg, queryCfg, ragCfg := s.configs.GetAgentConfigs(ctx, state.AgentID)

	mode := "simple"
	if len(req.Tools) > 0 {
		mode = "advance"
	}

	s.progress.SendToSession(state.SessionID, "chat_processing", map[string]any{
		"task_id": taskID,
		"status":  "processing",
		"mode":    mode,
	}, taskID)

	action := actions.New("execution.chat."+mode, state.TenantID, s.service)
	action.SessionID = state.SessionID
	action.TaskID = taskID
	action.AgentID = state.AgentID
	action.UserID = state.UserID
	action.ExecutionConfig = &execCfg
	action.QueryConfig = &queryCfg
	action.RAGConfig = &ragCfg
	action.Data = map[string]any{
		"message":  req.Message,
		"tools":    req.Tools,
		"metadata": req.Metadata,
	}

	if err := s.bus.SendWithCallback(ctx, action, actions.TypeChatResponse); err != nil {
		log.Error("Chat dispatch failed", "error", err)
		s.progress.SendErrorToSession(state.SessionID, "chat_processing_error", apperr.MessageOf(err), taskID)
		return "", err
	}

	s.mu.Lock()
	s.pending[taskID] = pendingExchange{state: state, userMessage: req.Message}
	s.mu.Unlock()

	log.Info("Chat request dispatched", "mode", mode)
	return taskID, nil
}

// HandleChatResponse serves orchestrator.chat.response: delivers the reply to
// the session and asynchronously persists the exchange fire-and-forget.
func (s *Service) HandleChatResponse(ctx context.Context, a *actions.Action) (map[string]any, error) {
	s.mu.Lock()
	exchange, ok := s.pending[a.TaskID]
	if ok {
		delete(s.pending, a.TaskID)
	}
	s.mu.Unlock()

	sessionID := a.SessionID
	if sessionID == "" {
		sessionID = exchange.state.SessionID
	}
	if sessionID == "" {
		slog.Error("Chat response without session correlation", "task_id", a.TaskID)
		return nil, nil
	}

	if errMsg := a.DataString("error"); errMsg != "" {
		s.progress.SendErrorToSession(sessionID, a.DataString("error_type"), errMsg, a.TaskID)
		return nil, nil
	}

	s.progress.SendToSession(sessionID, "chat_response", a.Data, a.TaskID)

	if !ok {
		// Response for a task this process never dispatched (or already
		// answered); delivered, but there is nothing to persist.
		return nil, nil
	}

	agentMessage := a.DataString("response")
	if agentMessage == "" {
		agentMessage = a.DataString("message")
	}

	persist := actions.New(actions.TypeMessageCreate, exchange.state.TenantID, s.service)
	persist.SessionID = exchange.state.SessionID
	persist.TaskID = a.TaskID
	persist.AgentID = exchange.state.AgentID
	persist.UserID = exchange.state.UserID
	persist.Data = map[string]any{
		"conversation_id": ConversationID(exchange.state.SessionID, exchange.state.AgentID),
		"user_message":    exchange.userMessage,
		"agent_message":   agentMessage,
		"metadata":        a.Metadata,
	}
	s.bus.SendFireAndForget(ctx, persist)

	return nil, nil
}

// CancelTask emits execution.task.cancel fire-and-forget. The receiving
// service observes the cancel at its next suspension point; the compliant
// outcome is a task failed with reason "cancelled".
func (s *Service) CancelTask(ctx context.Context, state SessionState, taskID, reason string) {
	if reason == "" {
		reason = "user_requested"
	}
	action := actions.New(actions.TypeTaskCancel, state.TenantID, s.service)
	action.SessionID = state.SessionID
	action.TaskID = taskID
	action.AgentID = state.AgentID
	action.Data = map[string]any{"reason": reason}
	s.bus.SendFireAndForget(ctx, action)
}

// CloseSession emits conversation.session.closed fire-and-forget.
func (s *Service) CloseSession(ctx context.Context, state SessionState) {
	action := actions.New(actions.TypeSessionClosed, state.TenantID, s.service)
	action.SessionID = state.SessionID
	action.AgentID = state.AgentID
	s.bus.SendFireAndForget(ctx, action)
}

// ConversationID derives the stable conversation key for a (session, agent)
// pair, so retried persistence actions land on the same row.
func ConversationID(sessionID, agentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+":"+agentID)).String()
}
