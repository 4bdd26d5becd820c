// Package conversation persists chat exchanges. Both action types it serves
// are fire-and-forget: failures are logged and dropped, never retried into a
// storm and never poisoning the queue.
package conversation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/models"
	"github.com/nooble8/ragcore/pkg/worker"
)

// Store is the relational surface. Implemented by *store.Store.
type Store interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	InsertConversation(ctx context.Context, conv *models.Conversation) error
	CloseActiveConversation(ctx context.Context, tenantID, sessionID, agentID string) (bool, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
}

// Service persists conversations and messages.
type Service struct {
	store Store
}

// NewService creates the conversation persistence service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// RegisterHandlers binds the conversation action types.
func (s *Service) RegisterHandlers(registry *worker.Registry) {
	registry.Register(actions.TypeMessageCreate, s.HandleMessageCreate)
	registry.Register(actions.TypeSessionClosed, s.HandleSessionClosed, worker.WithNoData())
}

// HandleMessageCreate serves conversation.message.create: upserts the
// conversation row and inserts the user and assistant messages. Missing
// required fields cause a logged skip.
func (s *Service) HandleMessageCreate(ctx context.Context, a *actions.Action) (map[string]any, error) {
	conversationID := a.DataString("conversation_id")
	userMessage := a.DataString("user_message")
	agentMessage := a.DataString("agent_message")

	log := slog.With("action_id", a.ActionID, "conversation_id", conversationID)

	if conversationID == "" || userMessage == "" || agentMessage == "" {
		log.Error("Skipping message create with missing fields",
			"has_conversation_id", conversationID != "",
			"has_user_message", userMessage != "",
			"has_agent_message", agentMessage != "")
		return nil, nil
	}

	if err := s.ensureConversation(ctx, conversationID, a); err != nil {
		log.Error("Failed to ensure conversation", "error", err)
		return nil, nil
	}

	metadata, _ := a.Data["metadata"].(map[string]any)
	for _, msg := range []*models.Message{
		{ConversationID: conversationID, Role: "user", Content: userMessage, Metadata: metadata},
		{ConversationID: conversationID, Role: "assistant", Content: agentMessage, Metadata: metadata},
	} {
		if err := s.store.InsertMessage(ctx, msg); err != nil {
			log.Error("Failed to save message", "role", msg.Role, "error", err)
			return nil, nil
		}
	}

	log.Info("Exchange saved", "session_id", a.SessionID, "message_count", 2)
	return nil, nil
}

// HandleSessionClosed serves conversation.session.closed: deactivates the
// active conversation row for the session.
func (s *Service) HandleSessionClosed(ctx context.Context, a *actions.Action) (map[string]any, error) {
	log := slog.With("action_id", a.ActionID, "session_id", a.SessionID)

	if a.TenantID == "" || a.SessionID == "" || a.AgentID == "" {
		log.Warn("Skipping session close with missing fields")
		return nil, nil
	}

	closed, err := s.store.CloseActiveConversation(ctx, a.TenantID, a.SessionID, a.AgentID)
	if err != nil {
		log.Error("Failed to close conversation", "error", err)
		return nil, nil
	}
	if !closed {
		log.Warn("No active conversation to close")
		return nil, nil
	}

	log.Info("Conversation closed")
	return nil, nil
}

// ensureConversation creates the conversation row if it does not exist yet.
func (s *Service) ensureConversation(ctx context.Context, conversationID string, a *actions.Action) error {
	_, err := s.store.GetConversation(ctx, conversationID)
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindNotFound {
		return err
	}

	conv := &models.Conversation{
		ID:        conversationID,
		TenantID:  a.TenantID,
		SessionID: a.SessionID,
		AgentID:   a.AgentID,
		IsActive:  true,
	}
	if err := s.store.InsertConversation(ctx, conv); err != nil {
		return err
	}
	slog.Info("Conversation created", "conversation_id", conversationID)
	return nil
}
