package api

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/nooble8/ragcore/pkg/chat"
	"github.com/nooble8/ragcore/pkg/progress"
)

// ingestionWSHandler handles GET /ws/ingestion/:task_id: subscribes the
// client to the task's progress frames.
func (s *Server) ingestionWSHandler(c *gin.Context) {
	taskID := c.Param("task_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Origin checks are the gateway's responsibility.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "task_id", taskID, "error", err)
		return
	}

	s.progress.HandleConnection(c.Request.Context(), conn, progress.TaskChannel(taskID))
}

// chatWSHandler handles GET /ws/chat/:session_id: subscribes the client to
// session events and feeds inbound frames to the chat orchestrator.
func (s *Server) chatWSHandler(c *gin.Context) {
	identity := identityFrom(c)
	sessionID := c.Param("session_id")
	agentID := c.Query("agent_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	state := chat.SessionState{
		TenantID:  identity.TenantID,
		SessionID: sessionID,
		AgentID:   agentID,
		UserID:    identity.UserID,
	}

	s.progress.HandleConnectionFunc(c.Request.Context(), conn, progress.SessionChannel(sessionID),
		func(ctx context.Context, data []byte) {
			var req chat.Request
			if err := json.Unmarshal(data, &req); err != nil {
				s.progress.SendErrorToSession(sessionID, "invalid_message", "malformed chat message", "")
				return
			}
			if _, err := s.chat.ProcessMessage(ctx, state, req); err != nil {
				// ProcessMessage already emitted the session error for
				// dispatch failures; validation errors surface here.
				slog.Warn("Chat message rejected", "session_id", sessionID, "error", err)
			}
		})
}
