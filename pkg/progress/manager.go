// Package progress fans out task progress and session events to subscribed
// WebSocket clients. Delivery is best-effort per subscriber; the fan-out is
// local to the process — callbacks route back to their origin service, so the
// process that owns a task is also the one holding its subscribers.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// TaskChannel returns the channel name for a task's progress events.
func TaskChannel(taskID string) string {
	return "task:" + taskID
}

// SessionChannel returns the channel name for a chat session's events.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ProgressUpdate is the JSON frame delivered to ingestion subscribers.
type ProgressUpdate struct {
	Type            string  `json:"type"`
	TaskID          string  `json:"task_id"`
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	Percentage      float64 `json:"percentage"`
	TotalChunks     *int    `json:"total_chunks,omitempty"`
	ProcessedChunks *int    `json:"processed_chunks,omitempty"`
	Error           string  `json:"error,omitempty"`
	Timestamp       string  `json:"timestamp"`
}

// Connection represents a single WebSocket client subscribed to one channel.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Channel string
	ctx     context.Context
	cancel  context.CancelFunc
}

// Manager tracks connections and their channel subscriptions.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	channels    map[string]map[string]bool // channel → set of connection ids

	writeTimeout time.Duration
}

// NewManager creates a fan-out manager.
func NewManager(writeTimeout time.Duration) *Manager {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection subscribes an upgraded WebSocket to a channel and blocks
// until the connection closes. The read loop only services pings; all data
// flows server → client.
func (m *Manager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, channel string) {
	m.HandleConnectionFunc(parentCtx, conn, channel, nil)
}

// HandleConnectionFunc is HandleConnection with an inbound-message hook:
// non-ping client frames are passed to onMessage (chat sessions send their
// messages over the same socket that receives events).
func (m *Manager) HandleConnectionFunc(parentCtx context.Context, conn *websocket.Conn, channel string, onMessage func(ctx context.Context, data []byte)) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:      uuid.New().String(),
		Conn:    conn,
		Channel: channel,
		ctx:     ctx,
		cancel:  cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.ID,
		"channel":       channel,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			m.sendJSON(c, map[string]string{"type": "pong"})
			continue
		}
		if onMessage != nil {
			onMessage(ctx, data)
		}
	}
}

// SendProgressUpdate broadcasts an ingestion progress frame to the task's
// subscribers.
func (m *Manager) SendProgressUpdate(taskID, status, message string, percentage float64, totalChunks, processedChunks *int, errMsg string) {
	update := ProgressUpdate{
		Type:            "progress_update",
		TaskID:          taskID,
		Status:          status,
		Message:         message,
		Percentage:      percentage,
		TotalChunks:     totalChunks,
		ProcessedChunks: processedChunks,
		Error:           errMsg,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(update)
	if err != nil {
		slog.Warn("Failed to marshal progress update", "task_id", taskID, "error", err)
		return
	}
	m.broadcast(TaskChannel(taskID), payload)
}

// SendToSession delivers a typed event to a chat session's subscribers.
func (m *Manager) SendToSession(sessionID, messageType string, data map[string]any, taskID string) {
	frame := map[string]any{
		"type":       messageType,
		"session_id": sessionID,
		"data":       data,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if taskID != "" {
		frame["task_id"] = taskID
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		slog.Warn("Failed to marshal session event", "session_id", sessionID, "error", err)
		return
	}
	m.broadcast(SessionChannel(sessionID), payload)
}

// SendErrorToSession delivers an error event to a chat session's subscribers.
func (m *Manager) SendErrorToSession(sessionID, errorType, message, taskID string) {
	m.SendToSession(sessionID, "error", map[string]any{
		"error_type": errorType,
		"message":    message,
	}, taskID)
}

// SubscriberCount returns the number of subscribers for a channel.
func (m *Manager) SubscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels[channel])
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// broadcast sends a payload to every subscriber of a channel. Slow or dead
// connections fail their individual write and are dropped silently.
func (m *Manager) broadcast(channel string, payload []byte) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.channels[channel]))
	for id := range m.channels[channel] {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", c.ID, "channel", channel, "error", err)
		}
	}
}

func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
	if _, ok := m.channels[c.Channel]; !ok {
		m.channels[c.Channel] = make(map[string]bool)
	}
	m.channels[c.Channel][c.ID] = true
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	if subs, ok := m.channels[c.Channel]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, c.Channel)
		}
	}
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *Connection, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, payload); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *Manager) sendRaw(c *Connection, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, payload)
}
