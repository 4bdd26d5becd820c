package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialChannel connects a test client subscribed to the given channel and returns
// it with its connection-established frame already consumed.
func dialChannel(t *testing.T, m *Manager, channel string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		m.HandleConnection(r.Context(), conn, channel)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// connection.established
	var hello map[string]any
	readJSON(t, conn, &hello)
	require.Equal(t, "connection.established", hello["type"])

	// Wait until the manager registered the subscription.
	require.Eventually(t, func() bool {
		return m.SubscriberCount(channel) == 1
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestProgressDelivery(t *testing.T) {
	m := NewManager(time.Second)
	conn := dialChannel(t, m, TaskChannel("task-1"))

	total, processed := 3, 1
	m.SendProgressUpdate("task-1", "storing", "Storing vectors", 80, &total, &processed, "")

	var frame ProgressUpdate
	readJSON(t, conn, &frame)
	assert.Equal(t, "task-1", frame.TaskID)
	assert.Equal(t, "storing", frame.Status)
	assert.Equal(t, float64(80), frame.Percentage)
	require.NotNil(t, frame.TotalChunks)
	assert.Equal(t, 3, *frame.TotalChunks)
}

func TestProgressOrderingPerTask(t *testing.T) {
	m := NewManager(time.Second)
	conn := dialChannel(t, m, TaskChannel("task-1"))

	statuses := []string{"processing", "chunking", "embedding", "storing", "completed"}
	for i, status := range statuses {
		m.SendProgressUpdate("task-1", status, "", float64(i*25), nil, nil, "")
	}

	for _, want := range statuses {
		var frame ProgressUpdate
		readJSON(t, conn, &frame)
		assert.Equal(t, want, frame.Status)
	}
}

func TestSessionEventsAndErrors(t *testing.T) {
	m := NewManager(time.Second)
	conn := dialChannel(t, m, SessionChannel("session-1"))

	m.SendToSession("session-1", "chat_processing", map[string]any{"mode": "advance"}, "task-1")

	var frame map[string]any
	readJSON(t, conn, &frame)
	assert.Equal(t, "chat_processing", frame["type"])
	assert.Equal(t, "task-1", frame["task_id"])
	data, _ := frame["data"].(map[string]any)
	assert.Equal(t, "advance", data["mode"])

	m.SendErrorToSession("session-1", "chat_processing_error", "broker down", "task-1")
	readJSON(t, conn, &frame)
	assert.Equal(t, "error", frame["type"])
}

func TestChannelsAreIsolated(t *testing.T) {
	m := NewManager(time.Second)
	conn := dialChannel(t, m, TaskChannel("task-1"))

	// An event on another task must not reach this subscriber.
	m.SendProgressUpdate("task-2", "completed", "", 100, nil, nil, "")
	m.SendProgressUpdate("task-1", "processing", "", 10, nil, nil, "")

	var frame ProgressUpdate
	readJSON(t, conn, &frame)
	assert.Equal(t, "task-1", frame.TaskID)
}

func TestBroadcastToMissingChannelIsNoop(t *testing.T) {
	m := NewManager(time.Second)
	// No subscribers: must not panic or block.
	m.SendProgressUpdate("task-x", "completed", "", 100, nil, nil, "")
	assert.Equal(t, 0, m.ActiveConnections())
}

func TestPing(t *testing.T) {
	m := NewManager(time.Second)
	conn := dialChannel(t, m, TaskChannel("task-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))

	var frame map[string]any
	readJSON(t, conn, &frame)
	assert.Equal(t, "pong", frame["type"])
}
