package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/config"
)

type fakeBus struct {
	mu      sync.Mutex
	sent    []*actions.Action
	fired   []*actions.Action
	sendErr error
}

func (b *fakeBus) SendWithCallback(ctx context.Context, a *actions.Action, callbackEventName string) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	a.CallbackActionType = callbackEventName
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, a)
	return nil
}

func (b *fakeBus) SendFireAndForget(ctx context.Context, a *actions.Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fired = append(b.fired, a)
}

type fakeConfigs struct{}

func (fakeConfigs) GetAgentConfigs(ctx context.Context, agentID string) (config.ExecutionConfig, config.QueryConfig, config.RAGConfig) {
	return config.DefaultAgentConfigs()
}

type sessionEvent struct {
	sessionID   string
	messageType string
	data        map[string]any
	taskID      string
}

type fakeProgress struct {
	mu     sync.Mutex
	events []sessionEvent
	errors []sessionEvent
}

func (p *fakeProgress) SendToSession(sessionID, messageType string, data map[string]any, taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sessionEvent{sessionID, messageType, data, taskID})
}

func (p *fakeProgress) SendErrorToSession(sessionID, errorType, message, taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, sessionEvent{sessionID, errorType, map[string]any{"message": message}, taskID})
}

func testState() SessionState {
	return SessionState{
		TenantID:  "tenant-1",
		SessionID: "session-1",
		AgentID:   "agent-1",
		UserID:    "user-1",
	}
}

func newTestService() (*Service, *fakeBus, *fakeProgress) {
	b := &fakeBus{}
	p := &fakeProgress{}
	return NewService(b, fakeConfigs{}, p, "orchestrator"), b, p
}

func TestSimpleModeWithoutTools(t *testing.T) {
	svc, b, p := newTestService()

	taskID, err := svc.ProcessMessage(context.Background(), testState(), Request{Message: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	require.Len(t, b.sent, 1)
	sent := b.sent[0]
	assert.Equal(t, actions.TypeChatSimple, sent.ActionType)
	assert.Equal(t, actions.TypeChatResponse, sent.CallbackActionType)
	assert.Equal(t, taskID, sent.TaskID)
	assert.Equal(t, "session-1", sent.SessionID)

	// Config blocks ride in the envelope's dedicated fields.
	require.NotNil(t, sent.QueryConfig)
	assert.NotEmpty(t, sent.QueryConfig.SystemPromptTemplate)
	require.NotNil(t, sent.RAGConfig)
	assert.NotEmpty(t, sent.RAGConfig.CollectionIDs)

	// chat_processing event delivered before dispatch.
	require.Len(t, p.events, 1)
	assert.Equal(t, "chat_processing", p.events[0].messageType)
	assert.Equal(t, "simple", p.events[0].data["mode"])
}

func TestAdvanceModeWithTools(t *testing.T) {
	svc, b, p := newTestService()

	_, err := svc.ProcessMessage(context.Background(), testState(), Request{
		Message: "use the calculator",
		Tools:   []map[string]any{{"name": "tool1"}},
	})
	require.NoError(t, err)

	require.Len(t, b.sent, 1)
	assert.Equal(t, actions.TypeChatAdvance, b.sent[0].ActionType)
	assert.Equal(t, actions.TypeChatResponse, b.sent[0].CallbackActionType)

	require.Len(t, p.events, 1)
	assert.Equal(t, "advance", p.events[0].data["mode"])
}

func TestTaskIDReused(t *testing.T) {
	svc, b, _ := newTestService()

	taskID, err := svc.ProcessMessage(context.Background(), testState(), Request{Message: "hi", TaskID: "task-7"})
	require.NoError(t, err)
	assert.Equal(t, "task-7", taskID)
	assert.Equal(t, "task-7", b.sent[0].TaskID)
}

func TestDispatchFailureNotifiesSession(t *testing.T) {
	svc, b, p := newTestService()
	b.sendErr = apperr.New(apperr.KindServiceUnavailable, "broker send failed")

	_, err := svc.ProcessMessage(context.Background(), testState(), Request{Message: "hi"})
	require.Error(t, err)

	require.Len(t, p.errors, 1)
	assert.Equal(t, "chat_processing_error", p.errors[0].messageType)
}

func TestValidation(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ProcessMessage(context.Background(), SessionState{}, Request{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.ProcessMessage(context.Background(), testState(), Request{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestChatResponseDeliveredAndPersisted(t *testing.T) {
	svc, b, p := newTestService()
	ctx := context.Background()

	taskID, err := svc.ProcessMessage(ctx, testState(), Request{Message: "what is RAG?"})
	require.NoError(t, err)

	response := actions.New(actions.TypeChatResponse, "tenant-1", "execution")
	response.SessionID = "session-1"
	response.TaskID = taskID
	response.Data = map[string]any{"response": "Retrieval-augmented generation."}

	_, err = svc.HandleChatResponse(ctx, response)
	require.NoError(t, err)

	// Delivered to the session.
	require.Len(t, p.events, 2)
	delivered := p.events[1]
	assert.Equal(t, "chat_response", delivered.messageType)
	assert.Equal(t, "session-1", delivered.sessionID)
	assert.Equal(t, taskID, delivered.taskID)

	// Exchange persisted fire-and-forget.
	require.Len(t, b.fired, 1)
	persist := b.fired[0]
	assert.Equal(t, actions.TypeMessageCreate, persist.ActionType)
	assert.Equal(t, "what is RAG?", persist.DataString("user_message"))
	assert.Equal(t, "Retrieval-augmented generation.", persist.DataString("agent_message"))
	assert.Equal(t, ConversationID("session-1", "agent-1"), persist.DataString("conversation_id"))
}

func TestChatResponseErrorDelivered(t *testing.T) {
	svc, b, p := newTestService()
	ctx := context.Background()

	taskID, err := svc.ProcessMessage(ctx, testState(), Request{Message: "hi"})
	require.NoError(t, err)

	failure := actions.New(actions.TypeChatResponse, "tenant-1", "execution")
	failure.SessionID = "session-1"
	failure.TaskID = taskID
	failure.Data = map[string]any{"error": "model overloaded", "error_type": "service_unavailable"}

	_, err = svc.HandleChatResponse(ctx, failure)
	require.NoError(t, err)

	require.Len(t, p.errors, 1)
	assert.Equal(t, "service_unavailable", p.errors[0].messageType)
	// Failed exchanges are not persisted.
	assert.Empty(t, b.fired)
}

func TestChatResponseForUnknownTaskStillDelivered(t *testing.T) {
	svc, b, p := newTestService()

	response := actions.New(actions.TypeChatResponse, "tenant-1", "execution")
	response.SessionID = "session-9"
	response.TaskID = "task-unknown"
	response.Data = map[string]any{"response": "late reply"}

	_, err := svc.HandleChatResponse(context.Background(), response)
	require.NoError(t, err)

	require.Len(t, p.events, 1)
	assert.Equal(t, "session-9", p.events[0].sessionID)
	// Nothing to persist without the pending exchange.
	assert.Empty(t, b.fired)
}

func TestCancelTask(t *testing.T) {
	svc, b, _ := newTestService()

	svc.CancelTask(context.Background(), testState(), "task-1", "")

	require.Len(t, b.fired, 1)
	cancel := b.fired[0]
	assert.Equal(t, actions.TypeTaskCancel, cancel.ActionType)
	assert.Equal(t, "task-1", cancel.TaskID)
	assert.Equal(t, "user_requested", cancel.DataString("reason"))
}

func TestCloseSession(t *testing.T) {
	svc, b, _ := newTestService()

	svc.CloseSession(context.Background(), testState())

	require.Len(t, b.fired, 1)
	assert.Equal(t, actions.TypeSessionClosed, b.fired[0].ActionType)
	assert.Equal(t, "session-1", b.fired[0].SessionID)
}

func TestConversationIDIsStable(t *testing.T) {
	assert.Equal(t, ConversationID("s", "a"), ConversationID("s", "a"))
	assert.NotEqual(t, ConversationID("s", "a"), ConversationID("s", "b"))
}
