package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/models"
)

type fakeStore struct {
	conversations map[string]*models.Conversation
	messages      []*models.Message
	insertErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: make(map[string]*models.Conversation)}
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if conv, ok := f.conversations[id]; ok {
		return conv, nil
	}
	return nil, apperr.Newf(apperr.KindNotFound, "conversation %s not found", id)
}

func (f *fakeStore) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	f.conversations[conv.ID] = conv
	return nil
}

func (f *fakeStore) CloseActiveConversation(ctx context.Context, tenantID, sessionID, agentID string) (bool, error) {
	for _, conv := range f.conversations {
		if conv.TenantID == tenantID && conv.SessionID == sessionID && conv.AgentID == agentID && conv.IsActive {
			conv.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func messageCreateAction(data map[string]any) *actions.Action {
	a := actions.New(actions.TypeMessageCreate, "tenant-1", "orchestrator")
	a.SessionID = "session-1"
	a.AgentID = "agent-1"
	a.Data = data
	return a
}

func TestExchangeSaved(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)

	a := messageCreateAction(map[string]any{
		"conversation_id": "conv-1",
		"user_message":    "hello",
		"agent_message":   "hi there",
		"metadata":        map[string]any{"model": "gpt-4o-mini"},
	})

	result, err := svc.HandleMessageCreate(context.Background(), a)
	require.NoError(t, err)
	assert.Nil(t, result) // fire-and-forget

	// Conversation row created with the envelope's keys.
	conv, ok := store.conversations["conv-1"]
	require.True(t, ok)
	assert.Equal(t, "tenant-1", conv.TenantID)
	assert.Equal(t, "session-1", conv.SessionID)
	assert.True(t, conv.IsActive)

	// Two messages: user then assistant.
	require.Len(t, store.messages, 2)
	assert.Equal(t, "user", store.messages[0].Role)
	assert.Equal(t, "hello", store.messages[0].Content)
	assert.Equal(t, "assistant", store.messages[1].Role)
	assert.Equal(t, "hi there", store.messages[1].Content)
}

func TestExchangeReusesExistingConversation(t *testing.T) {
	store := newFakeStore()
	store.conversations["conv-1"] = &models.Conversation{ID: "conv-1", TenantID: "tenant-1", IsActive: true}
	svc := NewService(store)

	_, err := svc.HandleMessageCreate(context.Background(), messageCreateAction(map[string]any{
		"conversation_id": "conv-1",
		"user_message":    "again",
		"agent_message":   "welcome back",
	}))
	require.NoError(t, err)

	assert.Len(t, store.conversations, 1)
	assert.Len(t, store.messages, 2)
}

func TestMissingFieldsSkippedWithoutError(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)

	// No agent_message: logged skip, no error, nothing persisted.
	_, err := svc.HandleMessageCreate(context.Background(), messageCreateAction(map[string]any{
		"conversation_id": "conv-1",
		"user_message":    "hello",
	}))
	require.NoError(t, err)
	assert.Empty(t, store.conversations)
	assert.Empty(t, store.messages)
}

func TestStorageFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	store.insertErr = apperr.New(apperr.KindStorage, "insert failed")
	svc := NewService(store)

	_, err := svc.HandleMessageCreate(context.Background(), messageCreateAction(map[string]any{
		"conversation_id": "conv-1",
		"user_message":    "hello",
		"agent_message":   "hi",
	}))
	// Fire-and-forget: never an error back to the worker.
	require.NoError(t, err)
}

func TestSessionClosed(t *testing.T) {
	store := newFakeStore()
	store.conversations["conv-1"] = &models.Conversation{
		ID: "conv-1", TenantID: "tenant-1", SessionID: "session-1", AgentID: "agent-1", IsActive: true,
	}
	svc := NewService(store)

	a := actions.New(actions.TypeSessionClosed, "tenant-1", "orchestrator")
	a.SessionID = "session-1"
	a.AgentID = "agent-1"

	_, err := svc.HandleSessionClosed(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, store.conversations["conv-1"].IsActive)
}

func TestSessionClosedMissingFieldsSkipped(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)

	a := actions.New(actions.TypeSessionClosed, "tenant-1", "orchestrator")
	// No session_id / agent_id.
	_, err := svc.HandleSessionClosed(context.Background(), a)
	require.NoError(t, err)
}
