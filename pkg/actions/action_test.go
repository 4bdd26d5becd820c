package actions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a := New(TypeChatSimple, "tenant-1", "orchestrator")

	assert.NotEmpty(t, a.ActionID)
	assert.Equal(t, TypeChatSimple, a.ActionType)
	assert.Equal(t, "tenant-1", a.TenantID)
	assert.Equal(t, "orchestrator", a.OriginService)
	assert.False(t, a.CreatedAt.IsZero())

	b := New(TypeChatSimple, "tenant-1", "orchestrator")
	assert.NotEqual(t, a.ActionID, b.ActionID)
}

func TestRoundTrip(t *testing.T) {
	a := New(TypeIngestionProcess, "tenant-1", "ingestion")
	a.SessionID = "session-1"
	a.TaskID = "task-1"
	a.CallbackActionType = TypeEmbeddingCallback
	a.Data = map[string]any{"document_name": "report.pdf"}

	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var decoded Action
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, a.ActionID, decoded.ActionID)
	assert.Equal(t, a.ActionType, decoded.ActionType)
	assert.Equal(t, a.TaskID, decoded.TaskID)
	assert.Equal(t, a.CallbackActionType, decoded.CallbackActionType)
	assert.Equal(t, "report.pdf", decoded.DataString("document_name"))
}

func TestUnknownFieldsPreserved(t *testing.T) {
	wire := `{
		"action_id": "a-1",
		"action_type": "execution.chat.simple",
		"tenant_id": "tenant-1",
		"origin_service": "orchestrator",
		"created_at": "2025-06-01T00:00:00Z",
		"priority": 7,
		"trace": {"span_id": "s-1"}
	}`

	var a Action
	require.NoError(t, json.Unmarshal([]byte(wire), &a))
	assert.Equal(t, "a-1", a.ActionID)

	out, err := json.Marshal(&a)
	require.NoError(t, err)

	var reparsed map[string]any
	require.NoError(t, json.Unmarshal(out, &reparsed))
	assert.Equal(t, float64(7), reparsed["priority"])
	assert.Equal(t, map[string]any{"span_id": "s-1"}, reparsed["trace"])
	// Known fields still win over stale unknown duplicates.
	assert.Equal(t, "execution.chat.simple", reparsed["action_type"])
}

func TestDataStrings(t *testing.T) {
	a := &Action{Data: map[string]any{
		"chunk_ids": []any{"c-1", "c-2"},
		"typed":     []string{"x"},
		"count":     3,
	}}

	assert.Equal(t, []string{"c-1", "c-2"}, a.DataStrings("chunk_ids"))
	assert.Equal(t, []string{"x"}, a.DataStrings("typed"))
	assert.Nil(t, a.DataStrings("count"))
	assert.Nil(t, a.DataStrings("missing"))
}
