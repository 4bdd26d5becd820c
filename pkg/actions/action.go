// Package actions defines the domain action envelope — the sole unit of
// inter-service work — and the closed set of recognized action types.
package actions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nooble8/ragcore/pkg/config"
)

// Recognized action types. action_type is the sole routing key; each service
// owns the queues for the prefixes it serves.
const (
	TypeIngestionProcess      = "ingestion.document.process"
	TypeIngestionStatus       = "ingestion.document.status"
	TypeIngestionAgentsUpdate = "ingestion.document.agents.update"
	TypeEmbeddingCallback     = "ingestion.embedding_callback"

	TypeEmbeddingBatch = "embedding.batch_process"

	TypeChatSimple  = "execution.chat.simple"
	TypeChatAdvance = "execution.chat.advance"
	TypeTaskCancel  = "execution.task.cancel"

	TypeChatResponse     = "orchestrator.chat.response"
	TypeConfigInvalidate = "orchestrator.config.invalidate"

	TypeMessageCreate = "conversation.message.create"
	TypeSessionClosed = "conversation.session.closed"
)

// Action is the wire envelope for inter-service work. Unknown wire fields are
// preserved opaquely across decode/encode so services at different versions
// remain compatible.
type Action struct {
	ActionID           string                  `json:"action_id"`
	ActionType         string                  `json:"action_type"`
	TenantID           string                  `json:"tenant_id"`
	SessionID          string                  `json:"session_id,omitempty"`
	TaskID             string                  `json:"task_id,omitempty"`
	AgentID            string                  `json:"agent_id,omitempty"`
	UserID             string                  `json:"user_id,omitempty"`
	OriginService      string                  `json:"origin_service"`
	CallbackActionType string                  `json:"callback_action_type,omitempty"`
	ExecutionConfig    *config.ExecutionConfig `json:"execution_config,omitempty"`
	QueryConfig        *config.QueryConfig     `json:"query_config,omitempty"`
	RAGConfig          *config.RAGConfig       `json:"rag_config,omitempty"`
	Data               map[string]any          `json:"data,omitempty"`
	Metadata           map[string]any          `json:"metadata,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`

	// extra holds wire fields this version does not know about.
	extra map[string]json.RawMessage
}

// New creates an action of the given type with a fresh action_id.
func New(actionType, tenantID, originService string) *Action {
	return &Action{
		ActionID:      uuid.New().String(),
		ActionType:    actionType,
		TenantID:      tenantID,
		OriginService: originService,
		CreatedAt:     time.Now().UTC(),
	}
}

// knownFields are the envelope's own wire keys, excluded from extra.
var knownFields = map[string]bool{
	"action_id": true, "action_type": true, "tenant_id": true,
	"session_id": true, "task_id": true, "agent_id": true, "user_id": true,
	"origin_service": true, "callback_action_type": true,
	"execution_config": true, "query_config": true, "rag_config": true,
	"data": true, "metadata": true, "created_at": true,
}

// actionAlias avoids recursion in the custom JSON methods.
type actionAlias Action

// UnmarshalJSON decodes the known fields and retains every other key verbatim.
func (a *Action) UnmarshalJSON(b []byte) error {
	var alias actionAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for key := range raw {
		if knownFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		alias.extra = raw
	}

	*a = Action(alias)
	return nil
}

// MarshalJSON re-emits preserved unknown fields alongside the known envelope.
// Known fields win on key collision.
func (a Action) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(actionAlias(a))
	if err != nil {
		return nil, err
	}
	if len(a.extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(a.extra)+len(knownFields))
	for k, v := range a.extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// DataString returns a string field from the opaque data map.
func (a *Action) DataString(key string) string {
	if a.Data == nil {
		return ""
	}
	s, _ := a.Data[key].(string)
	return s
}

// DataStrings returns a string-list field from the opaque data map, tolerating
// the []any shape produced by JSON decoding.
func (a *Action) DataStrings(key string) []string {
	if a.Data == nil {
		return nil
	}
	switch v := a.Data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
