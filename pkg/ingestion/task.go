// Package ingestion orchestrates the document pipeline: parse → chunk →
// embed (asynchronous callback) → store vectors → persist metadata, with
// per-task state, progress fan-out, and cross-store consistency checks.
package ingestion

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/parser"
)

// Status is the task state machine: processing → chunking → embedding →
// storing → completed, with any state transitionable to failed.
type Status string

// Task statuses.
const (
	StatusProcessing Status = "processing"
	StatusChunking   Status = "chunking"
	StatusEmbedding  Status = "embedding"
	StatusStoring    Status = "storing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the task.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task tracks one ingestion request through the pipeline. It is mutated only
// by the owning orchestrator goroutine and the embedding callback handler of
// the same process.
type Task struct {
	TaskID       string   `json:"task_id"`
	DocumentID   string   `json:"document_id"`
	TenantID     string   `json:"tenant_id"`
	UserID       string   `json:"user_id"`
	CollectionID string   `json:"collection_id"`
	AgentIDs     []string `json:"agent_ids"`

	Status          Status  `json:"status"`
	Message         string  `json:"message,omitempty"`
	Percentage      float64 `json:"percentage"`
	TotalChunks     int     `json:"total_chunks"`
	ProcessedChunks int     `json:"processed_chunks"`
	Error           string  `json:"error,omitempty"`

	DocumentName string           `json:"document_name,omitempty"`
	DocumentType string           `json:"document_type,omitempty"`
	RAGConfig    config.RAGConfig `json:"rag_config"`
	Metadata     map[string]any   `json:"metadata,omitempty"`

	Chunks    []parser.Chunk `json:"chunks,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// StatusView is the task state exposed over the status endpoint and action.
type StatusView struct {
	TaskID          string  `json:"task_id"`
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	Percentage      float64 `json:"percentage"`
	TotalChunks     int     `json:"total_chunks"`
	ProcessedChunks int     `json:"processed_chunks"`
	Error           string  `json:"error,omitempty"`
}

// View returns the externally visible task state.
func (t *Task) View() *StatusView {
	return &StatusView{
		TaskID:          t.TaskID,
		Status:          string(t.Status),
		Message:         t.Message,
		Percentage:      t.Percentage,
		TotalChunks:     t.TotalChunks,
		ProcessedChunks: t.ProcessedChunks,
		Error:           t.Error,
	}
}

// NormalizeAgentIDs repairs the JSON-string-in-list artifact some clients
// send ("[]", "null", or a JSON-encoded list as the single element) into a
// proper string list. Unparseable input is returned unchanged.
func NormalizeAgentIDs(agentIDs []string) []string {
	if len(agentIDs) != 1 {
		return agentIDs
	}
	raw := strings.TrimSpace(agentIDs[0])
	switch raw {
	case "", "[]", "null", "None":
		return []string{}
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var parsed []any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return agentIDs
		}
		out := make([]string, 0, len(parsed))
		for _, item := range parsed {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return agentIDs
}
