package config

import "time"

// DefaultSystemPrompt is the survival-mode prompt used when an agent's
// configuration cannot be resolved.
const DefaultSystemPrompt = "You are a helpful assistant."

// DefaultModel is the stock model name used by default query configs.
const DefaultModel = "llama-3.3-70b-versatile"

// DefaultCollectionID is the virtual collection assigned when an agent's
// rag_config names none.
const DefaultCollectionID = "default"

// DefaultEncodingFormat is the embedding encoding used when unspecified.
const DefaultEncodingFormat = "float"

// ExecutionConfig controls how the execution service runs a chat task.
type ExecutionConfig struct {
	HistoryEnabled     bool `json:"history_enabled"`
	MaxHistoryMessages int  `json:"max_history_messages"`
	TimeoutSeconds     int  `json:"timeout_seconds"`
}

// QueryConfig controls LLM invocation for an agent.
//
// SystemPromptTemplate is the effective prompt; SystemPrompt is the stored
// column it falls back to during normalization.
type QueryConfig struct {
	Model                string  `json:"model"`
	SystemPromptTemplate string  `json:"system_prompt_template"`
	SystemPrompt         string  `json:"system_prompt,omitempty"`
	Temperature          float64 `json:"temperature"`
	MaxTokens            int     `json:"max_tokens"`
}

// RAGConfig controls retrieval and ingestion parameters.
type RAGConfig struct {
	CollectionIDs       []string `json:"collection_ids"`
	DocumentIDs         []string `json:"document_ids,omitempty"`
	ChunkSize           int      `json:"chunk_size"`
	ChunkOverlap        int      `json:"chunk_overlap"`
	EmbeddingModel      string   `json:"embedding_model"`
	EmbeddingDimensions int      `json:"embedding_dimensions"`
	EncodingFormat      string   `json:"encoding_format"`
	TopK                int      `json:"top_k"`
	SimilarityThreshold float64  `json:"similarity_threshold"`
}

// AgentConfig is a fully resolved agent record.
type AgentConfig struct {
	AgentID         string          `json:"agent_id"`
	AgentName       string          `json:"agent_name"`
	TenantID        string          `json:"tenant_id"`
	ExecutionConfig ExecutionConfig `json:"execution_config"`
	QueryConfig     QueryConfig     `json:"query_config"`
	RAGConfig       RAGConfig       `json:"rag_config"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Normalize enforces the config invariants: a non-empty system prompt
// template (falling back to the stored system_prompt, then the default) and
// non-empty collection_ids and encoding format.
func (c *AgentConfig) Normalize() {
	if c.QueryConfig.SystemPromptTemplate == "" {
		c.QueryConfig.SystemPromptTemplate = c.QueryConfig.SystemPrompt
	}
	if c.QueryConfig.SystemPromptTemplate == "" {
		c.QueryConfig.SystemPromptTemplate = DefaultSystemPrompt
	}
	if c.QueryConfig.Model == "" {
		c.QueryConfig.Model = DefaultModel
	}
	if len(c.RAGConfig.CollectionIDs) == 0 {
		c.RAGConfig.CollectionIDs = []string{DefaultCollectionID}
	}
	if c.RAGConfig.EncodingFormat == "" {
		c.RAGConfig.EncodingFormat = DefaultEncodingFormat
	}
}

// DefaultRAGConfig returns the ingestion defaults applied when a request
// carries no rag_config.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		CollectionIDs:       []string{DefaultCollectionID},
		ChunkSize:           512,
		ChunkOverlap:        50,
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		EncodingFormat:      DefaultEncodingFormat,
		TopK:                5,
		SimilarityThreshold: 0.7,
	}
}

// DefaultAgentConfigs returns the survival-mode configs handed out when agent
// resolution fails. Callers log the original error; these keep chat alive.
func DefaultAgentConfigs() (ExecutionConfig, QueryConfig, RAGConfig) {
	return ExecutionConfig{},
		QueryConfig{
			Model:                DefaultModel,
			SystemPromptTemplate: DefaultSystemPrompt,
		},
		RAGConfig{CollectionIDs: []string{DefaultCollectionID}}
}
