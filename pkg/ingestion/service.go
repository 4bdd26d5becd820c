package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/models"
	"github.com/nooble8/ragcore/pkg/parser"
	"github.com/nooble8/ragcore/pkg/vector"
)

const (
	taskKeyPrefix = "ingestion:task:"
	taskTTL       = time.Hour
)

// Bus is the action bus surface the orchestrator needs.
type Bus interface {
	SendWithCallback(ctx context.Context, a *actions.Action, callbackEventName string) error
	SendFireAndForget(ctx context.Context, a *actions.Action)
}

// VectorStore is the vector adapter surface. Implemented by *vector.Store.
type VectorStore interface {
	StoreChunks(ctx context.Context, chunks []parser.Chunk, tenantID, collectionID string, agentIDs []string, meta vector.EmbeddingMetadata) (*vector.UpsertResult, error)
	DeleteDocument(ctx context.Context, tenantID, collectionID, documentID string) error
	UpdateChunkAgents(ctx context.Context, tenantID, documentID string, agentIDs []string, op vector.AgentsOp) (int, error)
}

// MetadataStore is the relational surface. Implemented by *store.Store.
type MetadataStore interface {
	CollectionEmbedding(ctx context.Context, tenantID, collectionID string) (string, int, bool, error)
	InsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, tenantID, documentID string) (*models.Document, error)
	DeleteDocument(ctx context.Context, tenantID, documentID, collectionID string) error
	UpdateDocumentAgents(ctx context.Context, tenantID, documentID string, metadata map[string]any, agentID string) error
}

// Progress is the fan-out surface. Implemented by *progress.Manager.
type Progress interface {
	SendProgressUpdate(taskID, status, message string, percentage float64, totalChunks, processedChunks *int, errMsg string)
}

// IngestRequest is one document ingestion request.
type IngestRequest struct {
	DocumentName string            `json:"document_name"`
	DocumentType string            `json:"document_type"`
	Content      string            `json:"content,omitempty"`
	URL          string            `json:"url,omitempty"`
	FilePath     string            `json:"-"`
	CollectionID string            `json:"collection_id,omitempty"`
	AgentIDs     []string          `json:"agent_ids,omitempty"`
	RAGConfig    *config.RAGConfig `json:"rag_config,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// IngestResponse acknowledges an admitted ingestion task.
type IngestResponse struct {
	TaskID       string   `json:"task_id"`
	DocumentID   string   `json:"document_id"`
	CollectionID string   `json:"collection_id"`
	AgentIDs     []string `json:"agent_ids"`
	Status       string   `json:"status"`
	Message      string   `json:"message"`
}

// Service is the ingestion orchestrator.
type Service struct {
	bus      Bus
	rdb      redis.UniversalClient
	meta     MetadataStore
	vectors  VectorStore
	parser   *parser.Parser
	progress Progress
	service  string

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewService creates the ingestion orchestrator.
func NewService(b Bus, rdb redis.UniversalClient, meta MetadataStore, vectors VectorStore, p *parser.Parser, prog Progress, serviceName string) *Service {
	return &Service{
		bus:      b,
		rdb:      rdb,
		meta:     meta,
		vectors:  vectors,
		parser:   p,
		progress: prog,
		service:  serviceName,
		tasks:    make(map[string]*Task),
	}
}

// Ingest admits a document: generates task and document ids, resolves the
// effective rag_config, checks collection model consistency, records the
// task, and launches the pipeline.
func (s *Service) Ingest(ctx context.Context, tenantID, userID string, req IngestRequest) (*IngestResponse, error) {
	if tenantID == "" || userID == "" {
		return nil, apperr.New(apperr.KindValidation, "tenant_id and user_id are required")
	}
	if req.Content == "" && req.FilePath == "" && req.URL == "" {
		return nil, apperr.New(apperr.KindValidation, "document content, file, or url is required")
	}

	taskID := uuid.New().String()
	documentID := uuid.New().String()

	collectionID := req.CollectionID
	if collectionID == "" {
		collectionID = "col_" + uuid.New().String()[:8]
		slog.Info("Generated collection_id", "collection_id", collectionID, "task_id", taskID)
	}

	ragConfig := effectiveRAGConfig(req.RAGConfig)
	agentIDs := NormalizeAgentIDs(req.AgentIDs)
	if agentIDs == nil {
		agentIDs = []string{}
	}

	if err := s.validateCollectionConsistency(ctx, tenantID, collectionID, ragConfig); err != nil {
		return nil, err
	}

	task := &Task{
		TaskID:       taskID,
		DocumentID:   documentID,
		TenantID:     tenantID,
		UserID:       userID,
		CollectionID: collectionID,
		AgentIDs:     agentIDs,
		Status:       StatusProcessing,
		DocumentName: req.DocumentName,
		DocumentType: req.DocumentType,
		RAGConfig:    ragConfig,
		Metadata:     req.Metadata,
		CreatedAt:    time.Now().UTC(),
	}

	s.mu.Lock()
	s.tasks[taskID] = task
	s.mu.Unlock()
	s.saveTaskState(ctx, task)

	go s.processDocument(context.WithoutCancel(ctx), task, parser.Input{
		DocumentName: req.DocumentName,
		DocumentType: parser.DocumentType(req.DocumentType),
		Content:      req.Content,
		FilePath:     req.FilePath,
		URL:          req.URL,
		Metadata:     req.Metadata,
	})

	return &IngestResponse{
		TaskID:       taskID,
		DocumentID:   documentID,
		CollectionID: collectionID,
		AgentIDs:     agentIDs,
		Status:       string(StatusProcessing),
		Message:      "Document ingestion started",
	}, nil
}

// BatchItem is one outcome of a batch admission.
type BatchItem struct {
	Response *IngestResponse `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BatchIngest admits each request independently — one task per document.
// Individual admission failures are reported inline, not fatal to the batch.
func (s *Service) BatchIngest(ctx context.Context, tenantID, userID string, reqs []IngestRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))
	for i, req := range reqs {
		resp, err := s.Ingest(ctx, tenantID, userID, req)
		if err != nil {
			items[i] = BatchItem{Error: apperr.MessageOf(err)}
			continue
		}
		items[i] = BatchItem{Response: resp}
	}
	return items
}

// validateCollectionConsistency fails admission when the collection already
// holds documents embedded with a different model or dimensionality. A store
// read failure is logged, not fatal — admission stays best-effort.
func (s *Service) validateCollectionConsistency(ctx context.Context, tenantID, collectionID string, ragConfig config.RAGConfig) error {
	model, dims, found, err := s.meta.CollectionEmbedding(ctx, tenantID, collectionID)
	if err != nil {
		slog.Warn("Collection consistency check failed",
			"tenant_id", tenantID, "collection_id", collectionID, "error", err)
		return nil
	}
	if found && (model != ragConfig.EmbeddingModel || dims != ragConfig.EmbeddingDimensions) {
		return apperr.Newf(apperr.KindModelMismatch,
			"collection %q already uses model %q with %d dimensions; models cannot be mixed",
			collectionID, model, dims)
	}
	return nil
}

// processDocument runs the pipeline up to the embedding request. The pipeline
// resumes in HandleEmbeddingCallback when the embedder replies.
func (s *Service) processDocument(ctx context.Context, task *Task, in parser.Input) {
	s.updateProgress(ctx, task, StatusProcessing, "Processing document", 10)

	chunks, err := s.parser.Process(ctx, in, task.DocumentID, task.RAGConfig)
	if err != nil {
		s.failTask(ctx, task, err)
		return
	}

	for i := range chunks {
		chunks[i].TenantID = task.TenantID
		chunks[i].CollectionID = task.CollectionID
		chunks[i].AgentIDs = task.AgentIDs
	}
	task.TotalChunks = len(chunks)
	task.Chunks = chunks

	s.updateProgress(ctx, task, StatusChunking, fmt.Sprintf("Created %d chunks", len(chunks)), 30)
	s.updateProgress(ctx, task, StatusEmbedding, "Generating embeddings", 50)

	texts := make([]string, len(chunks))
	chunkIDs := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
		chunkIDs[i] = chunk.ChunkID
	}

	embed := actions.New(actions.TypeEmbeddingBatch, task.TenantID, s.service)
	embed.TaskID = task.TaskID
	embed.UserID = task.UserID
	ragConfig := task.RAGConfig
	embed.RAGConfig = &ragConfig
	embed.Data = map[string]any{
		"task_id":   task.TaskID,
		"texts":     texts,
		"chunk_ids": chunkIDs,
		"model":     task.RAGConfig.EmbeddingModel,
	}

	if err := s.bus.SendWithCallback(ctx, embed, actions.TypeEmbeddingCallback); err != nil {
		s.failTask(ctx, task, err)
		return
	}

	slog.Info("Embedding batch dispatched",
		"task_id", task.TaskID, "chunks", len(chunks), "model", task.RAGConfig.EmbeddingModel)
}

// HandleEmbeddingCallback resumes the pipeline when embeddings arrive:
// attaches vectors by positional index, upserts into the vector store, and
// persists the document metadata row.
func (s *Service) HandleEmbeddingCallback(ctx context.Context, a *actions.Action) (map[string]any, error) {
	taskID := a.TaskID
	if taskID == "" {
		taskID = a.DataString("task_id")
	}

	task := s.lookupTask(ctx, taskID)
	if task == nil {
		slog.Error("Embedding callback for unknown task", "task_id", taskID)
		return nil, nil
	}

	if errMsg := a.DataString("error"); errMsg != "" {
		s.failTask(ctx, task, apperr.New(apperr.Kind(a.DataString("error_type")), errMsg))
		return nil, nil
	}

	embeddings, err := embeddingsFromData(a.Data)
	if err != nil {
		s.failTask(ctx, task, err)
		return nil, nil
	}
	for i := range task.Chunks {
		if i < len(embeddings) {
			task.Chunks[i].Embedding = embeddings[i]
		}
	}

	s.updateProgress(ctx, task, StatusStoring, "Storing vectors", 80)

	meta := vector.EmbeddingMetadata{
		EmbeddingModel:      a.DataString("embedding_model"),
		EmbeddingDimensions: dataInt(a.Data, "embedding_dimensions"),
		EncodingFormat:      a.DataString("encoding_format"),
	}
	if meta.EmbeddingModel == "" {
		meta.EmbeddingModel = task.RAGConfig.EmbeddingModel
	}
	if meta.EmbeddingDimensions == 0 {
		meta.EmbeddingDimensions = task.RAGConfig.EmbeddingDimensions
	}
	if meta.EncodingFormat == "" {
		meta.EncodingFormat = config.DefaultEncodingFormat
	}

	result, err := s.vectors.StoreChunks(ctx, task.Chunks, task.TenantID, task.CollectionID, task.AgentIDs, meta)
	if err != nil {
		s.failTask(ctx, task, err)
		return nil, nil
	}
	task.ProcessedChunks = result.Stored

	if err := s.persistDocumentMetadata(ctx, task, meta); err != nil {
		s.failTask(ctx, task, err)
		return nil, nil
	}

	s.updateProgress(ctx, task, StatusCompleted, "Ingestion completed", 100)

	return map[string]any{
		"status":           string(StatusCompleted),
		"processed_chunks": result.Stored,
	}, nil
}

// persistDocumentMetadata inserts the documents_rag row. The transitional
// agent_id scalar takes agent_ids[0], or a throwaway UUID when the list is
// empty, to satisfy the NOT NULL constraint; the authoritative list lives in
// metadata.agent_ids.
func (s *Service) persistDocumentMetadata(ctx context.Context, task *Task, meta vector.EmbeddingMetadata) error {
	metadata := make(map[string]any, len(task.Metadata)+1)
	for k, v := range task.Metadata {
		metadata[k] = v
	}
	metadata["agent_ids"] = task.AgentIDs

	scalarAgentID := uuid.New().String()
	if len(task.AgentIDs) > 0 {
		scalarAgentID = task.AgentIDs[0]
	}

	doc := &models.Document{
		ProfileID:           task.UserID,
		TenantID:            task.TenantID,
		CollectionID:        task.CollectionID,
		DocumentID:          task.DocumentID,
		DocumentName:        task.DocumentName,
		DocumentType:        task.DocumentType,
		EmbeddingModel:      meta.EmbeddingModel,
		EmbeddingDimensions: meta.EmbeddingDimensions,
		EncodingFormat:      meta.EncodingFormat,
		Status:              string(StatusCompleted),
		TotalChunks:         task.TotalChunks,
		ProcessedChunks:     task.ProcessedChunks,
		AgentID:             scalarAgentID,
		Metadata:            metadata,
	}
	if err := s.meta.InsertDocument(ctx, doc); err != nil {
		return err
	}

	slog.Info("Document metadata persisted",
		"document_id", task.DocumentID, "embedding_model", meta.EmbeddingModel)
	return nil
}

// Delete removes a document: vector points first, then the metadata row. The
// ordering prefers an orphan metadata row over orphan vectors.
func (s *Service) Delete(ctx context.Context, tenantID, documentID, collectionID string) error {
	if collectionID == "" {
		return apperr.New(apperr.KindValidation, "collection_id is required")
	}
	if err := s.vectors.DeleteDocument(ctx, tenantID, collectionID, documentID); err != nil {
		return err
	}
	return s.meta.DeleteDocument(ctx, tenantID, documentID, collectionID)
}

// UpdateDocumentAgents applies an agents update: vector payloads first, then
// the relational metadata mirror. A vector failure stops before the
// relational write so the two stores cannot diverge in opposite directions.
func (s *Service) UpdateDocumentAgents(ctx context.Context, tenantID, documentID string, agentIDs []string, op vector.AgentsOp) error {
	if _, err := s.vectors.UpdateChunkAgents(ctx, tenantID, documentID, agentIDs, op); err != nil {
		return err
	}

	doc, err := s.meta.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return err
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	updated := vector.ApplyAgentsOp(doc.AgentIDs(), agentIDs, op)
	metadata["agent_ids"] = updated

	scalarAgentID := uuid.New().String()
	if len(updated) > 0 {
		scalarAgentID = updated[0]
	}

	return s.meta.UpdateDocumentAgents(ctx, tenantID, documentID, metadata, scalarAgentID)
}

// TaskStatus returns a task's state, checking the in-process map first and
// the shared mirror second. Access requires matching user ownership.
func (s *Service) TaskStatus(ctx context.Context, taskID, userID string) (*StatusView, error) {
	task := s.lookupTask(ctx, taskID)
	if task == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "task %s not found", taskID)
	}
	if userID != "" && task.UserID != userID {
		return nil, apperr.Newf(apperr.KindNotFound, "task %s not found", taskID)
	}
	return task.View(), nil
}

// lookupTask finds a task in memory, falling back to the shared KV mirror.
func (s *Service) lookupTask(ctx context.Context, taskID string) *Task {
	if taskID == "" {
		return nil
	}
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	s.mu.Unlock()
	if ok {
		return task
	}

	raw, err := s.rdb.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Task mirror read failed", "task_id", taskID, "error", err)
		}
		return nil
	}
	var mirrored Task
	if err := json.Unmarshal(raw, &mirrored); err != nil {
		slog.Warn("Task mirror entry corrupt", "task_id", taskID, "error", err)
		return nil
	}
	return &mirrored
}

// updateProgress advances the task state, mirrors it to the shared KV, and
// emits a progress event. Progress events for one task are generated serially
// by the owning goroutine, so subscribers observe them in order.
func (s *Service) updateProgress(ctx context.Context, task *Task, status Status, message string, percentage float64) {
	task.Status = status
	task.Message = message
	task.Percentage = percentage
	s.saveTaskState(ctx, task)

	if s.progress != nil {
		total, processed := task.TotalChunks, task.ProcessedChunks
		s.progress.SendProgressUpdate(task.TaskID, string(status), message, percentage, &total, &processed, task.Error)
	}
}

// failTask moves the task to failed, retaining the percentage it reached.
func (s *Service) failTask(ctx context.Context, task *Task, cause error) {
	slog.Error("Ingestion task failed",
		"task_id", task.TaskID,
		"document_id", task.DocumentID,
		"tenant_id", task.TenantID,
		"error", cause,
		"error_type", string(apperr.KindOf(cause)))

	task.Status = StatusFailed
	task.Error = apperr.MessageOf(cause)
	task.Message = "Ingestion failed"
	s.saveTaskState(ctx, task)

	if s.progress != nil {
		total, processed := task.TotalChunks, task.ProcessedChunks
		s.progress.SendProgressUpdate(task.TaskID, string(StatusFailed), task.Message, task.Percentage, &total, &processed, task.Error)
	}
}

// saveTaskState mirrors the task to the shared KV with the retention TTL.
func (s *Service) saveTaskState(ctx context.Context, task *Task) {
	raw, err := json.Marshal(task)
	if err != nil {
		slog.Warn("Task state marshal failed", "task_id", task.TaskID, "error", err)
		return
	}
	if err := s.rdb.Set(ctx, taskKeyPrefix+task.TaskID, raw, taskTTL).Err(); err != nil {
		slog.Warn("Task state mirror failed", "task_id", task.TaskID, "error", err)
	}
}

// effectiveRAGConfig resolves request → defaults.
func effectiveRAGConfig(req *config.RAGConfig) config.RAGConfig {
	cfg := config.DefaultRAGConfig()
	if req == nil {
		return cfg
	}
	if len(req.CollectionIDs) > 0 {
		cfg.CollectionIDs = req.CollectionIDs
	}
	if req.ChunkSize > 0 {
		cfg.ChunkSize = req.ChunkSize
	}
	if req.ChunkOverlap >= 0 {
		cfg.ChunkOverlap = req.ChunkOverlap
	}
	if req.EmbeddingModel != "" {
		cfg.EmbeddingModel = req.EmbeddingModel
	}
	if req.EmbeddingDimensions > 0 {
		cfg.EmbeddingDimensions = req.EmbeddingDimensions
	}
	if req.EncodingFormat != "" {
		cfg.EncodingFormat = req.EncodingFormat
	}
	if req.TopK > 0 {
		cfg.TopK = req.TopK
	}
	if req.SimilarityThreshold > 0 {
		cfg.SimilarityThreshold = req.SimilarityThreshold
	}
	return cfg
}

// embeddingsFromData decodes the embeddings list from a callback payload,
// tolerating both bare vectors and {"embedding": [...]} objects.
func embeddingsFromData(data map[string]any) ([][]float32, error) {
	raw, ok := data["embeddings"].([]any)
	if !ok {
		return nil, apperr.New(apperr.KindValidation, "callback carries no embeddings")
	}
	out := make([][]float32, 0, len(raw))
	for _, item := range raw {
		vec := item
		if m, ok := item.(map[string]any); ok {
			vec = m["embedding"]
		}
		values, ok := vec.([]any)
		if !ok {
			return nil, apperr.New(apperr.KindValidation, "malformed embedding entry")
		}
		embedding := make([]float32, len(values))
		for i, v := range values {
			f, ok := v.(float64)
			if !ok {
				return nil, apperr.New(apperr.KindValidation, "malformed embedding value")
			}
			embedding[i] = float32(f)
		}
		out = append(out, embedding)
	}
	return out, nil
}

func dataInt(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
