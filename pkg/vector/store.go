package vector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/parser"
)

// scrollCap bounds update_chunk_agents scrolls. Documents with more chunks
// than this are truncated in the update.
// TODO: paginate the scroll once the driver exposes offsets end to end.
const scrollCap = 1000

// AgentsOp is the update mode for UpdateChunkAgents.
type AgentsOp string

// Agents update operations.
const (
	AgentsSet    AgentsOp = "set"
	AgentsAdd    AgentsOp = "add"
	AgentsRemove AgentsOp = "remove"
)

// UpsertResult reports the outcome of a chunk upsert.
type UpsertResult struct {
	Stored    int      `json:"stored"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// EmbeddingMetadata is stamped on every stored point.
type EmbeddingMetadata struct {
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	EncodingFormat      string `json:"encoding_format"`
}

// Store enforces the multi-tenancy invariant over a Driver: every read and
// write path must carry tenant_id; search additionally requires agent
// membership.
type Store struct {
	driver     Driver
	collection string
}

// NewStore creates the adapter on the shared physical collection.
func NewStore(driver Driver) *Store {
	return &Store{driver: driver, collection: CollectionName}
}

// Initialize ensures the collection and its payload indexes exist.
func (s *Store) Initialize(ctx context.Context, vectorSize uint64) error {
	if vectorSize == 0 {
		vectorSize = DefaultVectorSize
	}
	if err := s.driver.EnsureCollection(ctx, s.collection, vectorSize); err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, "vector collection init failed", err)
	}
	if err := s.driver.EnsurePayloadIndexes(ctx, s.collection, indexedFields); err != nil {
		return apperr.Wrap(apperr.KindServiceUnavailable, "vector index init failed", err)
	}
	slog.Info("Vector collection ready", "collection", s.collection)
	return nil
}

// StoreChunks upserts embedded chunks with the full hierarchy payload.
// Chunks lacking an embedding are rejected and counted as failed.
func (s *Store) StoreChunks(ctx context.Context, chunks []parser.Chunk, tenantID, collectionID string, agentIDs []string, meta EmbeddingMetadata) (*UpsertResult, error) {
	if tenantID == "" {
		return nil, apperr.New(apperr.KindValidation, "tenant_id is required")
	}
	if len(chunks) == 0 {
		return &UpsertResult{}, nil
	}
	if agentIDs == nil {
		agentIDs = []string{}
	}

	result := &UpsertResult{}
	points := make([]Point, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			slog.Warn("Chunk has no embedding, skipping",
				"chunk_id", chunk.ChunkID, "document_id", chunk.DocumentID)
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, chunk.ChunkID)
			continue
		}

		payload := map[string]any{
			"tenant_id":     tenantID,
			"collection_id": collectionID,
			"agent_ids":     agentIDs,
			"document_id":   chunk.DocumentID,
			"chunk_id":      chunk.ChunkID,

			"content":     chunk.Content,
			"chunk_index": chunk.ChunkIndex,

			"keywords": chunk.Keywords,
			"tags":     chunk.Tags,

			"embedding_model":      meta.EmbeddingModel,
			"embedding_dimensions": meta.EmbeddingDimensions,
			"encoding_format":      meta.EncodingFormat,

			"created_at": chunk.CreatedAt.Format(time.RFC3339),
		}
		for k, v := range chunk.Metadata {
			payload[k] = v
		}

		points = append(points, Point{ID: chunk.ChunkID, Vector: chunk.Embedding, Payload: payload})
	}

	if len(points) > 0 {
		if err := s.driver.Upsert(ctx, s.collection, points); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "vector upsert failed", err)
		}
		result.Stored = len(points)
		slog.Info("Chunks stored",
			"count", len(points), "tenant_id", tenantID, "collection_id", collectionID)
	}

	return result, nil
}

// DeleteDocument removes every chunk of a document. All three hierarchy keys
// are mandatory so a scoped delete can never bleed across tenants or virtual
// collections.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, collectionID, documentID string) error {
	if tenantID == "" || collectionID == "" || documentID == "" {
		return apperr.New(apperr.KindValidation, "tenant_id, collection_id and document_id are required")
	}
	filter := Filter{Must: []Condition{
		{Key: "tenant_id", MatchValue: tenantID},
		{Key: "collection_id", MatchValue: collectionID},
		{Key: "document_id", MatchValue: documentID},
	}}
	if err := s.driver.Delete(ctx, s.collection, filter); err != nil {
		return apperr.Wrap(apperr.KindStorage, "vector delete failed", err)
	}
	slog.Info("Document vectors deleted",
		"document_id", documentID, "tenant_id", tenantID, "collection_id", collectionID)
	return nil
}

// SearchParams scopes a retrieval query.
type SearchParams struct {
	TenantID      string
	AgentID       string
	QueryVector   []float32
	CollectionIDs []string
	DocumentIDs   []string
	TopK          uint64
	Threshold     float32
}

// Search returns hits the agent may see, sorted by score descending and
// truncated to TopK. TenantID and AgentID are mandatory filter conditions.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]Hit, error) {
	if p.TenantID == "" {
		return nil, apperr.New(apperr.KindValidation, "tenant_id is required")
	}
	if p.AgentID == "" {
		return nil, apperr.New(apperr.KindValidation, "agent_id is required")
	}
	if p.TopK == 0 {
		p.TopK = 10
	}

	filter := Filter{Must: []Condition{
		{Key: "tenant_id", MatchValue: p.TenantID},
		{Key: "agent_ids", MatchAny: []string{p.AgentID}},
	}}
	if len(p.CollectionIDs) > 0 {
		filter.Must = append(filter.Must, Condition{Key: "collection_id", MatchAny: p.CollectionIDs})
	}
	if len(p.DocumentIDs) > 0 {
		filter.Must = append(filter.Must, Condition{Key: "document_id", MatchAny: p.DocumentIDs})
	}

	hits, err := s.driver.Search(ctx, s.collection, p.QueryVector, filter, p.TopK, p.Threshold)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "vector search failed", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if uint64(len(hits)) > p.TopK {
		hits = hits[:p.TopK]
	}
	return hits, nil
}

// UpdateChunkAgents recomputes the agent_ids payload of every chunk of a
// document under the tenant. Returns the number of chunks updated.
func (s *Store) UpdateChunkAgents(ctx context.Context, tenantID, documentID string, agentIDs []string, op AgentsOp) (int, error) {
	if tenantID == "" || documentID == "" {
		return 0, apperr.New(apperr.KindValidation, "tenant_id and document_id are required")
	}
	switch op {
	case AgentsSet, AgentsAdd, AgentsRemove:
	default:
		return 0, apperr.Newf(apperr.KindValidation, "invalid operation: %s", op)
	}

	filter := Filter{Must: []Condition{
		{Key: "tenant_id", MatchValue: tenantID},
		{Key: "document_id", MatchValue: documentID},
	}}
	points, err := s.driver.Scroll(ctx, s.collection, filter, scrollCap)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, "vector scroll failed", err)
	}
	if len(points) == 0 {
		return 0, apperr.Newf(apperr.KindNotFound, "no chunks for document %s", documentID)
	}

	for _, point := range points {
		current := payloadStrings(point.Payload, "agent_ids")
		updated := ApplyAgentsOp(current, agentIDs, op)
		if err := s.driver.SetPayload(ctx, s.collection, point.ID, map[string]any{"agent_ids": updated}); err != nil {
			return 0, apperr.Wrap(apperr.KindStorage, "vector payload update failed", err)
		}
	}

	slog.Info("Chunk agents updated",
		"document_id", documentID, "operation", string(op), "chunks", len(points))
	return len(points), nil
}

// ApplyAgentsOp computes the new agent list. set replaces; add unions
// preserving order of first appearance; remove subtracts.
func ApplyAgentsOp(current, agentIDs []string, op AgentsOp) []string {
	switch op {
	case AgentsSet:
		return append([]string{}, agentIDs...)
	case AgentsAdd:
		seen := make(map[string]bool, len(current)+len(agentIDs))
		out := make([]string, 0, len(current)+len(agentIDs))
		for _, id := range append(append([]string{}, current...), agentIDs...) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		return out
	case AgentsRemove:
		drop := make(map[string]bool, len(agentIDs))
		for _, id := range agentIDs {
			drop[id] = true
		}
		out := make([]string, 0, len(current))
		for _, id := range current {
			if !drop[id] {
				out = append(out, id)
			}
		}
		return out
	}
	return current
}

func payloadStrings(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
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
