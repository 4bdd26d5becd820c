package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooble8/ragcore/pkg/actions"
	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/chat"
	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/ingestion"
	"github.com/nooble8/ragcore/pkg/models"
	"github.com/nooble8/ragcore/pkg/parser"
	"github.com/nooble8/ragcore/pkg/progress"
	"github.com/nooble8/ragcore/pkg/vector"
)

// --- fakes ---

type fakeBus struct{}

func (fakeBus) SendWithCallback(ctx context.Context, a *actions.Action, callbackEventName string) error {
	return nil
}
func (fakeBus) SendFireAndForget(ctx context.Context, a *actions.Action) {}

type fakeMeta struct{}

func (fakeMeta) CollectionEmbedding(ctx context.Context, tenantID, collectionID string) (string, int, bool, error) {
	return "", 0, false, nil
}
func (fakeMeta) InsertDocument(ctx context.Context, doc *models.Document) error { return nil }
func (fakeMeta) GetDocument(ctx context.Context, tenantID, documentID string) (*models.Document, error) {
	return nil, apperr.Newf(apperr.KindNotFound, "document %s not found", documentID)
}
func (fakeMeta) DeleteDocument(ctx context.Context, tenantID, documentID, collectionID string) error {
	return nil
}
func (fakeMeta) UpdateDocumentAgents(ctx context.Context, tenantID, documentID string, metadata map[string]any, agentID string) error {
	return nil
}

type fakeVectors struct{}

func (fakeVectors) StoreChunks(ctx context.Context, chunks []parser.Chunk, tenantID, collectionID string, agentIDs []string, meta vector.EmbeddingMetadata) (*vector.UpsertResult, error) {
	return &vector.UpsertResult{Stored: len(chunks)}, nil
}
func (fakeVectors) DeleteDocument(ctx context.Context, tenantID, collectionID, documentID string) error {
	return nil
}
func (fakeVectors) UpdateChunkAgents(ctx context.Context, tenantID, documentID string, agentIDs []string, op vector.AgentsOp) (int, error) {
	if op != vector.AgentsSet && op != vector.AgentsAdd && op != vector.AgentsRemove {
		return 0, apperr.Newf(apperr.KindValidation, "invalid operation: %s", op)
	}
	return 1, nil
}

type fakeConfigs struct{}

func (fakeConfigs) GetAgentConfigs(ctx context.Context, agentID string) (config.ExecutionConfig, config.QueryConfig, config.RAGConfig) {
	return config.DefaultAgentConfigs()
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	prog := progress.NewManager(time.Second)
	ingestSvc := ingestion.NewService(fakeBus{}, rdb, fakeMeta{}, fakeVectors{}, parser.New(), prog, "ingestion")
	chatSvc := chat.NewService(fakeBus{}, fakeConfigs{}, prog, "orchestrator")

	cfg := &config.Config{ServiceName: "ragcore", HTTPPort: "0"}
	// HeaderVerifier with no store trusts the gateway headers outright.
	return NewServer(cfg, nil, ingestSvc, chatSvc, prog, &HeaderVerifier{})
}

func doRequest(s *Server, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("X-User-ID", "user-1")
		req.Header.Set("X-Tenant-ID", "tenant-1")
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/ingest", map[string]any{"content": "x"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperr.KindAuthFailed), body["error_type"])
}

func TestIngestHappyPath(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/ingest", map[string]any{
		"document_name": "greeting.txt",
		"document_type": "txt",
		"content":       "Hello world. Second sentence.",
		"rag_config": map[string]any{
			"chunk_size":           64,
			"chunk_overlap":        0,
			"embedding_model":      "text-embedding-3-small",
			"embedding_dimensions": 1536,
		},
	}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ingestion.IngestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.NotEmpty(t, resp.DocumentID)
	assert.True(t, strings.HasPrefix(resp.CollectionID, "col_"))
	assert.Equal(t, "processing", resp.Status)
}

func TestIngestValidation(t *testing.T) {
	s := newTestServer(t)

	// No content source at all.
	w := doRequest(s, http.MethodPost, "/ingest", map[string]any{"document_type": "txt"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{not json"))
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestOversizeContent(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/ingest", map[string]any{
		"document_type": "txt",
		"content":       strings.Repeat("a", parser.MaxDefaultSize+1),
	}, true)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestStatusNotFound(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/status/no-such-task", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	// Error bodies carry the message only, never internals.
	assert.NotContains(t, body["error"], "goroutine")
}

func TestDeleteRequiresCollectionID(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodDelete, "/document/d-1", map[string]any{}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(s, http.MethodDelete, "/document/d-1", map[string]any{"collection_id": "col_a"}, true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateAgents(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPut, "/document/d-1/agents", map[string]any{
		"agent_ids": []string{"z"},
		"operation": "add",
	}, true)
	// The fake metadata store has no document row.
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(s, http.MethodPut, "/document/d-1/agents", map[string]any{
		"agent_ids": []string{"z"},
		"operation": "merge",
	}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchIngest(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/batch-ingest", map[string]any{
		"documents": []map[string]any{
			{"document_type": "txt", "content": "First doc sentence."},
			{"document_type": "txt"}, // missing content
		},
	}, true)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []ingestion.BatchItem `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	assert.NotNil(t, body.Results[0].Response)
	assert.NotEmpty(t, body.Results[1].Error)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}
