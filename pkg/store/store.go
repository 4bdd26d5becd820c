package store

import (
	"context"
	"time"

	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/models"
)

// Store is the typed relational adapter over a RowStore.
type Store struct {
	rows RowStore
}

// New creates the typed store facade.
func New(rows RowStore) *Store {
	return &Store{rows: rows}
}

// GetAgentConfig loads and normalizes an agent record from the
// agents_with_prompt view.
func (s *Store) GetAgentConfig(ctx context.Context, agentID string) (*config.AgentConfig, error) {
	row, err := s.rows.SelectOne(ctx, "agents_with_prompt", map[string]any{"id": agentID})
	if err != nil {
		return nil, err
	}
	return AgentConfigFromRow(row), nil
}

// GetTenantInfo loads basic tenant information.
func (s *Store) GetTenantInfo(ctx context.Context, tenantID string) (*models.TenantInfo, error) {
	row, err := s.rows.SelectOne(ctx, "tenants", map[string]any{"id": tenantID})
	if err != nil {
		return nil, err
	}
	return &models.TenantInfo{
		ID:        asString(pick(row, "id")),
		Name:      asString(pick(row, "name")),
		PlanType:  asString(pick(row, "plan_type", "planType")),
		Settings:  asMap(pick(row, "settings")),
		CreatedAt: ParseTimestamp(pick(row, "created_at", "createdAt")),
		UpdatedAt: ParseTimestamp(pick(row, "updated_at", "updatedAt")),
	}, nil
}

// CheckTenantMembership reports whether the user belongs to the tenant.
func (s *Store) CheckTenantMembership(ctx context.Context, userID, tenantID string) (bool, error) {
	rows, err := s.rows.Select(ctx, "user_tenants", map[string]any{
		"user_id":   userID,
		"tenant_id": tenantID,
	}, 1)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// CollectionEmbedding returns the embedding model and dimensions already in
// use for a (tenant, collection) pair, if any document exists there.
func (s *Store) CollectionEmbedding(ctx context.Context, tenantID, collectionID string) (string, int, bool, error) {
	rows, err := s.rows.Select(ctx, "documents_rag", map[string]any{
		"tenant_id":     tenantID,
		"collection_id": collectionID,
	}, 1)
	if err != nil {
		return "", 0, false, err
	}
	if len(rows) == 0 {
		return "", 0, false, nil
	}
	row := rows[0]
	return asString(pick(row, "embedding_model", "embeddingModel")),
		asInt(pick(row, "embedding_dimensions", "embeddingDimensions")),
		true, nil
}

// InsertDocument persists a documents_rag row.
func (s *Store) InsertDocument(ctx context.Context, doc *models.Document) error {
	return s.rows.Insert(ctx, "documents_rag", map[string]any{
		"profile_id":           doc.ProfileID,
		"tenant_id":            doc.TenantID,
		"collection_id":        doc.CollectionID,
		"document_id":          doc.DocumentID,
		"document_name":        doc.DocumentName,
		"document_type":        doc.DocumentType,
		"embedding_model":      doc.EmbeddingModel,
		"embedding_dimensions": doc.EmbeddingDimensions,
		"encoding_format":      doc.EncodingFormat,
		"status":               doc.Status,
		"total_chunks":         doc.TotalChunks,
		"processed_chunks":     doc.ProcessedChunks,
		"agent_id":             doc.AgentID,
		"metadata":             doc.Metadata,
	})
}

// GetDocument loads a document's metadata row under a tenant.
func (s *Store) GetDocument(ctx context.Context, tenantID, documentID string) (*models.Document, error) {
	row, err := s.rows.SelectOne(ctx, "documents_rag", map[string]any{
		"tenant_id":   tenantID,
		"document_id": documentID,
	})
	if err != nil {
		return nil, err
	}
	return documentFromRow(row), nil
}

// DeleteDocument removes the metadata row for a document. All three keys are
// required so a cross-tenant or cross-collection id collision cannot delete
// foreign rows.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, documentID, collectionID string) error {
	if tenantID == "" || documentID == "" || collectionID == "" {
		return apperr.New(apperr.KindValidation, "tenant_id, document_id and collection_id are required")
	}
	_, err := s.rows.Delete(ctx, "documents_rag", map[string]any{
		"tenant_id":     tenantID,
		"document_id":   documentID,
		"collection_id": collectionID,
	})
	return err
}

// UpdateDocumentAgents writes the authoritative metadata.agent_ids list and
// the transitional scalar agent_id column.
func (s *Store) UpdateDocumentAgents(ctx context.Context, tenantID, documentID string, metadata map[string]any, agentID string) error {
	n, err := s.rows.Update(ctx, "documents_rag",
		map[string]any{"metadata": metadata, "agent_id": agentID},
		map[string]any{"tenant_id": tenantID, "document_id": documentID})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.KindNotFound, "document %s not found", documentID)
	}
	return nil
}

// GetConversation loads a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row, err := s.rows.SelectOne(ctx, "conversations", map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	conv := &models.Conversation{
		ID:        asString(pick(row, "id")),
		TenantID:  asString(pick(row, "tenant_id", "tenantId")),
		SessionID: asString(pick(row, "session_id", "sessionId")),
		AgentID:   asString(pick(row, "agent_id", "agentId")),
		CreatedAt: ParseTimestamp(pick(row, "created_at", "createdAt")),
	}
	if active, ok := pick(row, "is_active", "isActive").(bool); ok {
		conv.IsActive = active
	}
	if ended := pick(row, "ended_at", "endedAt"); ended != nil {
		t := ParseTimestamp(ended)
		if !t.IsZero() {
			conv.EndedAt = &t
		}
	}
	return conv, nil
}

// InsertConversation creates a conversation row.
func (s *Store) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	return s.rows.Insert(ctx, "conversations", map[string]any{
		"id":         conv.ID,
		"tenant_id":  conv.TenantID,
		"session_id": conv.SessionID,
		"agent_id":   conv.AgentID,
		"is_active":  conv.IsActive,
	})
}

// CloseActiveConversation deactivates the active row matching the session.
// Returns false when no active conversation was found.
func (s *Store) CloseActiveConversation(ctx context.Context, tenantID, sessionID, agentID string) (bool, error) {
	n, err := s.rows.Update(ctx, "conversations",
		map[string]any{"is_active": false, "ended_at": time.Now().UTC()},
		map[string]any{
			"tenant_id":  tenantID,
			"session_id": sessionID,
			"agent_id":   agentID,
			"is_active":  true,
		})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertMessage persists one message row.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	row := map[string]any{
		"conversation_id": msg.ConversationID,
		"role":            msg.Role,
		"content":         msg.Content,
		"metadata":        msg.Metadata,
	}
	if msg.ID != "" {
		row["id"] = msg.ID
	}
	return s.rows.Insert(ctx, "messages", row)
}

func documentFromRow(row map[string]any) *models.Document {
	return &models.Document{
		ProfileID:           asString(pick(row, "profile_id", "profileId")),
		TenantID:            asString(pick(row, "tenant_id", "tenantId")),
		CollectionID:        asString(pick(row, "collection_id", "collectionId")),
		DocumentID:          asString(pick(row, "document_id", "documentId")),
		DocumentName:        asString(pick(row, "document_name", "documentName")),
		DocumentType:        asString(pick(row, "document_type", "documentType")),
		EmbeddingModel:      asString(pick(row, "embedding_model", "embeddingModel")),
		EmbeddingDimensions: asInt(pick(row, "embedding_dimensions", "embeddingDimensions")),
		EncodingFormat:      asString(pick(row, "encoding_format", "encodingFormat")),
		Status:              asString(pick(row, "status")),
		TotalChunks:         asInt(pick(row, "total_chunks", "totalChunks")),
		ProcessedChunks:     asInt(pick(row, "processed_chunks", "processedChunks")),
		AgentID:             asString(pick(row, "agent_id", "agentId")),
		Metadata:            asMap(pick(row, "metadata")),
		CreatedAt:           ParseTimestamp(pick(row, "created_at", "createdAt")),
	}
}
