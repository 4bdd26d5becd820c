package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nooble8/ragcore/pkg/config"
	"github.com/nooble8/ragcore/pkg/ingestion"
	"github.com/nooble8/ragcore/pkg/parser"
	"github.com/nooble8/ragcore/pkg/vector"
)

// ingestHandler handles POST /ingest: inline content, URL, or pre-staged
// file ingestion.
func (s *Server) ingestHandler(c *gin.Context) {
	identity := identityFrom(c)

	var req ingestion.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if int64(len(req.Content)) > parser.SizeLimitFor(parser.DocumentType(req.DocumentType)) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document exceeds size limit"})
		return
	}

	resp, err := s.ingest.Ingest(c.Request.Context(), identity.TenantID, identity.UserID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// batchIngestRequest wraps POST /batch-ingest bodies.
type batchIngestRequest struct {
	Documents []ingestion.IngestRequest `json:"documents"`
}

// batchIngestHandler handles POST /batch-ingest: one task per document,
// admission failures reported inline.
func (s *Server) batchIngestHandler(c *gin.Context) {
	identity := identityFrom(c)

	var req batchIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Documents) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "documents list is empty"})
		return
	}

	items := s.ingest.BatchIngest(c.Request.Context(), identity.TenantID, identity.UserID, req.Documents)
	c.JSON(http.StatusOK, gin.H{"results": items})
}

// uploadHandler handles POST /upload: multipart file ingestion. The file is
// staged to a temp path; oversize uploads are rejected before staging.
func (s *Server) uploadHandler(c *gin.Context) {
	identity := identityFrom(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	documentType := parser.DocumentType(c.PostForm("document_type"))
	if documentType == "" {
		documentType = documentTypeFromName(fileHeader.Filename)
	}
	if fileHeader.Size > parser.SizeLimitFor(documentType) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document exceeds size limit"})
		return
	}

	tempDir := filepath.Join(os.TempDir(), "ingestion_uploads")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		abortWithError(c, err)
		return
	}
	tempPath := filepath.Join(tempDir, uuid.New().String()+"_"+filepath.Base(fileHeader.Filename))
	if err := c.SaveUploadedFile(fileHeader, tempPath); err != nil {
		abortWithError(c, err)
		return
	}

	req := ingestion.IngestRequest{
		DocumentName: c.DefaultPostForm("document_name", fileHeader.Filename),
		DocumentType: string(documentType),
		FilePath:     tempPath,
		CollectionID: c.PostForm("collection_id"),
	}
	if raw := c.PostForm("agent_ids"); raw != "" {
		req.AgentIDs = []string{raw} // normalized during admission
	}
	if raw := c.PostForm("rag_config"); raw != "" {
		var ragConfig config.RAGConfig
		if err := json.Unmarshal([]byte(raw), &ragConfig); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rag_config"})
			return
		}
		req.RAGConfig = &ragConfig
	}
	if raw := c.PostForm("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metadata"})
			return
		}
	}

	resp, err := s.ingest.Ingest(c.Request.Context(), identity.TenantID, identity.UserID, req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// deleteDocumentRequest is the DELETE /document/:id body.
type deleteDocumentRequest struct {
	CollectionID string `json:"collection_id"`
}

// deleteDocumentHandler handles DELETE /document/:id.
func (s *Server) deleteDocumentHandler(c *gin.Context) {
	identity := identityFrom(c)
	documentID := c.Param("id")

	var req deleteDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CollectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection_id is required"})
		return
	}

	if err := s.ingest.Delete(c.Request.Context(), identity.TenantID, documentID, req.CollectionID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     "Document deleted successfully",
		"document_id": documentID,
	})
}

// updateAgentsRequest is the PUT /document/:id/agents body.
type updateAgentsRequest struct {
	AgentIDs  []string `json:"agent_ids"`
	Operation string   `json:"operation"`
}

// updateAgentsHandler handles PUT /document/:id/agents.
func (s *Server) updateAgentsHandler(c *gin.Context) {
	identity := identityFrom(c)
	documentID := c.Param("id")

	var req updateAgentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	op := vector.AgentsOp(req.Operation)
	if op == "" {
		op = vector.AgentsSet
	}
	agentIDs := ingestion.NormalizeAgentIDs(req.AgentIDs)

	if err := s.ingest.UpdateDocumentAgents(c.Request.Context(), identity.TenantID, documentID, agentIDs, op); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"document_id": documentID,
		"agent_ids":   agentIDs,
		"operation":   string(op),
	})
}

// statusHandler handles GET /status/:task_id.
func (s *Server) statusHandler(c *gin.Context) {
	identity := identityFrom(c)

	view, err := s.ingest.TaskStatus(c.Request.Context(), c.Param("task_id"), identity.UserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// documentTypeFromName infers a document type from a filename extension.
func documentTypeFromName(name string) parser.DocumentType {
	switch filepath.Ext(name) {
	case ".pdf":
		return parser.TypePDF
	case ".docx":
		return parser.TypeDOCX
	case ".md", ".markdown":
		return parser.TypeMarkdown
	default:
		return parser.TypeText
	}
}
