// Package parser extracts text from uploaded documents, normalizes it, and
// splits it into sentence-aware chunks ready for embedding.
package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/config"
)

// DocumentType declares how a document's content is extracted.
type DocumentType string

// Supported document types.
const (
	TypePDF      DocumentType = "pdf"
	TypeDOCX     DocumentType = "docx"
	TypeMarkdown DocumentType = "markdown"
	TypeText     DocumentType = "txt"
	TypeURL      DocumentType = "url"
	TypeInline   DocumentType = "inline"
)

// Size limits applied before parsing.
const (
	MaxPDFSize     = 50 << 20
	MaxDOCXSize    = 20 << 20
	MaxDefaultSize = 10 << 20
)

// urlFetchTimeout bounds URL document downloads.
const urlFetchTimeout = 30 * time.Second

// Input describes one document to parse. Exactly one of Content, FilePath, or
// URL carries the source.
type Input struct {
	DocumentName string
	DocumentType DocumentType
	Content      string
	FilePath     string
	URL          string
	Metadata     map[string]any
}

// Chunk is one unit of retrievable text. The hierarchy fields (tenant,
// collection, agents) are attached by the ingestion orchestrator after
// parsing; the embedding arrives later via the embedding callback.
type Chunk struct {
	ChunkID      string         `json:"chunk_id"`
	DocumentID   string         `json:"document_id"`
	TenantID     string         `json:"tenant_id,omitempty"`
	CollectionID string         `json:"collection_id,omitempty"`
	AgentIDs     []string       `json:"agent_ids,omitempty"`
	Content      string         `json:"content"`
	ChunkIndex   int            `json:"chunk_index"`
	Embedding    []float32      `json:"embedding,omitempty"`
	Keywords     []string       `json:"keywords,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type splitterKey struct {
	chunkSize    int
	chunkOverlap int
}

// Parser turns documents into chunks. Splitters are cached by
// (chunk_size, chunk_overlap) since requests reuse a handful of configs.
type Parser struct {
	mu        sync.Mutex
	splitters map[splitterKey]*SentenceSplitter
	client    *http.Client
}

// New creates a parser.
func New() *Parser {
	return &Parser{
		splitters: make(map[splitterKey]*SentenceSplitter),
		client:    &http.Client{Timeout: urlFetchTimeout},
	}
}

// Process extracts, cleans, and chunks one document.
func (p *Parser) Process(ctx context.Context, in Input, documentID string, cfg config.RAGConfig) ([]Chunk, error) {
	ext, err := p.extract(ctx, in)
	if err != nil {
		return nil, err
	}

	text := ext.text
	if !ext.isMarkdown {
		text = CleanText(text, ext.hasTables)
	}
	if text == "" {
		return nil, apperr.New(apperr.KindValidation, "document has no extractable text")
	}

	contentHash := hashContent(text)
	pieces := p.splitter(cfg.ChunkSize, cfg.ChunkOverlap).Split(text)

	now := time.Now().UTC()
	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		metadata := map[string]any{
			"document_name":     in.DocumentName,
			"document_type":     string(in.DocumentType),
			"start_char_idx":    piece.Start,
			"end_char_idx":      piece.End,
			"extraction_method": ext.method,
			"has_tables":        ext.hasTables,
			"page_count":        ext.pageCount,
			"chunk_word_count":  piece.WordCount,
			"content_hash":      contentHash,
		}
		for k, v := range in.Metadata {
			metadata[k] = v
		}
		chunks[i] = Chunk{
			ChunkID:    uuid.New().String(),
			DocumentID: documentID,
			Content:    piece.Text,
			ChunkIndex: i,
			Metadata:   metadata,
			CreatedAt:  now,
		}
	}
	return chunks, nil
}

// splitter returns the cached splitter for a config, creating it on first use.
func (p *Parser) splitter(chunkSize, chunkOverlap int) *SentenceSplitter {
	key := splitterKey{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.splitters[key]; ok {
		return s
	}
	s := NewSentenceSplitter(chunkSize, chunkOverlap)
	p.splitters[key] = s
	return s
}

func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// SizeLimitFor returns the pre-parse byte cap for a document type.
func SizeLimitFor(t DocumentType) int64 {
	switch t {
	case TypePDF:
		return MaxPDFSize
	case TypeDOCX:
		return MaxDOCXSize
	default:
		return MaxDefaultSize
	}
}

func oversizeError(t DocumentType, size int64) error {
	return apperr.Newf(apperr.KindValidation,
		"%s document of %d bytes exceeds the %d byte limit", t, size, SizeLimitFor(t))
}
