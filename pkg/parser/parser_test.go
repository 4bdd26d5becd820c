package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/config"
)

func testRAGConfig(chunkSize, overlap int) config.RAGConfig {
	cfg := config.DefaultRAGConfig()
	cfg.ChunkSize = chunkSize
	cfg.ChunkOverlap = overlap
	return cfg
}

func TestProcessInlineContent(t *testing.T) {
	p := New()

	chunks, err := p.Process(context.Background(), Input{
		DocumentName: "greeting.txt",
		DocumentType: TypeText,
		Content:      "Hello world. Second sentence.",
		Metadata:     map[string]any{"source": "test"},
	}, "doc-1", testRAGConfig(64, 0))
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	chunk := chunks[0]
	assert.Equal(t, "doc-1", chunk.DocumentID)
	assert.Equal(t, "Hello world. Second sentence.", chunk.Content)
	assert.Equal(t, 0, chunk.ChunkIndex)
	assert.NotEmpty(t, chunk.ChunkID)

	assert.Equal(t, "greeting.txt", chunk.Metadata["document_name"])
	assert.Equal(t, "txt", chunk.Metadata["document_type"])
	assert.Equal(t, "raw_text", chunk.Metadata["extraction_method"])
	assert.Equal(t, 0, chunk.Metadata["start_char_idx"])
	assert.Equal(t, 4, chunk.Metadata["chunk_word_count"])
	assert.Equal(t, "test", chunk.Metadata["source"])
	assert.NotEmpty(t, chunk.Metadata["content_hash"])
}

func TestProcessMarkdownSkipsCleaning(t *testing.T) {
	p := New()

	// The structural separator line would be dropped by cleaning; markdown
	// keeps it.
	chunks, err := p.Process(context.Background(), Input{
		DocumentType: TypeMarkdown,
		Content:      "# Title\n\n---\n\nBody sentence.",
	}, "doc-1", testRAGConfig(64, 0))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	joined := ""
	for _, c := range chunks {
		joined += c.Content + "\n"
	}
	assert.Contains(t, joined, "---")
}

func TestProcessChunkIndexesAreSequential(t *testing.T) {
	p := New()

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("This sentence has exactly six words here. ")
	}

	chunks, err := p.Process(context.Background(), Input{
		DocumentType: TypeText,
		Content:      sb.String(),
	}, "doc-1", testRAGConfig(32, 0))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
	}
}

func TestProcessRejectsOversizeContent(t *testing.T) {
	p := New()

	_, err := p.Process(context.Background(), Input{
		DocumentType: TypeText,
		Content:      strings.Repeat("a", MaxDefaultSize+1),
	}, "doc-1", testRAGConfig(64, 0))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Contains(t, apperr.MessageOf(err), "exceeds")
}

func TestProcessRejectsUnknownType(t *testing.T) {
	p := New()

	_, err := p.Process(context.Background(), Input{
		DocumentType: DocumentType("xlsx"),
		Content:      "cells",
	}, "doc-1", testRAGConfig(64, 0))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestProcessRejectsEmptyDocument(t *testing.T) {
	p := New()

	_, err := p.Process(context.Background(), Input{
		DocumentType: TypeText,
		Content:      "   \n \x00 \n",
	}, "doc-1", testRAGConfig(64, 0))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSplitterCacheReuse(t *testing.T) {
	p := New()

	first := p.splitter(256, 32)
	second := p.splitter(256, 32)
	third := p.splitter(128, 32)

	assert.Same(t, first, second)
	assert.NotSame(t, first, third)
}

func TestSizeLimits(t *testing.T) {
	assert.Equal(t, int64(MaxPDFSize), SizeLimitFor(TypePDF))
	assert.Equal(t, int64(MaxDOCXSize), SizeLimitFor(TypeDOCX))
	assert.Equal(t, int64(MaxDefaultSize), SizeLimitFor(TypeText))
	assert.Equal(t, int64(MaxDefaultSize), SizeLimitFor(TypeURL))
}
