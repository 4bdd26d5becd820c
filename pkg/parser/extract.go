package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/nooble8/ragcore/pkg/apperr"
	"github.com/nooble8/ragcore/pkg/version"
)

// extraction is the intermediate result of format-specific text extraction.
type extraction struct {
	text       string
	isMarkdown bool
	hasTables  bool
	pageCount  int
	method     string
}

// extract dispatches by declared document type. Size limits apply before any
// parsing work.
func (p *Parser) extract(ctx context.Context, in Input) (*extraction, error) {
	if err := p.checkSize(in); err != nil {
		return nil, err
	}

	switch in.DocumentType {
	case TypePDF:
		return extractPDF(in.FilePath)
	case TypeDOCX:
		return extractDOCX(in.FilePath)
	case TypeMarkdown:
		text, err := readSource(in)
		if err != nil {
			return nil, err
		}
		return &extraction{text: text, isMarkdown: true, method: "raw_markdown"}, nil
	case TypeText, "text", "plain":
		text, err := readSource(in)
		if err != nil {
			return nil, err
		}
		return &extraction{text: text, method: "raw_text"}, nil
	case TypeURL:
		text, err := p.fetchURL(ctx, in.URL)
		if err != nil {
			return nil, err
		}
		return &extraction{text: text, method: "url_fetch"}, nil
	case TypeInline, "":
		return &extraction{text: in.Content, method: "inline"}, nil
	}
	return nil, apperr.Newf(apperr.KindValidation, "unsupported document type: %s", in.DocumentType)
}

// checkSize rejects over-limit documents before parsing.
func (p *Parser) checkSize(in Input) error {
	limit := SizeLimitFor(in.DocumentType)
	if in.FilePath != "" {
		info, err := os.Stat(in.FilePath)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, "document file unreadable", err)
		}
		if info.Size() > limit {
			return oversizeError(in.DocumentType, info.Size())
		}
		return nil
	}
	if size := int64(len(in.Content)); size > limit {
		return oversizeError(in.DocumentType, size)
	}
	return nil
}

// readSource returns inline content or the file body as UTF-8 text.
// Invalid byte sequences are dropped rather than failing the document.
func readSource(in Input) (string, error) {
	if in.FilePath == "" {
		return in.Content, nil
	}
	raw, err := os.ReadFile(in.FilePath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "document file unreadable", err)
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

// fetchURL downloads a document body with the fetch timeout and UA header.
func (p *Parser) fetchURL(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", apperr.New(apperr.KindValidation, "url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "invalid url", err)
	}
	req.Header.Set("User-Agent", version.Full())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindServiceUnavailable, "url fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Newf(apperr.KindValidation, "url fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDefaultSize+1))
	if err != nil {
		return "", apperr.Wrap(apperr.KindServiceUnavailable, "url body read failed", err)
	}
	if int64(len(body)) > MaxDefaultSize {
		return "", oversizeError(TypeURL, int64(len(body)))
	}
	return string(body), nil
}

// --- PDF ---

// extractPDF tries the markdown-structured extractor first (tables preserved
// as pipe rows), then falls back to the whole-document plain text reader.
func extractPDF(path string) (*extraction, error) {
	if path == "" {
		return nil, apperr.New(apperr.KindValidation, "pdf ingestion requires an uploaded file")
	}

	if ext, err := extractPDFMarkdown(path); err == nil && strings.TrimSpace(ext.text) != "" {
		return ext, nil
	}
	return extractPDFPlain(path)
}

// extractPDFMarkdown walks pages row by row. Rows whose words are separated
// by large horizontal gaps are treated as table rows and joined with pipes.
func extractPDFMarkdown(path string) (*extraction, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	hasTables := false
	pageCount := r.NumPage()

	for i := 1; i <= pageCount; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("reading page %d: %w", i, err)
		}
		for _, row := range rows {
			cells := rowCells(row)
			if len(cells) == 0 {
				continue
			}
			if len(cells) > 1 {
				hasTables = true
				sb.WriteString("| " + strings.Join(cells, " | ") + " |")
			} else {
				sb.WriteString(cells[0])
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return &extraction{
		text:       sb.String(),
		isMarkdown: true,
		hasTables:  hasTables,
		pageCount:  pageCount,
		method:     "pdf_markdown",
	}, nil
}

// rowCells groups a row's words into cells split on large horizontal gaps.
func rowCells(row *pdf.Row) []string {
	var cells []string
	var cell strings.Builder
	var lastEnd float64

	for _, word := range row.Content {
		gap := word.X - lastEnd
		if cell.Len() > 0 && gap > 30 {
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		} else if cell.Len() > 0 {
			cell.WriteString(" ")
		}
		cell.WriteString(word.S)
		lastEnd = word.X + word.W
	}
	if text := strings.TrimSpace(cell.String()); text != "" {
		cells = append(cells, text)
	}

	out := cells[:0]
	for _, c := range cells {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// extractPDFPlain is the generic fallback reader.
func extractPDFPlain(path string) (*extraction, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "pdf unreadable", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "pdf text extraction failed", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "pdf text extraction failed", err)
	}

	return &extraction{
		text:      buf.String(),
		pageCount: r.NumPage(),
		method:    "pdf_plain",
	}, nil
}

// --- DOCX ---

// docx XML element names we care about (namespace-local).
const (
	docxParagraph = "p"
	docxRun       = "t"
	docxTable     = "tbl"
	docxTableRow  = "tr"
	docxTableCell = "tc"
	docxStyle     = "pStyle"
)

// extractDOCX reads word/document.xml out of the OOXML zip: paragraphs with
// heading styles become #-prefixed lines; tables are fenced [TABLE]…[/TABLE]
// with pipe-joined cells.
func extractDOCX(path string) (*extraction, error) {
	if path == "" {
		return nil, apperr.New(apperr.KindValidation, "docx ingestion requires an uploaded file")
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "docx unreadable", err)
	}
	defer zr.Close()

	var doc io.ReadCloser
	for _, file := range zr.File {
		if file.Name == "word/document.xml" {
			doc, err = file.Open()
			if err != nil {
				return nil, apperr.Wrap(apperr.KindValidation, "docx document part unreadable", err)
			}
			break
		}
	}
	if doc == nil {
		return nil, apperr.New(apperr.KindValidation, "docx has no document part")
	}
	defer doc.Close()

	text, hasTables, err := walkDOCX(doc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "docx parse failed", err)
	}

	return &extraction{
		text:      text,
		hasTables: hasTables,
		method:    "docx_structured",
	}, nil
}

// walkDOCX streams the document XML, emitting structured text.
func walkDOCX(r io.Reader) (string, bool, error) {
	decoder := xml.NewDecoder(r)

	var sb strings.Builder
	var paragraph strings.Builder
	var cell strings.Builder
	var tableRow []string

	hasTables := false
	inTable := false
	inCell := false
	heading := false

	flushParagraph := func() {
		text := strings.TrimSpace(paragraph.String())
		paragraph.Reset()
		if text == "" {
			return
		}
		if heading {
			sb.WriteString("# ")
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case docxTable:
				inTable = true
				hasTables = true
				sb.WriteString("[TABLE]\n")
			case docxTableRow:
				tableRow = tableRow[:0]
			case docxTableCell:
				inCell = true
				cell.Reset()
			case docxParagraph:
				heading = false
			case docxStyle:
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" && strings.HasPrefix(attr.Value, "Heading") {
						heading = true
					}
				}
			case docxRun:
				var text string
				if err := decoder.DecodeElement(&text, &t); err != nil {
					return "", false, err
				}
				if inCell {
					cell.WriteString(text)
				} else {
					paragraph.WriteString(text)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case docxTable:
				inTable = false
				sb.WriteString("[/TABLE]\n")
			case docxTableRow:
				if inTable {
					sb.WriteString(strings.Join(tableRow, " | "))
					sb.WriteString("\n")
				}
			case docxTableCell:
				inCell = false
				tableRow = append(tableRow, strings.TrimSpace(cell.String()))
			case docxParagraph:
				if !inTable {
					flushParagraph()
				}
			}
		}
	}

	return sb.String(), hasTables, nil
}
