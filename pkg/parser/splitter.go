package parser

import "strings"

// Piece is one chunk of text with its character span in the source.
type Piece struct {
	Text      string
	Start     int
	End       int
	WordCount int
}

// sentence is a segment of the source text ending at a sentence boundary.
type sentence struct {
	start int
	end   int
	words int
}

// SentenceSplitter packs whole sentences into chunks of roughly chunkSize
// words, carrying chunkOverlap words of trailing context into the next chunk.
type SentenceSplitter struct {
	chunkSize    int
	chunkOverlap int
}

// NewSentenceSplitter creates a splitter. A zero or negative chunk size falls
// back to 512 words; an overlap that would prevent forward progress is
// clamped to half the chunk size.
func NewSentenceSplitter(chunkSize, chunkOverlap int) *SentenceSplitter {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 2
	}
	return &SentenceSplitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Split divides text into chunks at sentence boundaries. A single sentence
// longer than the chunk size becomes its own chunk rather than being cut.
func (s *SentenceSplitter) Split(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := segment(text)
	if len(sentences) == 0 {
		return nil
	}

	var pieces []Piece
	i := 0
	for i < len(sentences) {
		first := i
		words := 0
		for i < len(sentences) {
			next := sentences[i].words
			if words > 0 && words+next > s.chunkSize {
				break
			}
			words += next
			i++
		}
		last := i - 1

		start := sentences[first].start
		end := sentences[last].end
		pieces = append(pieces, Piece{
			Text:      strings.TrimSpace(text[start:end]),
			Start:     start,
			End:       end,
			WordCount: words,
		})

		if i >= len(sentences) {
			break
		}

		// Walk back whole sentences totaling at most the overlap budget.
		if s.chunkOverlap > 0 {
			overlap := 0
			back := i
			for back > first {
				if overlap+sentences[back-1].words > s.chunkOverlap {
					break
				}
				overlap += sentences[back-1].words
				back--
			}
			// Never restart at or before the previous chunk's first sentence.
			if back > first {
				i = back
			}
		}
	}

	return pieces
}

// segment splits text into sentence spans. Boundaries are terminal
// punctuation followed by whitespace, and blank lines.
func segment(text string) []sentence {
	var sentences []sentence
	runes := []rune(text)

	start := 0
	flush := func(end int) {
		segText := strings.TrimSpace(string(runes[start:end]))
		if segText != "" {
			// Byte offsets of the trimmed segment within the source.
			byteStart := len(string(runes[:start]))
			raw := string(runes[start:end])
			lead := len(raw) - len(strings.TrimLeft(raw, " \t\n"))
			trail := len(raw) - len(strings.TrimRight(raw, " \t\n"))
			sentences = append(sentences, sentence{
				start: byteStart + lead,
				end:   byteStart + len(raw) - trail,
				words: len(strings.Fields(segText)),
			})
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				flush(i + 1)
			}
			continue
		}
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush(i)
		}
	}
	flush(len(runes))

	return sentences
}
