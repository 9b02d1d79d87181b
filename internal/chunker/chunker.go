// Package chunker splits document text into overlapping chunks that respect
// paragraph boundaries, tracking which pages each chunk spans.
package chunker

import "strings"

// PageSpan maps a page number to its character range within the full text.
type PageSpan struct {
	Page      int `json:"page"`
	StartChar int `json:"start_char"`
	EndChar   int `json:"end_char"`
}

// Chunk is one slice of the document used to build model prompts.
type Chunk struct {
	Text      string
	StartChar int
	EndChar   int
	Pages     []int
}

// Defaults used when the caller passes zero values.
const (
	DefaultChunkSize = 2000
	DefaultOverlap   = 200
)

// Split breaks text into chunks of roughly chunkSize characters, carrying
// about overlap characters of trailing paragraphs into the next chunk.
// Paragraphs (double-newline blocks) are never split across chunks.
func Split(text string, pages []PageSpan, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	type para struct {
		start int
		text  string
	}
	var paragraphs []para
	searchFrom := 0
	for _, block := range strings.Split(text, "\n\n") {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		idx := strings.Index(text[searchFrom:], block)
		if idx == -1 {
			idx = 0
		}
		start := searchFrom + idx
		paragraphs = append(paragraphs, para{start: start, text: trimmed})
		searchFrom = start + len(block)
	}

	if len(paragraphs) == 0 {
		return []Chunk{{
			Text:      strings.TrimSpace(text),
			StartChar: 0,
			EndChar:   len(text),
			Pages:     findPages(0, len(text), pages),
		}}
	}

	var chunks []Chunk
	var currentTexts []string
	currentStart := paragraphs[0].start
	currentLen := 0

	flush := func(endHint int) int {
		body := strings.Join(currentTexts, "\n\n")
		end := currentStart + len(body)
		chunks = append(chunks, Chunk{
			Text:      body,
			StartChar: currentStart,
			EndChar:   end,
			Pages:     findPages(currentStart, end, pages),
		})
		return end
	}

	for _, p := range paragraphs {
		if currentLen+len(p.text) > chunkSize && len(currentTexts) > 0 {
			end := flush(p.start)

			// Carry trailing paragraphs that fit within the overlap budget.
			var carried []string
			carriedLen := 0
			for i := len(currentTexts) - 1; i >= 0; i-- {
				if carriedLen+len(currentTexts[i]) > overlap {
					break
				}
				carried = append([]string{currentTexts[i]}, carried...)
				carriedLen += len(currentTexts[i])
			}
			currentTexts = carried
			currentLen = carriedLen
			if len(carried) > 0 {
				currentStart = end - carriedLen
			} else {
				currentStart = p.start
			}
		}
		currentTexts = append(currentTexts, p.text)
		currentLen += len(p.text)
	}

	if len(currentTexts) > 0 {
		flush(len(text))
	}

	return chunks
}

// Combined joins chunk texts with blank lines, truncated to maxChars. Used
// to build a single prompt context that stays within model limits.
func Combined(chunks []Chunk, maxChars int) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Text)
	}
	joined := strings.Join(parts, "\n\n")
	if maxChars > 0 && len(joined) > maxChars {
		return joined[:maxChars]
	}
	return joined
}

// Sample joins the first n chunks, used for classification where the opening
// pages are enough to identify the document type.
func Sample(chunks []Chunk, n int) string {
	if n > len(chunks) {
		n = len(chunks)
	}
	parts := make([]string, 0, n)
	for _, c := range chunks[:n] {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n\n")
}

// findPages returns the 1-indexed page numbers that a character range spans.
func findPages(startChar, endChar int, pages []PageSpan) []int {
	var out []int
	for _, p := range pages {
		if p.EndChar <= startChar {
			continue
		}
		if p.StartChar >= endChar {
			break
		}
		out = append(out, p.Page)
	}
	return out
}
