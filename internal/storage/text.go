package storage

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MLaitarovsky/docpilot/internal/common"
)

// TextExtractor pulls the raw text out of an uploaded file.
type TextExtractor interface {
	Extract(filename string, body []byte) (text string, pageCount *int, err error)
}

// PlainText handles UTF-8 text uploads (.txt, .md). Binary formats need a
// dedicated extractor registered per extension.
type PlainText struct{}

func (PlainText) Extract(filename string, body []byte) (string, *int, error) {
	if !utf8.Valid(body) {
		return "", nil, fmt.Errorf("%w: %s is not valid UTF-8 text", common.ErrInvalidInput, filename)
	}
	text := string(body)
	if strings.TrimSpace(text) == "" {
		return "", nil, fmt.Errorf("%w: %s contains no text", common.ErrInvalidInput, filename)
	}
	return text, nil, nil
}
