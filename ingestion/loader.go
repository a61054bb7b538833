package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
)

// SourceDocument is the text extracted from one file. SourceID is the file's
// base name.
type SourceDocument struct {
	Text     string
	SourceID string
}

// Load extracts text from path. ok is false for unsupported extensions; the
// caller decides whether to log the skip.
func Load(path string) (doc SourceDocument, ok bool, err error) {
	format := DetectFormat(path)
	parser, found := parsers[format]
	if !found {
		return SourceDocument{}, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return SourceDocument{}, true, fmt.Errorf("read file: %w", err)
	}

	text, err := parser.Parse(DocumentPayload{Path: path, Data: data})
	if err != nil {
		return SourceDocument{}, true, fmt.Errorf("parse %s: %w", format, err)
	}

	return SourceDocument{Text: text, SourceID: filepath.Base(path)}, true, nil
}
