// Package ingestion loads source documents, splits them into chunks and
// appends them to the knowledge store.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown  DocumentFormat = ""
	FormatPDF      DocumentFormat = "pdf"
	FormatHTML     DocumentFormat = "html"
	FormatMarkdown DocumentFormat = "markdown"
	FormatText     DocumentFormat = "text"
	// FormatJSON is stored as raw text; it is never parsed.
	FormatJSON DocumentFormat = "json"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".html", ".htm":
		return FormatHTML
	case ".md", ".markdown":
		return FormatMarkdown
	case ".txt":
		return FormatText
	case ".json":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// Supported reports whether path has an extension the loader understands.
func Supported(path string) bool {
	return DetectFormat(path) != FormatUnknown
}
