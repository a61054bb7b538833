package ingestion

import (
	"strings"
	"unicode"

	"github.com/fabfab/qa-agent/knowledge"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in order when looking for a natural cut point.
var separators = [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")}

// ChunkDocuments splits every document into windows of at most size runes.
// Adjacent chunks of a document share exactly overlap runes, unless they are
// separated by a whitespace run too long for any window to bridge.
func ChunkDocuments(docs []SourceDocument, size, overlap int) []knowledge.Chunk {
	size, overlap = normalizeChunking(size, overlap)

	var chunks []knowledge.Chunk
	for _, doc := range docs {
		for _, text := range splitText(doc.Text, size, overlap) {
			chunks = append(chunks, knowledge.Chunk{Text: text, SourceID: doc.SourceID})
		}
	}
	return chunks
}

func normalizeChunking(size, overlap int) (int, int) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return size, overlap
}

func splitText(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))

	var out []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}

		// Only reachable after a whitespace run of nearly a full window: no
		// chunk can carry the overlap across it, so skip to the next text.
		if !hasText(runes[start:end]) {
			for start < len(runes) && unicode.IsSpace(runes[start]) {
				start++
			}
			continue
		}

		cut := cutPoint(runes, start, end, overlap)
		out = append(out, string(runes[start:cut]))
		start = cut - overlap
	}
	return out
}

// cutPoint returns the exclusive end of the chunk starting at start. A cut
// must keep more than overlap runes in the chunk, so the next start moves
// forward, and its last overlap runes must hold text, so the next window is
// never whitespace only.
func cutPoint(runes []rune, start, end, overlap int) int {
	for _, sep := range separators {
		for i := end - len(sep); i > start+overlap; i-- {
			if hasPrefixAt(runes, i, sep) && tailHasText(runes, i, overlap) {
				return i
			}
		}
	}
	for c := end; c > start+overlap; c-- {
		if tailHasText(runes, c, overlap) {
			return c
		}
	}
	return end
}

// tailHasText looks at no fewer than one rune so a chunk never ends up
// whitespace only when overlap is zero.
func tailHasText(runes []rune, cut, overlap int) bool {
	return hasText(runes[cut-max(overlap, 1) : cut])
}

func hasText(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

func hasPrefixAt(runes []rune, at int, sep []rune) bool {
	if at+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[at+j] != r {
			return false
		}
	}
	return true
}
