package ingestion

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type DocumentPayload struct {
	Path string
	Data []byte
}

type DocumentParser interface {
	Parse(payload DocumentPayload) (string, error)
}

var parsers = map[DocumentFormat]DocumentParser{
	FormatPDF:      pdfParser{},
	FormatHTML:     htmlParser{},
	FormatMarkdown: plainParser{},
	FormatText:     plainParser{},
	FormatJSON:     plainParser{},
}

type plainParser struct{}

func (plainParser) Parse(payload DocumentPayload) (string, error) {
	return string(payload.Data), nil
}

type pdfParser struct{}

// Parse concatenates page text in page order. The pdf package panics on some
// malformed inputs, so panics are turned into errors for that file.
func (pdfParser) Parse(payload DocumentPayload) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		b.WriteString(content)
	}
	return b.String(), nil
}

type htmlParser struct{}

func (htmlParser) Parse(payload DocumentPayload) (string, error) {
	root, err := html.Parse(bytes.NewReader(payload.Data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return strings.Join(parts, "\n"), nil
}
