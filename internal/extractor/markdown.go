package extractor

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Title returns the first heading of a markdown document, used as the
// display name for .md uploads. Empty when the document has no heading.
func Title(data []byte) string {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(data))

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			return strings.TrimSpace(string(h.Text(data)))
		}
	}
	return ""
}
