package extractor

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// HTMLText extracts readable text from an HTML page. Content regions
// (main, article, #content, .content) are preferred; when none exist
// and excludeNav is set, navigation chrome is stripped before walking
// the body.
func HTMLText(r io.Reader, excludeNav bool) string {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ""
	}

	var buf strings.Builder

	content := doc.Find("main, article, #content, .content")
	if content.Length() > 0 {
		content.Each(func(_ int, s *goquery.Selection) {
			for _, n := range s.Nodes {
				walkBlocks(n, &buf)
			}
		})
		return strings.TrimSpace(buf.String())
	}

	if excludeNav {
		doc.Find("nav, header, footer, aside").Remove()
		doc.Find("div").Each(func(_ int, s *goquery.Selection) {
			class, _ := s.Attr("class")
			lower := strings.ToLower(class)
			if strings.Contains(lower, "nav") || strings.Contains(lower, "menu") ||
				strings.Contains(lower, "footer") {
				s.Remove()
			}
		})
	}

	scope := doc.Find("body")
	if scope.Length() == 0 {
		scope = doc.Selection
	}
	scope.Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			walkBlocks(n, &buf)
		}
	})
	return strings.TrimSpace(buf.String())
}

var blockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true,
}

// walkBlocks emits one line per non-empty block element or bare text
// node, recursing into other containers.
func walkBlocks(n *html.Node, buf *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			buf.WriteString(t + "\n")
		}
		return
	case html.ElementNode:
		switch {
		case n.Data == "script" || n.Data == "style" || n.Data == "noscript":
			return
		case blockTags[n.Data]:
			if t := nodeText(n); t != "" {
				buf.WriteString(t + "\n")
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkBlocks(c, buf)
	}
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}
