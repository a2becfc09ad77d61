package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"
)

// extractDOCX concatenates paragraph runs in document order.
func extractDOCX(data []byte) string {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Sprintf("[DOCX content could not be extracted: %v]", err)
	}

	var buf strings.Builder
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := paragraphText(para)
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(text)
	}

	if buf.Len() == 0 {
		return "[DOCX contained no extractable text]"
	}
	return buf.String()
}

func paragraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
