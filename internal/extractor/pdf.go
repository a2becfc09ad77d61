package extractor

import (
	"fmt"
	"os"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// extractPDF pulls plain text page by page, joined in page order.
func extractPDF(data []byte) string {
	// ledongthuc/pdf needs a ReadSeeker+size, so write to a temp file.
	tmp, err := os.CreateTemp("", "knobase-pdf-*.pdf")
	if err != nil {
		return fmt.Sprintf("[PDF content could not be extracted: %v]", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Sprintf("[PDF content could not be extracted: %v]", err)
	}
	tmp.Close()

	f, reader, err := pdflib.Open(tmpPath)
	if err != nil {
		return fmt.Sprintf("[PDF content could not be extracted: %v]", err)
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(text)
	}

	if strings.TrimSpace(buf.String()) == "" {
		return "[PDF contained no extractable text]"
	}
	return buf.String()
}
