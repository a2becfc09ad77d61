// Package extractor converts uploaded file bytes into plain text.
// Extraction never fails hard: formats we cannot read produce a
// human-readable placeholder that becomes the document content, so
// the ingestion pipeline always has something to store.
package extractor

import (
	"fmt"
	"strings"
)

// SupportedExtensions lists file extensions the upload endpoint accepts.
var SupportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
	".xml":  true,
	".csv":  true,
	".html": true,
	".htm":  true,
	".pdf":  true,
	".docx": true,
	".doc":  true,
	".xlsx": true,
	".xls":  true,
}

// IsSupportedExtension checks whether ext (with leading dot) is accepted.
func IsSupportedExtension(ext string) bool {
	return SupportedExtensions[strings.ToLower(ext)]
}

// Extract returns the plain text of data for the given extension.
func Extract(data []byte, ext string) string {
	switch strings.ToLower(ext) {
	case ".txt", ".md", ".json", ".xml":
		return string(data)
	case ".csv":
		return extractCSV(data)
	case ".html", ".htm":
		return HTMLText(strings.NewReader(string(data)), false)
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".xlsx", ".xls":
		return extractExcel(data)
	default:
		return fmt.Sprintf("[Content extraction not supported for %s files]", strings.ToLower(ext))
	}
}
