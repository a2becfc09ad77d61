package extractor

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// extractCSV renders CSV rows as "header: value" lines so the text is
// searchable by column name.
func extractCSV(data []byte) string {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Sprintf("[CSV content could not be extracted: %v]", err)
	}
	if len(records) == 0 {
		return ""
	}

	headers := records[0]
	var buf strings.Builder
	buf.WriteString("Headers: " + strings.Join(headers, ", ") + "\n\n")

	for _, row := range records[1:] {
		for j, cell := range row {
			if j < len(headers) {
				buf.WriteString(headers[j] + ": " + cell)
			} else {
				buf.WriteString(cell)
			}
			if j < len(row)-1 {
				buf.WriteString(", ")
			}
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
