package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const sheetSeparator = "----------------------------------------"

// extractExcel renders each sheet as a table structure line, per-row
// "header: value" pairs plus an aligned tab-delimited ROW_DATA line,
// and a trailing summary flagging likely name and hours columns.
// excelize resolves shared strings, booleans and date cells itself.
func extractExcel(data []byte) string {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Sprintf("[Excel content could not be extracted: %v]", err)
	}
	defer wb.Close()

	var buf strings.Builder
	for _, sheet := range wb.GetSheetList() {
		buf.WriteString("Sheet: " + sheet + "\n")
		buf.WriteString(sheetSeparator + "\n")

		rows, err := wb.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		headers := rows[0]
		buf.WriteString("Table Structure:\n")
		buf.WriteString(strings.Join(headers, "\t") + "\n")
		buf.WriteString(sheetSeparator + "\n")

		for _, row := range rows[1:] {
			// Align the row to headers by column index; trailing empty
			// cells are omitted by the reader.
			values := make([]string, len(headers))
			for i := range headers {
				if i < len(row) {
					values[i] = row[i]
				}
			}

			for i, header := range headers {
				if values[i] != "" {
					buf.WriteString(header + ": " + values[i] + "\n")
				}
			}
			buf.WriteString("ROW_DATA:\t" + strings.Join(values, "\t") + "\n")
			buf.WriteString(sheetSeparator + "\n")
		}

		buf.WriteString("\nKey Columns Summary:\n")
		for _, header := range headers {
			lower := strings.ToLower(header)
			switch {
			case strings.Contains(lower, "name") || strings.Contains(lower, "employee") ||
				strings.Contains(lower, "staff") || strings.Contains(lower, "personnel"):
				buf.WriteString("Potential Employee Names: " + header + "\n")
			case strings.Contains(lower, "hour") || strings.Contains(lower, "time") ||
				strings.Contains(lower, "duration"):
				buf.WriteString("Potential Hours Data: " + header + "\n")
			}
		}
		buf.WriteString("\n")
	}

	if buf.Len() == 0 {
		return "[Excel workbook contained no sheets]"
	}
	return buf.String()
}
