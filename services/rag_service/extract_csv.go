package rag_service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// extractCSV renders a table as one line per record: the header as
// "Table Headers: a, b" and each data row as "Row N: x | y". Input that
// fails to parse is returned as plain text.
func extractCSV(data []byte) string {
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var lines []string
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return decodeUTF8(data)
		}
		if row == 0 {
			lines = append(lines, "Table Headers: "+strings.Join(record, ", "))
		} else {
			lines = append(lines, fmt.Sprintf("Row %d: %s", row, strings.Join(record, " | ")))
		}
		row++
	}
	return decodeUTF8([]byte(strings.Join(lines, "\n")))
}
