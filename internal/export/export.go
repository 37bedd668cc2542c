// Package export renders the collected responses of a form for download.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"collabform/api/internal/store"
)

// ResponsesCSV renders one row per participant, with one column per schema
// field in declaration order plus participant metadata. Fields the participant
// never touched render as empty cells.
func ResponsesCSV(form store.Form, rows []store.ResponseRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"username", "updated_at"}
	for _, field := range form.Fields {
		header = append(header, field.Name)
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for _, row := range rows {
		record := []string{row.Username, row.UpdatedAt.UTC().Format(time.RFC3339)}
		for _, field := range form.Fields {
			record = append(record, cell(row.Data[field.Name]))
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write row for %s: %w", row.Username, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cell flattens a JSON value into CSV text. Numbers arrive as float64 after a
// JSONB round trip; integral values must not grow a trailing ".0".
func cell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
