package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// Structural parse failures. Invalid rows are data, not errors; only a file
// that cannot be processed at all surfaces through these.
var (
	ErrInvalidFile = errors.New("invalid file")
	ErrBadHeader   = errors.New("expected header: date,type,value,description,notes,category")
)

// RowLimitError reports a file whose data-row count exceeds the ceiling.
type RowLimitError struct {
	Limit int
}

func (e *RowLimitError) Error() string {
	return fmt.Sprintf("CSV exceeds %d line limit", e.Limit)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// requiredColumns must all appear in the header; optionalColumns may.
var (
	requiredColumns = []string{"date", "type", "value", "description"}
	optionalColumns = []string{"notes", "category"}
)

// Parse decodes buf as a delimited UTF-8 file, validates the header and maps
// every data record onto the declared column order. Column order in the file
// is free; only set membership and uniqueness matter. maxRows <= 0 falls back
// to DefaultMaxRows.
func Parse(buf []byte, maxRows int) ([]RawRow, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	buf = bytes.TrimPrefix(buf, utf8BOM)

	r := csv.NewReader(bytes.NewReader(buf))
	r.FieldsPerRecord = -1 // ragged rows are tolerated; cells default later
	records, err := r.ReadAll()
	if err != nil {
		return nil, ErrInvalidFile
	}
	if len(records) == 0 {
		return nil, ErrBadHeader
	}

	header, err := validateHeader(records[0])
	if err != nil {
		return nil, err
	}

	data := records[1:]
	if len(data) > maxRows {
		return nil, &RowLimitError{Limit: maxRows}
	}

	rows := make([]RawRow, 0, len(data))
	for i, rec := range data {
		row := RawRow{Line: i + 2}
		for col, name := range header {
			val := ""
			if col < len(rec) {
				val = rec[col]
			}
			switch name {
			case "date":
				row.Fields.Date = val
			case "type":
				row.Fields.Type = val
			case "value":
				row.Fields.Value = val
			case "description":
				row.Fields.Description = val
			case "notes":
				row.Fields.Notes = val
			case "category":
				row.Fields.Category = val
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// validateHeader returns the positional column names, or ErrBadHeader when a
// cell is empty, unknown or duplicated, or a required column is absent.
func validateHeader(cells []string) ([]string, error) {
	if len(cells) == 0 {
		return nil, ErrBadHeader
	}
	allowed := make(map[string]bool, len(requiredColumns)+len(optionalColumns))
	for _, c := range requiredColumns {
		allowed[c] = true
	}
	for _, c := range optionalColumns {
		allowed[c] = true
	}

	header := make([]string, len(cells))
	seen := make(map[string]bool, len(cells))
	for i, cell := range cells {
		name := strings.ToLower(strings.TrimSpace(cell))
		if name == "" || !allowed[name] || seen[name] {
			return nil, ErrBadHeader
		}
		seen[name] = true
		header[i] = name
	}
	for _, c := range requiredColumns {
		if !seen[c] {
			return nil, ErrBadHeader
		}
	}
	return header, nil
}
