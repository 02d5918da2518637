package csvimport

import (
	"errors"
	"testing"
)

func TestParseHeaderAnyOrder(t *testing.T) {
	buf := []byte("type,date,value,description\nEntrada,2026-01-02,1000,Salario")
	rows, err := Parse(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row got %d", len(rows))
	}
	r := rows[0]
	if r.Line != 2 {
		t.Fatalf("expected line 2 got %d", r.Line)
	}
	if r.Fields.Date != "2026-01-02" || r.Fields.Type != "Entrada" || r.Fields.Value != "1000" || r.Fields.Description != "Salario" {
		t.Fatalf("fields misassigned: %+v", r.Fields)
	}
	if r.Fields.Notes != "" || r.Fields.Category != "" {
		t.Fatalf("absent columns should default to empty: %+v", r.Fields)
	}
}

func TestParseRejectsBadHeaders(t *testing.T) {
	cases := []struct {
		name string
		buf  string
	}{
		{"empty input", ""},
		{"missing required column", "date,type,value\n2026-01-02,Entrada,10"},
		{"duplicate column", "date,type,value,description,date\n2026-01-02,Entrada,10,x,y"},
		{"unknown column", "date,type,value,description,amount\n2026-01-02,Entrada,10,x,1"},
		{"empty header cell", "date,type,,description\n2026-01-02,Entrada,10,x"},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.buf), 0); !errors.Is(err, ErrBadHeader) {
			t.Fatalf("%s: expected ErrBadHeader got %v", tc.name, err)
		}
	}
}

func TestParseInvalidFile(t *testing.T) {
	buf := []byte("date,type,value,description\n\"unclosed,Entrada,10,x")
	if _, err := Parse(buf, 0); !errors.Is(err, ErrInvalidFile) {
		t.Fatalf("expected ErrInvalidFile got %v", err)
	}
}

func TestParseRowLimit(t *testing.T) {
	buf := []byte("date,type,value,description\na\nb\nc")
	_, err := Parse(buf, 2)
	var limitErr *RowLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected RowLimitError got %v", err)
	}
	if limitErr.Error() != "CSV exceeds 2 line limit" {
		t.Fatalf("unexpected message: %s", limitErr.Error())
	}
}

func TestParseBOMAndRaggedRows(t *testing.T) {
	buf := []byte("\xEF\xBB\xBFdate,type,value,description,notes,category\n2026-01-02,Entrada,10\n")
	rows, err := Parse(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row got %d", len(rows))
	}
	if rows[0].Fields.Description != "" || rows[0].Fields.Notes != "" {
		t.Fatalf("short row should default trailing cells: %+v", rows[0].Fields)
	}
	if rows[0].Fields.Value != "10" {
		t.Fatalf("expected value 10 got %q", rows[0].Fields.Value)
	}
}

func TestParseHeaderCaseInsensitive(t *testing.T) {
	buf := []byte("Date,TYPE,Value,Description\n2026-01-02,Entrada,10,x")
	rows, err := Parse(buf, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows[0].Fields.Date != "2026-01-02" {
		t.Fatalf("header names should be case-insensitive: %+v", rows[0].Fields)
	}
}
