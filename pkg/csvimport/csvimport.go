// Package csvimport implements the validation pipeline for transaction CSV
// uploads: header checking, per-row normalization into typed records and the
// summary accounting a dry-run reports back to the client. The package is
// pure (no I/O); persistence of sessions happens in the caller.
package csvimport

import (
	"github.com/shopspring/decimal"
)

// Transaction kinds produced by the normalizer.
const (
	TypeEntry = "entry"
	TypeExit  = "exit"
)

// Row statuses.
const (
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)

// DefaultMaxRows is the data-row ceiling applied when the caller passes no
// explicit limit.
const DefaultMaxRows = 2000

// RawFields carries the unvalidated cell values of one data line, keyed onto
// the canonical column names. Columns absent from the header or missing
// trailing cells come through as "".
type RawFields struct {
	Date        string `json:"date"`
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
	Category    string `json:"category"`
}

// RawRow is one parsed data line. Line is 1-based over the file, so the first
// data row is line 2 (the header is line 1).
type RawRow struct {
	Line   int
	Fields RawFields
}

// FieldError is a single per-field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Normalized is the typed record of a row that passed every field validator.
type Normalized struct {
	Date        string          `json:"date"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
	Notes       string          `json:"notes"`
	CategoryID  *uint           `json:"categoryId"`
}

// Row is the per-line dry-run verdict. Exactly one of Normalized / Errors is
// populated: any field failure makes the whole row invalid.
type Row struct {
	Line       int          `json:"line"`
	Status     string       `json:"status"`
	Raw        RawFields    `json:"raw"`
	Normalized *Normalized  `json:"normalized,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
}

// Summary aggregates a dry-run. Income sums valid entry rows, Expense sums
// valid exit rows.
type Summary struct {
	TotalRows   int             `json:"totalRows"`
	ValidRows   int             `json:"validRows"`
	InvalidRows int             `json:"invalidRows"`
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`
}

// Summarize derives the dry-run summary from normalized rows.
func Summarize(rows []Row) Summary {
	s := Summary{
		TotalRows: len(rows),
		Income:    decimal.Zero,
		Expense:   decimal.Zero,
	}
	for _, r := range rows {
		if r.Status != StatusValid || r.Normalized == nil {
			s.InvalidRows++
			continue
		}
		s.ValidRows++
		switch r.Normalized.Type {
		case TypeEntry:
			s.Income = s.Income.Add(r.Normalized.Value)
		case TypeExit:
			s.Expense = s.Expense.Add(r.Normalized.Value)
		}
	}
	return s
}
