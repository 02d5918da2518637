package csvimport

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// User-facing field messages (pt-BR, unaccented on purpose so they survive
// any client encoding).
const (
	msgBadDate    = "Data invalida. Use YYYY-MM-DD."
	msgBadType    = "Tipo invalido. Use Entrada ou Saida."
	msgBadValue   = "Valor invalido. Informe um numero maior que zero."
	msgNoDesc     = "Descricao e obrigatoria."
	msgNoCategory = "Categoria nao encontrada."
)

var (
	isoDateRE  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	collapseWS = regexp.MustCompile(`\s+`)
)

// NormalizeName canonicalizes a category or type label: trim, collapse inner
// whitespace, strip diacritics, lowercase. "Alimentação " and "alimentacao"
// normalize identically. The transform chain is built per call; chained
// transformers carry internal buffers and are not safe to share.
func NormalizeName(s string) string {
	s = collapseWS.ReplaceAllString(strings.TrimSpace(s), " ")
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	return strings.ToLower(s)
}

// ParseValue parses a monetary string accepting "." or "," as decimal
// separator. When both appear the right-most one is the decimal point and the
// other is a thousands separator. The result must be > 0 and is rounded to
// two places.
func ParseValue(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		s = s[:lastComma] + "." + s[lastComma+1:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// parseDate accepts only the literal YYYY-MM-DD pattern over a real calendar
// date.
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !isoDateRE.MatchString(s) {
		return "", false
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", false
	}
	return s, true
}

// parseType maps the submitted kind onto entry/exit, tolerating case,
// diacritics and stray whitespace ("Saída" == "saida").
func parseType(s string) (string, bool) {
	switch NormalizeName(s) {
	case "entrada":
		return TypeEntry, true
	case "saida":
		return TypeExit, true
	}
	return "", false
}

// NormalizeRow validates every field of one raw row independently and
// collects all failures instead of stopping at the first. categories maps
// normalized category names to ids for the owning user.
func NormalizeRow(raw RawRow, categories map[string]uint) Row {
	row := Row{Line: raw.Line, Raw: raw.Fields}
	var errs []FieldError

	date, ok := parseDate(raw.Fields.Date)
	if !ok {
		errs = append(errs, FieldError{Field: "date", Message: msgBadDate})
	}
	kind, ok := parseType(raw.Fields.Type)
	if !ok {
		errs = append(errs, FieldError{Field: "type", Message: msgBadType})
	}
	value, ok := ParseValue(raw.Fields.Value)
	if !ok {
		errs = append(errs, FieldError{Field: "value", Message: msgBadValue})
	}
	desc := strings.TrimSpace(raw.Fields.Description)
	if desc == "" {
		errs = append(errs, FieldError{Field: "description", Message: msgNoDesc})
	}

	var categoryID *uint
	if cat := strings.TrimSpace(raw.Fields.Category); cat != "" {
		if id, found := categories[NormalizeName(cat)]; found {
			categoryID = &id
		} else {
			errs = append(errs, FieldError{Field: "category", Message: msgNoCategory})
		}
	}

	if len(errs) > 0 {
		row.Status = StatusInvalid
		row.Errors = errs
		return row
	}
	row.Status = StatusValid
	row.Normalized = &Normalized{
		Date:        date,
		Type:        kind,
		Value:       value,
		Description: desc,
		Notes:       strings.TrimSpace(raw.Fields.Notes),
		CategoryID:  categoryID,
	}
	return row
}

// NormalizeAll runs NormalizeRow over every raw row in order.
func NormalizeAll(raws []RawRow, categories map[string]uint) []Row {
	rows := make([]Row, 0, len(raws))
	for _, raw := range raws {
		rows = append(rows, NormalizeRow(raw, categories))
	}
	return rows
}
