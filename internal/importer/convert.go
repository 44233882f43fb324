package importer

// convert.go provides type coercion from raw CSV values to canonical
// string forms:
//   - dates      -> "2006-01-02", from a fixed accepted format set
//   - currency   -> plain decimal, symbols and separators stripped
//   - booleans   -> "true"/"false" from yes/no, t/f, 1/0 variants
//   - phones     -> bare digit strings
//
// The canonical forms are what the store persists and what conflict
// comparison operates on, so coercion must be deterministic.

import (
	"regexp"
	"strings"
	"time"

	"github.com/caseflowhq/caseflow/internal/schema"
)

// numericRegex validates a cleaned numeric string: integers, decimals,
// scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// acceptedDateLayouts is the fixed format set the pipeline accepts.
// ISO forms first, then US month-first slash forms. Dot-separated dates
// are accepted in both month-first and day-first order because source
// systems disagree; when both orders parse to different dates the value
// is ambiguous and rejected.
var acceptedDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1-2-2006",
	"1.2.2006",
	"2.1.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"20060102",
}

// DateLayout is the canonical date form.
const DateLayout = "2006-01-02"

// ParseDate coerces a raw value to the canonical date form.
// A value that parses under multiple accepted layouts to different
// calendar dates is rejected as ambiguous rather than silently picking
// one interpretation.
func ParseDate(s string) (string, error) {
	s = CleanCell(s)
	if s == "" {
		return "", nil
	}

	var matches []time.Time
	for _, layout := range acceptedDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		dup := false
		for _, m := range matches {
			if m.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			matches = append(matches, t)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NormalizationError{Value: s, Message: "unrecognized date format"}
	case 1:
		return matches[0].Format(DateLayout), nil
	default:
		return "", &NormalizationError{Value: s, Message: "ambiguous date"}
	}
}

// ParseCurrency coerces a raw monetary or numeric value to a plain
// decimal string. Handles currency symbols, thousands separators, and
// the accounting negative format "(123.45)".
func ParseCurrency(s string) (string, error) {
	s = CleanCell(s)
	if s == "" {
		return "", nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, sym := range []string{"$", "€", "£", ","} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.TrimSpace(s)

	if negative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return "", &NormalizationError{Value: s, Message: "invalid numeric value"}
	}
	return s, nil
}

// ParseBool coerces common boolean spellings to "true"/"false".
func ParseBool(s string) (string, error) {
	s = strings.ToLower(CleanCell(s))
	if s == "" {
		return "", nil
	}
	switch s {
	case "true", "t", "yes", "y", "1":
		return "true", nil
	case "false", "f", "no", "n", "0":
		return "false", nil
	}
	return "", &NormalizationError{Value: s, Message: "must be yes/no, true/false, or 1/0"}
}

// phoneDigits strips everything but digits.
var phoneDigits = regexp.MustCompile(`\D`)

// ParsePhone coerces a phone number to a bare digit string. A leading
// US country code on an 11-digit number is dropped.
func ParsePhone(s string) (string, error) {
	s = CleanCell(s)
	if s == "" {
		return "", nil
	}
	digits := phoneDigits.ReplaceAllString(s, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 7 {
		return "", &NormalizationError{Value: s, Message: "too few digits for a phone number"}
	}
	return digits, nil
}

// CleanCell removes common CSV artifacts from a cell value: surrounding
// whitespace and quotes, plus the Excel formula prefix (="...").
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// normalizeHeader lowercases and cleans a column header for lookup.
func normalizeHeader(h string) string {
	return strings.ToLower(CleanCell(h))
}

// coerceValue applies the type coercion for one field. Text fields pass
// through cleaned; enum translation happens in the mapping layer.
func coerceValue(ft schema.FieldType, raw string) (string, error) {
	switch ft {
	case schema.FieldDate:
		return ParseDate(raw)
	case schema.FieldNumeric:
		return ParseCurrency(raw)
	case schema.FieldBool:
		return ParseBool(raw)
	case schema.FieldPhone:
		return ParsePhone(raw)
	default:
		return CleanCell(raw), nil
	}
}
