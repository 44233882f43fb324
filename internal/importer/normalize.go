package importer

// normalize.go maps raw rows onto canonical records. NormalizeRow is a
// pure function and is invoked identically by the dry-run engine and the
// execution engine, so a dry-run is a faithful prediction of execution.
//
// Outcomes per row:
//   - Record + log entries           row is importable
//   - *RowValidationError            required value missing; blocks execution
//   - *NormalizationError            value would not coerce; row skipped
//
// Every transformation that changes a value appends a log entry for
// operator review.

import (
	"errors"
	"fmt"

	"github.com/caseflowhq/caseflow/internal/schema"
)

// Severity of a normalization log entry that records a routine,
// successful transformation.
const SeverityInfo IssueSeverity = "info"

// NormalizeRow converts one raw row to a canonical Record using the
// entity's mapping. rowNum is the 1-indexed data row, used only for log
// entries and error reporting.
func NormalizeRow(def schema.EntityDefinition, em *EntityMapping, row RawRow, rowNum int) (Record, []NormalizationLogEntry, error) {
	rec := Record{
		EntityType: def.Type,
		Row:        rowNum,
		Fields:     make(map[string]string, len(def.Fields)),
	}
	var log []NormalizationLogEntry

	appendLog := func(field, original, normalized, rule string, sev IssueSeverity) {
		log = append(log, NormalizationLogEntry{
			EntityType: def.Type,
			Row:        rowNum,
			Field:      field,
			Original:   original,
			Normalized: normalized,
			Rule:       rule,
			Severity:   sev,
		})
	}

	for _, spec := range def.Fields {
		fm := em.FieldFor(spec.Name)
		raw := row[em.SourceColumnFor(spec)]
		cleaned := CleanCell(raw)

		var value string
		switch {
		case cleaned == "":
			if fm != nil && fm.Default != "" {
				value = fm.Default
				appendLog(spec.Name, raw, value, "default", SeverityInfo)
			}

		case spec.Type == schema.FieldEnum:
			translated, rewrote, usedDefault := fm.Translate(spec, cleaned)
			value = translated
			if usedDefault {
				// Never silently drop the row: fall back and warn.
				appendLog(spec.Name, raw, value, "enum_default", SeverityWarning)
			} else if rewrote {
				appendLog(spec.Name, raw, value, "enum_translation", SeverityInfo)
			}

		default:
			coerced, err := coerceValue(spec.Type, cleaned)
			if err != nil {
				var nerr *NormalizationError
				if errors.As(err, &nerr) {
					nerr.Field = spec.Name
					appendLog(spec.Name, raw, "", coercionRule(spec.Type), SeverityWarning)
					return Record{}, log, nerr
				}
				return Record{}, log, err
			}
			value = coerced
			if value != cleaned {
				appendLog(spec.Name, raw, value, coercionRule(spec.Type), SeverityInfo)
			}
		}

		if value == "" && spec.Required {
			return Record{}, log, &RowValidationError{
				EntityType: def.Type,
				Row:        rowNum,
				Field:      spec.Name,
				Message:    "missing required value",
			}
		}
		if value != "" {
			rec.Fields[spec.Name] = value
		}
	}

	rec.Key = rec.Fields[def.NaturalKey]
	if def.ParentKeyField != "" {
		rec.ParentKey = rec.Fields[def.ParentKeyField]
	}
	return rec, log, nil
}

func coercionRule(ft schema.FieldType) string {
	switch ft {
	case schema.FieldDate:
		return "date_format"
	case schema.FieldNumeric:
		return "currency"
	case schema.FieldBool:
		return "boolean"
	case schema.FieldPhone:
		return "phone"
	default:
		return "clean"
	}
}

// normalizeTable runs NormalizeRow over a full table, splitting rows
// into importable records, required-field gaps, and skipped rows. Both
// engines consume tables through this single path.
type normalizedTable struct {
	records []Record
	gaps    []*RowValidationError
	skipped []RecordError
	log     []NormalizationLogEntry
}

func normalizeTable(def schema.EntityDefinition, em *EntityMapping, t ParsedTable) normalizedTable {
	var out normalizedTable

	for i, row := range t.Rows {
		rec, log, err := NormalizeRow(def, em, row, i+1)
		out.log = append(out.log, log...)
		if err != nil {
			var rve *RowValidationError
			var nerr *NormalizationError
			switch {
			case errors.As(err, &rve):
				out.gaps = append(out.gaps, rve)
			case errors.As(err, &nerr):
				out.skipped = append(out.skipped, RecordError{
					EntityType: def.Type,
					Row:        i + 1,
					Message:    fmt.Sprintf("skipped: %v", nerr),
				})
			default:
				out.skipped = append(out.skipped, RecordError{
					EntityType: def.Type,
					Row:        i + 1,
					Message:    err.Error(),
				})
			}
			continue
		}
		out.records = append(out.records, rec)
	}

	return out
}
