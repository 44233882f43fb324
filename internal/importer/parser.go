package importer

// parser.go turns raw uploaded files into typed ParsedTables.
//
// Entity type detection tries the filename first (each entity declares
// hint substrings), then falls back to header shape: the entity whose
// documented columns best overlap the file's header wins. A file whose
// header matches no entity is rejected with a file-level error; a row
// with a missing required value is recorded as a row-level error and the
// rest of the file survives.
//
// Parsing never mutates external state and is deterministic for
// identical input bytes.

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/caseflowhq/caseflow/internal/schema"
)

// MaxFileSize is the maximum allowed CSV file size (50MB).
var MaxFileSize int64 = 50 * 1024 * 1024

// UploadedFile is one raw file handed to the parser.
type UploadedFile struct {
	Name string
	Data []byte

	// TypeHint, when set, pins the expected entity type instead of
	// detecting it.
	TypeHint schema.EntityType
}

// ParseFiles parses every uploaded file and returns the resulting tables
// sorted into canonical import order. Files that are rejected outright
// are returned as FileErrors; they produce no table.
func ParseFiles(files []UploadedFile) ([]ParsedTable, []*FileError) {
	var tables []ParsedTable
	var fileErrs []*FileError

	for _, f := range files {
		table, ferr := parseFile(f)
		if ferr != nil {
			fileErrs = append(fileErrs, ferr)
			continue
		}
		tables = append(tables, table)
	}

	sort.SliceStable(tables, func(i, j int) bool {
		oi, oj := schema.OrderIndex(tables[i].EntityType), schema.OrderIndex(tables[j].EntityType)
		if oi != oj {
			return oi < oj
		}
		return tables[i].FileName < tables[j].FileName
	})

	return tables, fileErrs
}

func parseFile(f UploadedFile) (ParsedTable, *FileError) {
	if int64(len(f.Data)) > MaxFileSize {
		return ParsedTable{}, &FileError{
			FileName: f.Name,
			Message:  fmt.Sprintf("file exceeds %dMB limit", MaxFileSize/(1024*1024)),
		}
	}

	records, err := readCSV(sanitizeUTF8(f.Data))
	if err != nil {
		return ParsedTable{}, &FileError{FileName: f.Name, Message: fmt.Sprintf("unreadable CSV: %v", err)}
	}
	if len(records) == 0 {
		return ParsedTable{}, &FileError{FileName: f.Name, Message: "empty file"}
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = normalizeHeader(h)
	}

	entityType, ok := detectEntityType(f, headers)
	if !ok {
		return ParsedTable{}, &FileError{FileName: f.Name, Message: "unrecognized header shape"}
	}
	def, _ := schema.Get(entityType)

	table := ParsedTable{
		EntityType: entityType,
		FileName:   f.Name,
		Headers:    headers,
	}

	known := make(map[string]bool)
	for _, c := range def.Columns() {
		known[strings.ToLower(c)] = true
	}
	for _, h := range headers {
		if h != "" && !known[h] {
			table.Issues = append(table.Issues, ParseIssue{
				Column:   h,
				Message:  "unknown column ignored",
				Severity: SeverityWarning,
			})
		}
	}

	seenKeys := make(map[string][]int)
	keyColumn := ""
	if spec, ok := def.Field(def.NaturalKey); ok {
		keyColumn = strings.ToLower(spec.Column)
	}

	rowNum := 0
	for _, rec := range records[1:] {
		if isEmptyRow(rec) {
			continue
		}
		rowNum++

		row := make(RawRow, len(headers))
		for i, h := range headers {
			if h == "" || i >= len(rec) {
				continue
			}
			row[h] = rec[i]
		}
		table.Rows = append(table.Rows, row)

		for _, spec := range def.RequiredFields() {
			col := strings.ToLower(spec.Column)
			if CleanCell(row[col]) == "" {
				table.Issues = append(table.Issues, ParseIssue{
					Row:      rowNum,
					Column:   col,
					Message:  fmt.Sprintf("missing required value for %q", spec.Name),
					Severity: SeverityError,
				})
			}
		}

		if keyColumn != "" {
			if key := CleanCell(row[keyColumn]); key != "" {
				seenKeys[key] = append(seenKeys[key], rowNum)
			}
		}
	}
	table.RowCount = rowNum

	// In-file duplicate keys: every occurrence after the first will be
	// skipped downstream, so warn about it up front.
	var dupKeys []string
	for key, rows := range seenKeys {
		if len(rows) > 1 {
			dupKeys = append(dupKeys, key)
		}
	}
	sort.Strings(dupKeys)
	for _, key := range dupKeys {
		rows := seenKeys[key]
		for _, r := range rows[1:] {
			table.Issues = append(table.Issues, ParseIssue{
				Row:      r,
				Column:   keyColumn,
				Message:  fmt.Sprintf("duplicate key %q (first seen at row %d)", key, rows[0]),
				Severity: SeverityWarning,
			})
		}
	}

	return table, nil
}

// detectEntityType resolves the entity type for a file: explicit hint,
// then filename hints, then best header-shape overlap.
func detectEntityType(f UploadedFile, headers []string) (schema.EntityType, bool) {
	if f.TypeHint != "" {
		def, ok := schema.Get(f.TypeHint)
		if !ok || !headersMatch(headers, def) {
			return "", false
		}
		return f.TypeHint, true
	}

	lowerName := strings.ToLower(f.Name)
	for _, def := range schema.All() {
		for _, hint := range def.FileHints {
			if strings.Contains(lowerName, hint) && headersMatch(headers, def) {
				return def.Type, true
			}
		}
	}

	best := schema.EntityType("")
	bestScore := 0
	for _, def := range schema.All() {
		score := headerOverlap(headers, def)
		if score > bestScore && headersMatch(headers, def) {
			best, bestScore = def.Type, score
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// headersMatch reports whether a header row is recognizably this
// entity's template: at least half of the documented columns present.
func headersMatch(headers []string, def schema.EntityDefinition) bool {
	cols := def.Columns()
	return headerOverlap(headers, def)*2 >= len(cols)
}

func headerOverlap(headers []string, def schema.EntityDefinition) int {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	n := 0
	for _, c := range def.Columns() {
		if present[strings.ToLower(c)] {
			n++
		}
	}
	return n
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func isEmptyRow(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid byte sequences with the replacement
// rune so the csv reader never chokes on exports from legacy systems.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}
	return buf.Bytes()
}
