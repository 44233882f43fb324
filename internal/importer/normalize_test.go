package importer

import (
	"errors"
	"strings"
	"testing"

	"github.com/caseflowhq/caseflow/internal/schema"
)

func mustDef(t *testing.T, et schema.EntityType) schema.EntityDefinition {
	t.Helper()
	def, ok := schema.Get(et)
	if !ok {
		t.Fatalf("no definition for %q", et)
	}
	return def
}

func findLog(log []NormalizationLogEntry, field, rule string) *NormalizationLogEntry {
	for i := range log {
		if log[i].Field == field && log[i].Rule == rule {
			return &log[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// NormalizeRow
// ---------------------------------------------------------------------------

func TestNormalizeRow_CleanRow(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	row := RawRow{
		"case_number": "C-100",
		"title":       "Missing person",
		"status":      "open",
		"opened_date": "2024-03-15",
	}

	rec, log, err := NormalizeRow(def, em, row, 1)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.Key != "C-100" {
		t.Errorf("key = %q, want C-100", rec.Key)
	}
	if rec.Fields["status"] != "open" || rec.Fields["opened_date"] != "2024-03-15" {
		t.Errorf("fields = %v", rec.Fields)
	}
	if len(log) != 0 {
		t.Errorf("clean row produced %d log entries: %v", len(log), log)
	}
}

func TestNormalizeRow_DefaultFillsBlank(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	em.FieldFor("status").Default = "open"
	row := RawRow{"case_number": "C-1", "title": "T", "status": ""}

	rec, log, err := NormalizeRow(def, em, row, 3)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.Fields["status"] != "open" {
		t.Errorf("status = %q, want open", rec.Fields["status"])
	}
	entry := findLog(log, "status", "default")
	if entry == nil {
		t.Fatal("no default log entry")
	}
	if entry.Severity != SeverityInfo || entry.Row != 3 {
		t.Errorf("log entry = %+v", entry)
	}
}

func TestNormalizeRow_EnumTranslation(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("oldsystem").Entity(schema.EntityCases)
	em.FieldFor("status").Translations = map[string]string{"Active": "open"}
	row := RawRow{"case_number": "C-1", "title": "T", "status": "active"}

	rec, log, err := NormalizeRow(def, em, row, 1)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.Fields["status"] != "open" {
		t.Errorf("status = %q, want open", rec.Fields["status"])
	}
	entry := findLog(log, "status", "enum_translation")
	if entry == nil || entry.Severity != SeverityInfo {
		t.Errorf("enum_translation log entry = %+v", entry)
	}
}

func TestNormalizeRow_EnumCaseNormalized(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	row := RawRow{"case_number": "C-1", "title": "T", "status": "OPEN"}

	rec, log, err := NormalizeRow(def, em, row, 1)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.Fields["status"] != "open" {
		t.Errorf("status = %q, want open", rec.Fields["status"])
	}
	if findLog(log, "status", "enum_translation") == nil {
		t.Error("case normalization should be logged")
	}
}

func TestNormalizeRow_EnumFallsBackToDefault(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	em.FieldFor("status").Default = "open"
	row := RawRow{"case_number": "C-1", "title": "T", "status": "archived"}

	rec, log, err := NormalizeRow(def, em, row, 1)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.Fields["status"] != "open" {
		t.Errorf("status = %q, want open", rec.Fields["status"])
	}
	entry := findLog(log, "status", "enum_default")
	if entry == nil || entry.Severity != SeverityWarning {
		t.Errorf("enum_default log entry = %+v", entry)
	}
}

func TestNormalizeRow_UnknownEnumOnRequiredField(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	row := RawRow{"case_number": "C-1", "title": "T", "status": "archived"}

	_, _, err := NormalizeRow(def, em, row, 4)
	var rve *RowValidationError
	if !errors.As(err, &rve) {
		t.Fatalf("err = %v, want RowValidationError", err)
	}
	if rve.Field != "status" || rve.Row != 4 {
		t.Errorf("error = %+v", rve)
	}
}

func TestNormalizeRow_MissingRequiredValue(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	row := RawRow{"case_number": "C-1", "title": "", "status": "open"}

	_, _, err := NormalizeRow(def, em, row, 2)
	var rve *RowValidationError
	if !errors.As(err, &rve) {
		t.Fatalf("err = %v, want RowValidationError", err)
	}
	if rve.Field != "title" {
		t.Errorf("field = %q, want title", rve.Field)
	}
}

func TestNormalizeRow_DateCoercionLogged(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	row := RawRow{
		"case_number": "C-1",
		"title":       "T",
		"status":      "open",
		"opened_date": "03/15/2024",
	}

	rec, log, err := NormalizeRow(def, em, row, 1)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.Fields["opened_date"] != "2024-03-15" {
		t.Errorf("opened_date = %q, want 2024-03-15", rec.Fields["opened_date"])
	}
	entry := findLog(log, "opened_date", "date_format")
	if entry == nil || entry.Original != "03/15/2024" {
		t.Errorf("date_format log entry = %+v", entry)
	}
}

func TestNormalizeRow_BadDateIsNormalizationError(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	row := RawRow{
		"case_number": "C-1",
		"title":       "T",
		"status":      "open",
		"opened_date": "soonish",
	}

	_, log, err := NormalizeRow(def, em, row, 7)
	var nerr *NormalizationError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want NormalizationError", err)
	}
	if nerr.Field != "opened_date" {
		t.Errorf("field = %q, want opened_date", nerr.Field)
	}
	entry := findLog(log, "opened_date", "date_format")
	if entry == nil || entry.Severity != SeverityWarning {
		t.Errorf("failure log entry = %+v", entry)
	}
}

func TestNormalizeRow_SourceColumnOverride(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("oldsystem").Entity(schema.EntityCases)
	em.FieldFor("external_id").SourceColumn = "matter no"
	row := RawRow{"matter no": "M-9", "title": "T", "status": "open"}

	rec, _, err := NormalizeRow(def, em, row, 1)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.Key != "M-9" {
		t.Errorf("key = %q, want M-9", rec.Key)
	}
}

func TestNormalizeRow_ParentKey(t *testing.T) {
	def := mustDef(t, schema.EntitySubjects)
	em := DefaultMappingConfig("generic").Entity(schema.EntitySubjects)
	row := RawRow{
		"subject_id":  "S-1",
		"case_number": "C-1",
		"first_name":  "Ada",
	}

	rec, _, err := NormalizeRow(def, em, row, 1)
	if err != nil {
		t.Fatalf("NormalizeRow: %v", err)
	}
	if rec.ParentKey != "C-1" {
		t.Errorf("parent key = %q, want C-1", rec.ParentKey)
	}
}

// ---------------------------------------------------------------------------
// normalizeTable
// ---------------------------------------------------------------------------

func TestNormalizeTable_SplitsOutcomes(t *testing.T) {
	def := mustDef(t, schema.EntityCases)
	em := DefaultMappingConfig("generic").Entity(schema.EntityCases)
	table := casesTable("case_number,title,status,opened_date",
		RawRow{"case_number": "C-1", "title": "Good", "status": "open"},
		RawRow{"case_number": "C-2", "title": "", "status": "open"},
		RawRow{"case_number": "C-3", "title": "Bad date", "status": "open", "opened_date": "soonish"},
	)

	out := normalizeTable(def, em, table)
	if len(out.records) != 1 || out.records[0].Key != "C-1" {
		t.Errorf("records = %v, want just C-1", out.records)
	}
	if len(out.gaps) != 1 || out.gaps[0].Row != 2 {
		t.Errorf("gaps = %v, want one at row 2", out.gaps)
	}
	if len(out.skipped) != 1 || out.skipped[0].Row != 3 {
		t.Fatalf("skipped = %v, want one at row 3", out.skipped)
	}
	if !strings.HasPrefix(out.skipped[0].Message, "skipped:") {
		t.Errorf("skip message = %q", out.skipped[0].Message)
	}
}
