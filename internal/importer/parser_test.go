package importer

import (
	"strings"
	"testing"

	"github.com/caseflowhq/caseflow/internal/schema"
)

func csvFile(name string, lines ...string) UploadedFile {
	return UploadedFile{Name: name, Data: []byte(strings.Join(lines, "\n"))}
}

func TestParseFiles_DetectsByFilename(t *testing.T) {
	tables, fileErrs := ParseFiles([]UploadedFile{
		csvFile("cases_export.csv",
			"case_number,title,status,case_type",
			"C-1,Missing person,Open,investigation",
		),
	})
	if len(fileErrs) != 0 {
		t.Fatalf("file errors: %v", fileErrs)
	}
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	if tables[0].EntityType != schema.EntityCases {
		t.Errorf("entity type = %s, want %s", tables[0].EntityType, schema.EntityCases)
	}
	if tables[0].RowCount != 1 {
		t.Errorf("row count = %d, want 1", tables[0].RowCount)
	}
}

func TestParseFiles_DetectsByHeaderShape(t *testing.T) {
	// Filename gives no hint; the header columns identify contacts.
	tables, fileErrs := ParseFiles([]UploadedFile{
		csvFile("export_2024.csv",
			"contact_id,name,contact_type,email,phone,company",
			"P-1,Dana Smith,Client,dana@example.com,555-123-4567,Acme",
		),
	})
	if len(fileErrs) != 0 {
		t.Fatalf("file errors: %v", fileErrs)
	}
	if len(tables) != 1 || tables[0].EntityType != schema.EntityContacts {
		t.Fatalf("want one contacts table, got %+v", tables)
	}
}

func TestParseFiles_TypeHintPinsEntity(t *testing.T) {
	f := csvFile("whatever.csv",
		"case_number,title,status,case_type",
		"C-1,Test,open,investigation",
	)
	f.TypeHint = schema.EntityCases

	tables, fileErrs := ParseFiles([]UploadedFile{f})
	if len(fileErrs) != 0 || len(tables) != 1 {
		t.Fatalf("tables=%d errs=%v", len(tables), fileErrs)
	}
	if tables[0].EntityType != schema.EntityCases {
		t.Errorf("entity type = %s", tables[0].EntityType)
	}
}

func TestParseFiles_TypeHintMismatchRejectsFile(t *testing.T) {
	f := csvFile("contacts.csv",
		"contact_id,name,contact_type,email,phone,company",
		"P-1,Dana,client,,,",
	)
	f.TypeHint = schema.EntityCases

	tables, fileErrs := ParseFiles([]UploadedFile{f})
	if len(tables) != 0 {
		t.Fatalf("expected rejection, got table %+v", tables[0])
	}
	if len(fileErrs) != 1 {
		t.Fatalf("file errors = %d, want 1", len(fileErrs))
	}
}

func TestParseFiles_UnrecognizedHeaderIsFileError(t *testing.T) {
	tables, fileErrs := ParseFiles([]UploadedFile{
		csvFile("mystery.csv",
			"alpha,beta,gamma",
			"1,2,3",
		),
	})
	if len(tables) != 0 {
		t.Fatalf("expected no tables, got %d", len(tables))
	}
	if len(fileErrs) != 1 {
		t.Fatalf("file errors = %d, want 1", len(fileErrs))
	}
	if fileErrs[0].FileName != "mystery.csv" {
		t.Errorf("file name = %q", fileErrs[0].FileName)
	}
}

func TestParseFiles_EmptyFileIsFileError(t *testing.T) {
	_, fileErrs := ParseFiles([]UploadedFile{
		{Name: "empty.csv", Data: []byte("")},
	})
	if len(fileErrs) != 1 {
		t.Fatalf("file errors = %d, want 1", len(fileErrs))
	}
}

func TestParseFiles_OneBadFileDoesNotSinkTheRest(t *testing.T) {
	tables, fileErrs := ParseFiles([]UploadedFile{
		csvFile("mystery.csv", "alpha,beta", "1,2"),
		csvFile("cases.csv", "case_number,title,status,case_type", "C-1,Test,open,"),
	})
	if len(fileErrs) != 1 {
		t.Fatalf("file errors = %d, want 1", len(fileErrs))
	}
	if len(tables) != 1 || tables[0].EntityType != schema.EntityCases {
		t.Fatalf("want one cases table, got %+v", tables)
	}
}

func TestParseFiles_SortedIntoImportOrder(t *testing.T) {
	tables, _ := ParseFiles([]UploadedFile{
		csvFile("finance.csv",
			"entry_id,case_number,entry_type,entry_date,amount",
			"F-1,C-1,expense,2024-01-05,10.00",
		),
		csvFile("subjects.csv",
			"subject_id,case_number,first_name,last_name",
			"S-1,C-1,Alex,Jones",
		),
		csvFile("cases.csv",
			"case_number,title,status,case_type",
			"C-1,Test,open,",
		),
	})
	if len(tables) != 3 {
		t.Fatalf("tables = %d, want 3", len(tables))
	}
	want := []schema.EntityType{schema.EntityCases, schema.EntitySubjects, schema.EntityFinanceEntries}
	for i, w := range want {
		if tables[i].EntityType != w {
			t.Errorf("tables[%d] = %s, want %s", i, tables[i].EntityType, w)
		}
	}
}

func TestParseFiles_UnknownColumnWarning(t *testing.T) {
	tables, _ := ParseFiles([]UploadedFile{
		csvFile("cases.csv",
			"case_number,title,status,case_type,legacy_flag",
			"C-1,Test,open,,x",
		),
	})
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}

	found := false
	for _, is := range tables[0].Issues {
		if is.Column == "legacy_flag" && is.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("missing unknown-column warning, issues: %+v", tables[0].Issues)
	}
}

func TestParseFiles_MissingRequiredValueIsRowError(t *testing.T) {
	tables, _ := ParseFiles([]UploadedFile{
		csvFile("cases.csv",
			"case_number,title,status,case_type",
			"C-1,Test,open,",
			"C-2,,open,",
		),
	})
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}

	errRows := tables[0].ErrorRows()
	if !errRows[2] {
		t.Errorf("row 2 should carry an error, issues: %+v", tables[0].Issues)
	}
	if errRows[1] {
		t.Errorf("row 1 should be clean")
	}
	// The file as a whole still parses.
	if tables[0].RowCount != 2 {
		t.Errorf("row count = %d, want 2", tables[0].RowCount)
	}
}

func TestParseFiles_DuplicateKeyWarning(t *testing.T) {
	tables, _ := ParseFiles([]UploadedFile{
		csvFile("cases.csv",
			"case_number,title,status,case_type",
			"C-1,First,open,",
			"C-1,Second,open,",
		),
	})
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}

	found := false
	for _, is := range tables[0].Issues {
		if is.Row == 2 && is.Severity == SeverityWarning && strings.Contains(is.Message, "duplicate key") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing duplicate-key warning, issues: %+v", tables[0].Issues)
	}
}

func TestParseFiles_SkipsBlankRows(t *testing.T) {
	tables, _ := ParseFiles([]UploadedFile{
		csvFile("cases.csv",
			"case_number,title,status,case_type",
			"C-1,Test,open,",
			",,,",
			"C-2,Other,closed,",
		),
	})
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	if tables[0].RowCount != 2 {
		t.Errorf("row count = %d, want 2", tables[0].RowCount)
	}
}

func TestParseFiles_FileSizeLimit(t *testing.T) {
	old := MaxFileSize
	MaxFileSize = 16
	defer func() { MaxFileSize = old }()

	_, fileErrs := ParseFiles([]UploadedFile{
		csvFile("cases.csv", "case_number,title,status,case_type", "C-1,Test,open,"),
	})
	if len(fileErrs) != 1 {
		t.Fatalf("file errors = %d, want 1", len(fileErrs))
	}
}

func TestSanitizeUTF8(t *testing.T) {
	raw := []byte{'o', 'k', 0xff, '!'}
	cleaned := sanitizeUTF8(raw)
	if !strings.Contains(string(cleaned), "ok") {
		t.Errorf("sanitized = %q", cleaned)
	}
	if strings.ContainsRune(string(cleaned), 0xff) {
		t.Errorf("invalid byte survived: %q", cleaned)
	}
}
