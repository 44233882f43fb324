package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caseflowhq/caseflow/internal/config"
	"github.com/caseflowhq/caseflow/internal/importer"
	"github.com/caseflowhq/caseflow/internal/storage"
)

func testServer() *Server {
	cfg := &config.Config{}
	cfg.Import.MaxFileSize = 1 << 20
	cfg.Import.DryRunTimeout = 30 * time.Second

	service := importer.NewService(storage.NewMemoryStore())
	return NewServer(service, cfg)
}

func doJSON(t *testing.T, srv *Server, org uuid.UUID, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-Org-ID", org.String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	srv := testServer()

	req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/entities", nil)
	req.Header.Set("X-Org-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad header: status = %d, want 400", rec.Code)
	}
}

func TestListEntities(t *testing.T) {
	srv := testServer()
	rec := doJSON(t, srv, uuid.New(), http.MethodGet, "/api/entities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var views []entityView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 5 {
		t.Errorf("entities = %d, want 5", len(views))
	}
	if views[0].Type != "cases" {
		t.Errorf("first entity = %q, want cases (import order)", views[0].Type)
	}
}

func TestDownloadTemplate(t *testing.T) {
	srv := testServer()
	rec := doJSON(t, srv, uuid.New(), http.MethodGet, "/api/template/cases", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("case_number,")) {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = doJSON(t, srv, uuid.New(), http.MethodGet, "/api/template/widgets", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown entity: status = %d, want 404", rec.Code)
	}
}

func TestSessionWizardOverHTTP(t *testing.T) {
	srv := testServer()
	org := uuid.New()

	// Create session
	rec := doJSON(t, srv, org, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		ID    string         `json:"id"`
		Stage importer.Stage `json:"stage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Stage != importer.StageType {
		t.Fatalf("stage = %q, want type", sess.Stage)
	}
	base := "/api/sessions/" + sess.ID

	// Skipping source selection must be rejected as a stage conflict.
	rec = doJSON(t, srv, org, http.MethodPost, base+"/validation/confirm", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("out-of-order step: status = %d, want 409", rec.Code)
	}

	// Select source
	rec = doJSON(t, srv, org, http.MethodPost, base+"/source", []byte(`{"sourceSystem":"generic"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("source: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Upload a file
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "cases.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fmt.Fprint(fw, "case_number,title,status,case_type\nC-1,First,open,\n")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, base+"/files", &buf)
	req.Header.Set("X-Org-ID", org.String())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	upRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(upRec, req)
	if upRec.Code != http.StatusOK {
		t.Fatalf("upload: status = %d, body %s", upRec.Code, upRec.Body.String())
	}

	// Confirm validation, dry-run, confirm, execute, result.
	steps := []struct {
		path string
		want int
	}{
		{"/validation/confirm", http.StatusOK},
		{"/dry-run", http.StatusOK},
		{"/confirm", http.StatusOK},
		{"/execute", http.StatusAccepted},
	}
	for _, step := range steps {
		rec = doJSON(t, srv, org, http.MethodPost, base+step.path, nil)
		if rec.Code != step.want {
			t.Fatalf("%s: status = %d, want %d, body %s", step.path, rec.Code, step.want, rec.Body.String())
		}
	}

	rec = doJSON(t, srv, org, http.MethodGet, base+"/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result importer.ImportExecutionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Success || result.SuccessfulRecords != 1 {
		t.Errorf("result = %+v", result)
	}

	// Batch history shows the completed run.
	rec = doJSON(t, srv, org, http.MethodGet, "/api/batches", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("batches: status = %d", rec.Code)
	}
	var batches []storage.ImportBatch
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatalf("decode batches: %v", err)
	}
	if len(batches) != 1 || batches[0].Status != storage.BatchCompleted {
		t.Errorf("batches = %+v", batches)
	}

	// Another org cannot read the batch.
	rec = doJSON(t, srv, uuid.New(), http.MethodGet, "/api/batches/"+batches[0].ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-org batch read: status = %d, want 404", rec.Code)
	}
}

func TestCrossOrgSessionIs404(t *testing.T) {
	srv := testServer()
	owner := uuid.New()

	rec := doJSON(t, srv, owner, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	var sess struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	base := "/api/sessions/" + sess.ID
	other := uuid.New()

	// Another org cannot read or drive the session; the response is
	// indistinguishable from an unknown session.
	rec = doJSON(t, srv, other, http.MethodGet, base, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-org read: status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, srv, other, http.MethodPost, base+"/source", []byte(`{"sourceSystem":"generic"}`))
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-org mutation: status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, srv, other, http.MethodPost, base+"/execute", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cross-org execute: status = %d, want 404", rec.Code)
	}

	// The owner still sees an untouched session.
	rec = doJSON(t, srv, owner, http.MethodGet, base, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner read: status = %d", rec.Code)
	}
	var view struct {
		Stage        importer.Stage `json:"stage"`
		SourceSystem string         `json:"sourceSystem"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if view.Stage != importer.StageType || view.SourceSystem != "" {
		t.Errorf("session mutated across orgs: %+v", view)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv := testServer()
	rec := doJSON(t, srv, uuid.New(), http.MethodGet, "/api/sessions/"+uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
