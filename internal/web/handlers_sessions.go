package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/caseflowhq/caseflow/internal/importer"
	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/caseflowhq/caseflow/internal/web/middleware"
	"github.com/go-chi/chi/v5"
)

// sessionView is the JSON shape of a session returned to clients.
type sessionView struct {
	ID           string                          `json:"id"`
	Stage        importer.Stage                  `json:"stage"`
	SourceSystem string                          `json:"sourceSystem,omitempty"`
	Tables       []importer.ParsedTable          `json:"tables,omitempty"`
	FileErrors   []fileErrorView                 `json:"fileErrors,omitempty"`
	Mapping      *importer.MappingConfig         `json:"mapping,omitempty"`
	DryRun       *importer.DryRunResult          `json:"dryRun,omitempty"`
	DryRunFresh  bool                            `json:"dryRunFresh"`
	Result       *importer.ImportExecutionResult `json:"result,omitempty"`
	CreatedAt    time.Time                       `json:"createdAt"`
	UpdatedAt    time.Time                       `json:"updatedAt"`
}

type fileErrorView struct {
	FileName string `json:"fileName"`
	Message  string `json:"message"`
}

func toSessionView(s *importer.Session) sessionView {
	v := sessionView{
		ID:           s.ID,
		Stage:        s.Stage,
		SourceSystem: s.SourceSystem,
		Tables:       s.Tables,
		Mapping:      s.Mapping,
		DryRun:       s.DryRun,
		DryRunFresh:  s.DryRunFresh(),
		Result:       s.Result,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	for _, fe := range s.FileErrors {
		v.FileErrors = append(v.FileErrors, fileErrorView{FileName: fe.FileName, Message: fe.Message})
	}
	return v
}

// requireSessionOrg rejects requests whose session belongs to a
// different org than the caller. The response is the same 404 as for
// an unknown session, so IDs reveal nothing across tenants.
func (s *Server) requireSessionOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		sess, err := s.service.GetSession(sessionID)
		if err != nil {
			respondError(w, r, err, http.StatusNotFound)
			return
		}
		if sess.OrgID != middleware.OrgID(r.Context()) {
			respondError(w, r, fmt.Errorf("session not found: %s", sessionID), http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleCreateSession starts a new import session for the calling org.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())
	userID := middleware.UserID(r.Context())

	sess := s.service.CreateSession(orgID, userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, toSessionView(sess))
}

// handleGetSession returns the current session state.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, toSessionView(sess))
}

// handleSelectSource records the source system for the session.
func (s *Server) handleSelectSource(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceSystem string `json:"sourceSystem"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := s.service.SelectSource(sessionID, body.SourceSystem); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	sess, err := s.service.GetSession(sessionID)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, toSessionView(sess))
}

// handleUploadFiles accepts one or more CSV files as multipart form
// data under the "files" field. An optional "types" field carries a
// JSON object pinning file names to entity types, bypassing detection.
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize*int64(len(schema.ImportOrder)))

	if err := r.ParseMultipartForm(maxSize); err != nil {
		badRequest(w, "file too large or invalid form")
		return
	}

	var typeHints map[string]schema.EntityType
	if raw := r.FormValue("types"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &typeHints); err != nil {
			badRequest(w, "invalid types format")
			return
		}
	}

	form := r.MultipartForm
	if form == nil || len(form.File["files"]) == 0 {
		badRequest(w, "no files provided")
		return
	}

	var files []importer.UploadedFile
	for _, header := range form.File["files"] {
		f, err := header.Open()
		if err != nil {
			badRequest(w, fmt.Sprintf("cannot open %s", header.Filename))
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
		f.Close()
		if err != nil {
			respondError(w, r, err, http.StatusInternalServerError)
			return
		}
		if int64(len(data)) > maxSize {
			badRequest(w, fmt.Sprintf("%s exceeds the maximum file size", header.Filename))
			return
		}
		files = append(files, importer.UploadedFile{
			Name:     header.Filename,
			Data:     data,
			TypeHint: typeHints[header.Filename],
		})
	}

	tables, fileErrs, err := s.service.UploadFiles(sessionID, files)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	view := struct {
		Tables     []importer.ParsedTable `json:"tables"`
		FileErrors []fileErrorView        `json:"fileErrors,omitempty"`
	}{Tables: tables}
	for _, fe := range fileErrs {
		view.FileErrors = append(view.FileErrors, fileErrorView{FileName: fe.FileName, Message: fe.Message})
	}
	writeJSON(w, view)
}

// handleValidationReport returns the per-file parse report.
func (s *Server) handleValidationReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	view := struct {
		Tables     []importer.ParsedTable `json:"tables"`
		FileErrors []fileErrorView        `json:"fileErrors,omitempty"`
	}{Tables: sess.Tables}
	for _, fe := range sess.FileErrors {
		view.FileErrors = append(view.FileErrors, fileErrorView{FileName: fe.FileName, Message: fe.Message})
	}
	writeJSON(w, view)
}

// handleConfirmValidation acknowledges the validation report.
func (s *Server) handleConfirmValidation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.service.ConfirmValidation(sessionID); err != nil {
		respondError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"stage": string(importer.StageMapping)})
}

// handleGetMapping returns the session's current mapping configuration.
func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	if sess.Mapping == nil {
		badRequest(w, "no mapping yet: select a source system first")
		return
	}
	writeJSON(w, sess.Mapping)
}

// handleSetMapping replaces the session's mapping configuration.
func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		badRequest(w, "invalid request body")
		return
	}

	cfg, err := importer.MappingConfigFromJSON(body)
	if err != nil {
		badRequest(w, "invalid mapping format")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if err := s.service.SetMapping(sessionID, cfg); err != nil {
		respondError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, cfg)
}

// handleDryRun simulates the import and returns the full report.
func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Import.DryRunTimeout)
	defer cancel()

	result, err := s.service.RunDryRun(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

// handleConfirm moves a reviewed dry-run to the confirmation stage.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Confirm(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, r, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"stage": string(importer.StageConfirmation)})
}

// handleExecute starts the import in the background.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.service.StartExecution(sessionID); err != nil {
		respondError(w, r, err, http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{
		"sessionId": sessionID,
		"stage":     string(importer.StageProcessing),
	})
}

// handleProgress streams execution progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	var lastEventID int
	if lastEventIDStr != "" {
		lastEventID, _ = strconv.Atoi(lastEventIDStr)
	}

	progressCh, err := s.service.SubscribeProgress(sessionID)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	for {
		select {
		case update, ok := <-progressCh:
			if !ok {
				// Channel closed: execution finished
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			// The sequence number is the event ID, giving clients a
			// resume point after reconnection. It keeps increasing
			// across entity-type boundaries.
			if lastEventIDStr != "" && update.Seq <= lastEventID {
				continue
			}

			data, _ := json.Marshal(update)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", update.Seq, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleResult returns the final execution result, blocking until the
// import completes.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExecutionResult(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, result)
}

// handleCancel cancels an in-progress execution.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelExecution(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"cancelling"}`))
}
