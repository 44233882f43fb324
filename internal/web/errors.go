package web

// errors.go provides unified error response handling for the API.
//
// Every error is logged with full detail server-side, then returned to
// the client as JSON with a stable machine-readable code. Session
// transition errors map to 409 because the request was well-formed but
// arrived in the wrong wizard stage.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/caseflowhq/caseflow/internal/importer"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs the technical error and writes a JSON error
// response with a status and code derived from the error's type.
func respondError(w http.ResponseWriter, r *http.Request, err error, fallbackStatus int) {
	status, code := classifyError(err, fallbackStatus)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func classifyError(err error, fallbackStatus int) (int, string) {
	var transition *importer.TransitionError
	var mapping *importer.MappingIncompleteError
	var file *importer.FileError

	switch {
	case errors.As(err, &transition):
		return http.StatusConflict, "SESSION_WRONG_STAGE"
	case errors.As(err, &mapping):
		return http.StatusUnprocessableEntity, "MAPPING_INCOMPLETE"
	case errors.As(err, &file):
		return http.StatusBadRequest, "FILE_REJECTED"
	case strings.Contains(err.Error(), "not found"):
		return http.StatusNotFound, "NOT_FOUND"
	default:
		return fallbackStatus, "INTERNAL"
	}
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// badRequest writes a 400 with a literal message.
func badRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: "BAD_REQUEST"})
}
