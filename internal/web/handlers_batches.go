package web

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/caseflowhq/caseflow/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// entityView describes one importable entity type for clients building
// upload and mapping screens.
type entityView struct {
	Type       schema.EntityType `json:"type"`
	Label      string            `json:"label"`
	Columns    []string          `json:"columns"`
	Required   []string          `json:"required"`
	ParentType schema.EntityType `json:"parentType,omitempty"`
}

// handleListEntities returns the entity catalog in import order.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	var views []entityView
	for _, def := range schema.All() {
		v := entityView{
			Type:       def.Type,
			Label:      def.Label,
			Columns:    def.Columns(),
			ParentType: def.ParentType,
		}
		for _, f := range def.RequiredFields() {
			v.Required = append(v.Required, f.Name)
		}
		views = append(views, v)
	}
	writeJSON(w, views)
}

// handleDownloadTemplate returns a CSV template with the canonical
// headers for an entity type.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	entityType := schema.EntityType(chi.URLParam(r, "entityType"))
	def, ok := schema.Get(entityType)
	if !ok {
		respondError(w, r, fmt.Errorf("entity type not found: %s", entityType), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.csv"`, def.Type))

	csvWriter := csv.NewWriter(w)
	csvWriter.Write(def.Columns())
	csvWriter.Flush()
}

// handleListBatches returns the org's import batch history, newest first.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgID(r.Context())

	batches, err := s.service.ListBatches(r.Context(), orgID)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, batches)
}

// handleGetBatch returns one import batch by ID. Requests for another
// org's batch 404 rather than leak its existence.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		badRequest(w, "invalid batch ID")
		return
	}

	batch, err := s.service.GetBatch(r.Context(), batchID)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	if batch.OrgID != middleware.OrgID(r.Context()) {
		respondError(w, r, fmt.Errorf("batch not found: %s", batchID), http.StatusNotFound)
		return
	}
	writeJSON(w, batch)
}
