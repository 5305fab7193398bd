package warning

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handler exposes the warning service over HTTP
type Handler struct {
	service Service
}

// NewHandler creates a new warning handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the warning routes on r
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/warnings", func(r chi.Router) {
		r.Get("/", h.list)
		r.Delete("/", h.clear)
		r.Post("/{id}/acknowledge", h.acknowledge)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var result []*Warning
	switch {
	case r.URL.Query().Get("severity") != "":
		result = h.service.GetWarningsBySeverity(r.URL.Query().Get("severity"))
	case r.URL.Query().Get("unacknowledged") == "true":
		result = h.service.GetUnacknowledgedWarnings()
	default:
		result = h.service.GetAllWarnings()
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	if !h.service.AcknowledgeWarning(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "warning not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	h.service.ClearAllWarnings()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
