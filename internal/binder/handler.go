package binder

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// maxSendBody is the SQS message size limit
const maxSendBody = 256 * 1024

// Handler exposes the bound producers and pools over HTTP
type Handler struct {
	binder *Binder
}

// NewHandler creates a handler for b
func NewHandler(b *Binder) *Handler {
	return &Handler{binder: b}
}

// RegisterRoutes mounts the binding routes on r
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/bindings", func(r chi.Router) {
		r.Get("/", h.listPools)
		r.Post("/{name}/messages", h.send)
	})
}

type poolView struct {
	Name           string   `json:"name"`
	Queues         []string `json:"queues"`
	Concurrency    int      `json:"concurrency"`
	RunningWorkers int      `json:"runningWorkers"`
}

func (h *Handler) listPools(w http.ResponseWriter, r *http.Request) {
	pools := h.binder.Pools()
	out := make([]poolView, 0, len(pools))
	for _, p := range pools {
		out = append(out, poolView{
			Name:           p.Name(),
			Queues:         p.Queues(),
			Concurrency:    p.Concurrency(),
			RunningWorkers: p.RunningWorkers(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// send publishes the request body through a producer binding. Query
// parameters are treated as message headers, so sqs_groupId,
// sqs_deduplicationId and sqs_delay control FIFO fields and delay.
func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	producer, ok := h.binder.Producer(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "producer binding not found"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSendBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(body) > maxSendBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "message exceeds 256 KiB"})
		return
	}

	headers := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	msg, err := OutboundFromHeaders(body, headers)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	id, err := producer.Send(r.Context(), msg)
	if err != nil {
		log.Error().Err(err).Str("binding", name).Msg("Failed to send message")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "send failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"messageId": id})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
