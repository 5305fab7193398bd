package health

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler serves the aggregated verdict as JSON. DOWN maps to 503, every
// other status to 200.
func (a *Aggregator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		verdict := a.Check(r.Context())

		status := http.StatusOK
		if verdict.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(verdict); err != nil {
			log.Error().Err(err).Msg("Failed to encode health verdict")
		}
	}
}

// LiveHandler reports liveness of the process only
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	}
}
