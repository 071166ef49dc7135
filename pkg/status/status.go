// Package status serves a read-only view of the stream server for dashboards.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/e-zhydzetski/telemetry-stream/pkg/xhttp"
)

// Sessions is implemented by xwebsocket.Server.
type Sessions interface {
	Active() int
	Total() uint64
}

type SessionsResponse struct {
	Active int    `json:"active"`
	Total  uint64 `json:"total"`
}

func NewHandler(sessions Sessions, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(xhttp.AllowAllCORS(http.MethodGet))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, log, map[string]string{"status": "ok"})
	})
	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, log, SessionsResponse{
			Active: sessions.Active(),
			Total:  sessions.Total(),
		})
	})
	return r
}

func respond(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write status response", "err", err)
	}
}
