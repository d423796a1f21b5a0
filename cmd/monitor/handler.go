package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/poller"
	"github.com/sellerwatch/sellerwatch/internal/store"
	"github.com/sellerwatch/sellerwatch/internal/stream"
)

// createHandler creates the HTTP handler for health checks, debug
// endpoints and the live event stream.
func createHandler(st store.Store, p *poller.Poller, hub *stream.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check store
		stats, err := st.Stats(ctx, "")
		if err != nil {
			health.Status = "unhealthy"
			health.Components["store"] = map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			}
		} else {
			health.Components["store"] = map[string]any{
				"active_products":    stats.ActiveProducts,
				"undelivered_events": stats.UndeliveredEvents,
			}
		}

		summary := p.LastSummary()
		health.Components["poller"] = map[string]any{
			"last_cycle_started": summary.StartedAt,
			"observed":           summary.Observed,
			"errors":             summary.Errors,
		}
		if quarantined := p.Quarantined(); len(quarantined) > 0 {
			health.Status = "degraded"
			health.Components["quarantined"] = quarantined
		}
		health.Components["stream_clients"] = hub.ClientCount()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/cycle", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.LastSummary())
	})

	mux.HandleFunc("/debug/quarantine", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(p.Quarantined())

		case http.MethodDelete:
			seller := r.URL.Query().Get("seller")
			if seller == "" {
				http.Error(w, "missing seller parameter", http.StatusBadRequest)
				return
			}
			if !p.ClearQuarantine(seller) {
				http.Error(w, "seller not quarantined", http.StatusNotFound)
				return
			}
			logger.Info("quarantine cleared via debug endpoint", "seller", seller)
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.Handle("/events", hub)

	return mux
}
