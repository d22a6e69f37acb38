// Package api exposes the relay's HTTP surface: the WebSocket upgrade
// endpoint plus health, participant snapshot, and metrics endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"xrlink/internal/presence"
	"xrlink/internal/websocket"
)

// NewRouter builds the HTTP router.
func NewRouter(logger zerolog.Logger, wsHandler *websocket.Handler, registry *websocket.Registry, notifier *presence.Notifier) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	// Viewers load from arbitrary origins (LAN addresses, tunnel URLs).
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ws", wsHandler.HandleWebSocket)
	r.Get("/health", healthHandler(registry))
	r.Get("/devices", devicesHandler(notifier))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func healthHandler(registry *websocket.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "healthy",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"connections": registry.Stats(),
		})
	}
}

func devicesHandler(notifier *presence.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"devices": notifier.DeviceList(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs completed HTTP requests. The /ws endpoint only
// shows up here after the socket closes, so connection-level events are
// logged by the websocket handler instead.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
