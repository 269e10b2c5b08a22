package interact

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBody bounds command request bodies.
const maxBody = 64 << 10

// Pinger reports whether storage is usable.
type Pinger interface {
	Ping() error
}

type confirmRequest struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// NewHandler returns the HTTP surface: the command and confirm
// endpoints, health probes and Prometheus metrics from gatherer.
func NewHandler(rt *Router, ready Pinger, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if err := ready.Ping(); err != nil {
			slog.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/commands", func(r chi.Router) {
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			var cmd Command
			if !decode(w, req, &cmd) {
				return
			}
			if strings.TrimSpace(cmd.Name) == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "command is required"})
				return
			}
			writeJSON(w, http.StatusOK, rt.Handle(req.Context(), cmd))
		})
		r.Post("/confirm", func(w http.ResponseWriter, req *http.Request) {
			var body confirmRequest
			if !decode(w, req, &body) {
				return
			}
			if body.Token == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
				return
			}
			writeJSON(w, http.StatusOK, rt.Confirm(req.Context(), body.Token, body.UserID))
		})
	})
	return r
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

// requestLogger logs requests through slog, skipping probes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
