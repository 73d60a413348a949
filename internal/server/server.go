// Package server exposes a parameter cache over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
	"github.com/agatticelli/ssm-parameter-cache/internal/platform/observability"
)

// Cache is what the handlers need from the parameter cache.
type Cache interface {
	parameter.Getter
	Stats() parameter.Stats
}

// Config wires the handler's dependencies.
type Config struct {
	Cache   Cache
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Ready reports whether the service should receive traffic. Nil means
	// always ready.
	Ready func() bool
}

// ParameterResponse is the body of a successful lookup.
type ParameterResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type handler struct {
	cache  Cache
	logger *observability.Logger
	ready  func() bool
}

// NewHandler returns the service's HTTP routes:
//
//	GET /parameters?name=/app/db/url[&force_refresh=true]
//	GET /parameters/{name...}[?force_refresh=true]
//	GET /stats, /health, /ready, /metrics
func NewHandler(cfg Config) http.Handler {
	h := &handler{
		cache:  cfg.Cache,
		logger: cfg.Logger,
		ready:  cfg.Ready,
	}
	if h.logger == nil {
		h.logger = observability.NewNopLogger()
	}
	h.logger = h.logger.Component("http")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /parameters", h.getParameter)
	mux.HandleFunc("GET /parameters/{name...}", h.getParameter)
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /ready", h.readiness)
	mux.Handle("GET /metrics", cfg.Metrics.Handler())
	return mux
}

func (h *handler) getParameter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		name = r.URL.Query().Get("name")
	}
	if name == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "parameter name is required"})
		return
	}

	force := false
	if raw := r.URL.Query().Get("force_refresh"); raw != "" {
		var err error
		if force, err = strconv.ParseBool(raw); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "force_refresh must be a boolean"})
			return
		}
	}

	value, err := h.cache.Get(r.Context(), name, force)
	if err != nil {
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.LogError(r.Context(), "parameter lookup failed", err, "parameter", name)
		}
		if errors.Is(err, parameter.ErrThrottled) {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: parameter.KindOf(err).String()})
		return
	}

	writeJSON(w, http.StatusOK, ParameterResponse{Name: name, Value: value})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatusFor maps a lookup error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, parameter.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, parameter.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, parameter.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
