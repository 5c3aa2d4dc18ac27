package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gyaneshwarpardhi/syncagent/internal/compute"
	"github.com/gyaneshwarpardhi/syncagent/internal/config"
	"github.com/gyaneshwarpardhi/syncagent/internal/engine"
	"github.com/gyaneshwarpardhi/syncagent/internal/metrics"
	"github.com/gyaneshwarpardhi/syncagent/internal/state"
	"github.com/gyaneshwarpardhi/syncagent/internal/syncagent"
)

const (
	maxBodyBytes   = 64 << 10
	readyThreshold = 0.8
)

// Host is the part of the actor engine the probes look at.
type Host interface {
	ActiveCount() int
	MailboxUtilization() float64
	Closed() bool
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	clients syncagent.API
	host    Host
	loader  *config.Loader
	mux     *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// in which case the reload route reports 404.
func New(clients syncagent.API, host Host, loader *config.Loader) http.Handler {
	h := &Handler{clients: clients, host: host, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/actors/{id}/initialize", h.initialize)
	h.mux.HandleFunc("GET /v1/actors/{id}", h.describe)
	h.mux.HandleFunc("GET /v1/actors/{id}/account", h.account)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return otelhttp.NewHandler(loggingMiddleware(h.mux), "syncagent")
}

type initializeRequest struct {
	TargetRegion string `json:"target_region"`
	UserName     string `json:"user_name"`
	Password     string `json:"password"`
}

type initializeResponse struct {
	ActorID        string `json:"actor_id"`
	OrganizationID string `json:"organization_id"`
}

// POST /v1/actors/{id}/initialize — resolve and persist the organisation.
func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	key, ok := actorKey(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}

	orgID, err := h.clients.Initialize(r.Context(), key, req.TargetRegion, req.UserName, req.Password)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, initializeResponse{ActorID: key, OrganizationID: orgID.String()})
}

// GET /v1/actors/{id} — current state without credentials.
func (h *Handler) describe(w http.ResponseWriter, r *http.Request) {
	key, ok := actorKey(w, r)
	if !ok {
		return
	}
	d, err := h.clients.Describe(r.Context(), key)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GET /v1/actors/{id}/account — account details from the compute API.
func (h *Handler) account(w http.ResponseWriter, r *http.Request) {
	key, ok := actorKey(w, r)
	if !ok {
		return
	}
	acct, err := h.clients.Account(r.Context(), key)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// POST /v1/config/reload — re-read the config file from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "config reload is not available")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"version":  cfg.Version,
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 while shutting down or if mailboxes are >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.host.MailboxUtilization()
	metrics.MailboxUtilization.Set(util)
	body := map[string]interface{}{
		"active_actors":       h.host.ActiveCount(),
		"mailbox_utilization": util,
	}
	switch {
	case h.host.Closed():
		body["status"] = "shutting_down"
		writeJSON(w, http.StatusServiceUnavailable, body)
	case util > readyThreshold:
		body["status"] = "overloaded"
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		body["status"] = "ready"
		writeJSON(w, http.StatusOK, body)
	}
}

func actorKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.PathValue("id")
	if strings.TrimSpace(key) == "" {
		writeError(w, http.StatusBadRequest, "actor id is required")
		return "", false
	}
	return key, true
}

// classify maps domain errors onto an HTTP status and an error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, syncagent.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, syncagent.ErrNotInitialized):
		return http.StatusConflict, "not_initialized"
	case errors.Is(err, compute.ErrAuth):
		return http.StatusUnauthorized, "auth"
	case errors.Is(err, compute.ErrTransport):
		return http.StatusBadGateway, "transport"
	case errors.Is(err, compute.ErrMalformedResponse):
		return http.StatusBadGateway, "malformed_response"
	case errors.Is(err, engine.ErrMailboxFull):
		return http.StatusTooManyRequests, "mailbox_full"
	case errors.Is(err, engine.ErrCallTimeout):
		return http.StatusGatewayTimeout, "call_timeout"
	case errors.Is(err, engine.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, state.ErrPersistence):
		return http.StatusInternalServerError, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
