package pipeline

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/bastion/internal/alert"
	"github.com/wudi/bastion/internal/logging"
	"github.com/wudi/bastion/internal/metrics"
)

// AdminAPI serves the operational endpoints on the admin listener:
// identity block/whitelist management, statistics, health and
// Prometheus metrics. It is never exposed on the protected listener.
type AdminAPI struct {
	pipeline   *Pipeline
	collector  *metrics.Collector
	dispatcher *alert.Dispatcher // nil when webhooks are disabled
	started    time.Time
}

// NewAdminAPI creates the admin surface. collector and dispatcher may
// be nil.
func NewAdminAPI(p *Pipeline, collector *metrics.Collector, dispatcher *alert.Dispatcher) *AdminAPI {
	return &AdminAPI{
		pipeline:   p,
		collector:  collector,
		dispatcher: dispatcher,
		started:    time.Now(),
	}
}

// Handler returns the admin mux.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/block", a.handleBlock)
	mux.HandleFunc("/admin/whitelist", a.handleWhitelist)
	mux.HandleFunc("/admin/blocked", a.handleBlocked)
	mux.HandleFunc("/admin/stats", a.handleStats)
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/metrics", a.handleMetrics)
	return mux
}

type identityRequest struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason,omitempty"`
}

func (a *AdminAPI) handleBlock(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeIdentity(w, r)
	if !ok {
		return
	}
	tracker := a.pipeline.Reputation()
	if tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation tracking disabled")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual block"
	}
	tracker.Block(req.Identity, reason)
	logging.Info("identity blocked via admin API",
		zap.String("identity", req.Identity),
		zap.String("reason", reason),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "identity": req.Identity})
}

func (a *AdminAPI) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		req, ok := a.decodeIdentity(w, r)
		if !ok {
			return
		}
		tracker := a.pipeline.Reputation()
		if tracker == nil {
			writeError(w, http.StatusServiceUnavailable, "reputation tracking disabled")
			return
		}
		tracker.Unwhitelist(req.Identity)
		writeJSON(w, http.StatusOK, map[string]string{"status": "unwhitelisted", "identity": req.Identity})
		return
	}

	req, ok := a.decodeIdentity(w, r)
	if !ok {
		return
	}
	tracker := a.pipeline.Reputation()
	if tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation tracking disabled")
		return
	}
	tracker.Whitelist(req.Identity)
	logging.Info("identity whitelisted via admin API",
		zap.String("identity", req.Identity),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "whitelisted", "identity": req.Identity})
}

func (a *AdminAPI) handleBlocked(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tracker := a.pipeline.Reputation()
	if tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "reputation tracking disabled")
		return
	}
	writeJSON(w, http.StatusOK, tracker.BlockedIdentities())
}

func (a *AdminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := map[string]any{
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
		"pipeline":       a.pipeline.Stats(),
	}
	if a.dispatcher != nil {
		resp["webhooks"] = a.dispatcher.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.pipeline.HealthCheck())
}

func (a *AdminAPI) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if a.collector == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	a.collector.WritePrometheus(w)
}

func (a *AdminAPI) decodeIdentity(w http.ResponseWriter, r *http.Request) (identityRequest, bool) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return identityRequest{}, false
	}
	var req identityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return identityRequest{}, false
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return identityRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
