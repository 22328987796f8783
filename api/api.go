// Package api exposes the HTTP surface of the SIEM: query endpoints for
// events, alerts and rules, alert lifecycle operations, rule toggling, and
// a WebSocket feed for live events and alerts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

const maxRequestBody = 1 << 20 // 1 MiB

// RuleToggler invalidates cached rule sets after an enable/disable change.
type RuleToggler interface {
	InvalidateRuleCache()
}

// API holds the HTTP server, its routes and their dependencies.
type API struct {
	router *mux.Router
	server *http.Server
	store  *storage.SQLiteStore
	engine RuleToggler
	hub    *Hub
	logger *zap.SugaredLogger
}

// NewAPI creates the API server. The hub may be nil when WebSocket
// broadcasting is disabled; engine may be nil in tools that only read.
func NewAPI(store *storage.SQLiteStore, engine RuleToggler, hub *Hub, logger *zap.SugaredLogger) *API {
	a := &API{
		router: mux.NewRouter(),
		store:  store,
		engine: engine,
		hub:    hub,
		logger: logger,
	}
	a.setupRoutes()
	return a
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/api/events", a.getEvents).Methods("GET")
	a.router.HandleFunc("/api/events/{id}", a.getEvent).Methods("GET")
	a.router.HandleFunc("/api/alerts", a.getAlerts).Methods("GET")
	a.router.HandleFunc("/api/alerts/{id}", a.getAlert).Methods("GET")
	a.router.HandleFunc("/api/alerts/{id}/status", a.updateAlertStatus).Methods("PUT")
	a.router.HandleFunc("/api/rules", a.getRules).Methods("GET")
	a.router.HandleFunc("/api/rules/{id}", a.getRule).Methods("GET")
	a.router.HandleFunc("/api/rules/{id}/enabled", a.setRuleEnabled).Methods("PUT")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
	if a.hub != nil {
		a.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			serveWs(a.hub, a.logger, w, r)
		})
	}
}

// Router returns the configured router, mainly for tests.
func (a *API) Router() http.Handler {
	return a.router
}

// Start begins serving on addr. Blocks until the server stops.
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.logger.Infow("API server listening", "addr", addr)
	return a.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

func queryInt(r *http.Request, key string, max int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= max {
			return parsed
		}
	}
	return 0
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (a *API) getEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.EventFilter{
		Source:    q.Get("source"),
		EventType: q.Get("event_type"),
		Severity:  q.Get("severity"),
		Hostname:  q.Get("hostname"),
		Limit:     queryInt(r, "limit", 1000),
		Offset:    queryInt(r, "offset", 1<<30),
	}
	var err error
	if filter.Since, err = queryTime(r, "since"); err != nil {
		http.Error(w, "Invalid since timestamp, expected RFC3339", http.StatusBadRequest)
		return
	}
	if filter.Until, err = queryTime(r, "until"); err != nil {
		http.Error(w, "Invalid until timestamp, expected RFC3339", http.StatusBadRequest)
		return
	}

	events, err := a.store.GetEvents(r.Context(), filter)
	if err != nil {
		a.logger.Errorw("Failed to query events", "error", err)
		http.Error(w, "Failed to get events", http.StatusInternalServerError)
		return
	}
	a.respondJSON(w, events, http.StatusOK)
}

func (a *API) getEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	event, err := a.store.GetEventByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Event not found", http.StatusNotFound)
		} else {
			a.logger.Errorw("Failed to get event", "event_id", id, "error", err)
			http.Error(w, "Failed to get event", http.StatusInternalServerError)
		}
		return
	}
	a.respondJSON(w, event, http.StatusOK)
}

func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AlertFilter{
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
		RuleID:   q.Get("rule_id"),
		Limit:    queryInt(r, "limit", 1000),
		Offset:   queryInt(r, "offset", 1<<30),
	}
	alerts, err := a.store.GetAlerts(r.Context(), filter)
	if err != nil {
		a.logger.Errorw("Failed to query alerts", "error", err)
		http.Error(w, "Failed to get alerts", http.StatusInternalServerError)
		return
	}
	a.respondJSON(w, alerts, http.StatusOK)
}

func (a *API) getAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	alert, err := a.store.GetAlertByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Alert not found", http.StatusNotFound)
		} else {
			a.logger.Errorw("Failed to get alert", "alert_id", id, "error", err)
			http.Error(w, "Failed to get alert", http.StatusInternalServerError)
		}
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

type alertStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (a *API) updateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req alertStatusRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	status := core.AlertStatus(req.Status)
	if !status.IsValid() {
		http.Error(w, fmt.Sprintf("Invalid status %q", req.Status), http.StatusBadRequest)
		return
	}

	alert, err := a.store.UpdateAlertStatus(r.Context(), id, status, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "Alert not found", http.StatusNotFound)
		case errors.Is(err, storage.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			a.logger.Errorw("Failed to update alert status", "alert_id", id, "error", err)
			http.Error(w, "Failed to update alert", http.StatusInternalServerError)
		}
		return
	}
	a.respondJSON(w, alert, http.StatusOK)
}

func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.store.GetRules(r.Context())
	if err != nil {
		a.logger.Errorw("Failed to query rules", "error", err)
		http.Error(w, "Failed to get rules", http.StatusInternalServerError)
		return
	}
	a.respondJSON(w, rules, http.StatusOK)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := a.store.GetRuleByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Rule not found", http.StatusNotFound)
		} else {
			a.logger.Errorw("Failed to get rule", "rule_id", id, "error", err)
			http.Error(w, "Failed to get rule", http.StatusInternalServerError)
		}
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

type ruleEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (a *API) setRuleEnabled(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ruleEnabledRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, "Request body must contain an enabled flag", http.StatusBadRequest)
		return
	}

	if err := a.store.SetRuleEnabled(r.Context(), id, *req.Enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Rule not found", http.StatusNotFound)
		} else {
			a.logger.Errorw("Failed to toggle rule", "rule_id", id, "error", err)
			http.Error(w, "Failed to update rule", http.StatusInternalServerError)
		}
		return
	}
	if a.engine != nil {
		a.engine.InvalidateRuleCache()
	}
	a.logger.Infow("Rule toggled", "rule_id", id, "enabled", *req.Enabled)
	a.respondJSON(w, map[string]interface{}{"id": id, "enabled": *req.Enabled}, http.StatusOK)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.store.HealthCheck(); err != nil {
		a.respondJSON(w, map[string]string{"status": "unhealthy", "error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	a.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
