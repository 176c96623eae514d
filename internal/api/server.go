package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aquaflow/internal/alerting"
	"aquaflow/internal/middleware"
	"aquaflow/internal/models"
	"aquaflow/internal/store"
)

// Server is the thin operator surface over the pipeline: rule CRUD,
// manual alert actions, and read-only views. The pipeline itself never
// depends on it.
type Server struct {
	store  store.Store
	alerts *alerting.Manager
}

// NewServer creates the API server.
func NewServer(st store.Store, alerts *alerting.Manager) *Server {
	return &Server{store: st, alerts: alerts}
}

// Router builds the HTTP routes with logging and panic recovery.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiR := r.PathPrefix("/api").Subrouter()
	apiR.HandleFunc("/sensors", s.handleListSensors).Methods(http.MethodGet)
	apiR.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	apiR.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert).Methods(http.MethodPost)
	apiR.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	apiR.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	apiR.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	apiR.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	apiR.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)

	return middleware.Chain(r, middleware.Recovery, middleware.Logging)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sensors, err := s.store.ListSensors(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	active := 0
	for _, sensor := range sensors {
		if sensor.Active {
			active++
		}
	}
	open, err := s.store.ListOpenAlerts(ctx, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rules, err := s.store.ListRules(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"sensors":        len(sensors),
		"active_sensors": active,
		"open_alerts":    len(open),
		"rules":          len(rules),
	})
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.store.ListSensors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	sensorID := r.URL.Query().Get("sensorId")
	var (
		alerts []*models.Alert
		err    error
	)
	if r.URL.Query().Get("open") == "true" {
		alerts, err = s.store.ListOpenAlerts(r.Context(), sensorID)
	} else {
		alerts, err = s.store.ListAlerts(r.Context(), sensorID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Acknowledge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Resolve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AutomationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	rule.ID = uuid.New().String()
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt
	rule.LastTriggeredAt = nil

	// Malformed rules are rejected here and never reach evaluation.
	if err := rule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateRule(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, &rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	existing, err := s.store.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	updated := *existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.LastTriggeredAt = existing.LastTriggeredAt
	updated.UpdatedAt = time.Now().UTC()

	if err := updated.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateRule(r.Context(), &updated); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
