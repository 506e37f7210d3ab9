package supervisor

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fleetops/autopilot/internal/apperrors"
	"github.com/fleetops/autopilot/pkg/domain"
)

// Router builds the Supervisor's HTTP surface (spec §6).
func (s *Supervisor) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))

	r.Post("/health/scan", s.handleScan)
	r.Get("/incidents", s.handleListIncidents)
	r.Get("/incidents/{id}", s.handleGetIncident)
	r.Get("/services/status", s.handleServicesStatus)
	r.Post("/explain/{id}", s.handleExplain)
	r.Get("/health", s.handleHealth)

	return r
}

func (s *Supervisor) handleScan(w http.ResponseWriter, r *http.Request) {
	report := s.ScanAll(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func (s *Supervisor) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var status *domain.IncidentStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := domain.IncidentStatus(raw)
		status = &s
	}

	incidents, err := s.store.List(r.Context(), limit, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Supervisor) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	incident, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (s *Supervisor) handleServicesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.LastServicesStatus())
}

func (s *Supervisor) handleExplain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	incident, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	summary := "no anomaly recorded for this incident"
	if incident.Recommendation != nil {
		summary = incident.AnomalySummary + " — recommended " + string(incident.Recommendation.Action) +
			": " + incident.Recommendation.Reasoning
	}
	writeJSON(w, http.StatusOK, map[string]string{"incident_id": id, "explanation": summary})
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"scanner":   "ok",
		"reasoner":  "ok",
		"store":     "ok",
		"dispatcher": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperrors.GetStatusCode(err)
	writeJSON(w, status, map[string]string{"error": apperrors.SafeErrorMessage(err)})
}
