package fixer

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fleetops/autopilot/pkg/domain"
	"github.com/fleetops/autopilot/pkg/logging"
)

// busPush is the push-subscription delivery shape (spec §6): an
// envelope's JSON is base64-encoded into `message.data`.
type busPush struct {
	Message struct {
		MessageID  string            `json:"messageId"`
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// Server exposes the Fixer's HTTP surface (spec §6).
type Server struct {
	processor *Processor
	log       *zap.Logger
}

// NewServer builds a Fixer HTTP server around processor.
func NewServer(processor *Processor, log *zap.Logger) *Server {
	return &Server{processor: processor, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/actions/execute", s.handleExecute)
	r.Post("/actions/execute/manual", s.handleExecuteManual)
	r.Get("/health", s.handleHealth)

	return r
}

// handleExecute always returns 200 to prevent redelivery storms;
// processing errors are logged and recorded on the incident rather than
// surfaced as an HTTP error (spec §6).
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var push busPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		s.log.Warn("malformed bus push body, acknowledging without processing",
			logging.NewFields().Component("fixer").Operation("http_execute").Error(err).ToLogrus())
		w.WriteHeader(http.StatusOK)
		return
	}

	data, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		s.log.Warn("malformed base64 envelope, acknowledging without processing",
			logging.NewFields().Component("fixer").Operation("http_execute").Error(err).ToLogrus())
		w.WriteHeader(http.StatusOK)
		return
	}

	var envelope domain.ActionEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.log.Warn("poison envelope, acknowledging without processing",
			logging.NewFields().Component("fixer").Operation("http_execute").Error(err).ToLogrus())
		w.WriteHeader(http.StatusOK)
		return
	}

	s.processor.Process(r.Context(), envelope)
	w.WriteHeader(http.StatusOK)
}

// handleExecuteManual accepts the same envelope shape, unwrapped, for
// operator testing (spec §6).
func (s *Server) handleExecuteManual(w http.ResponseWriter, r *http.Request) {
	var envelope domain.ActionEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "malformed action envelope"})
		return
	}

	s.processor.Process(r.Context(), envelope)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":   "ok",
		"executor": "ok",
		"store":    "ok",
	})
}
