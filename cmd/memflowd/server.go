package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/engine"
	"github.com/BaSui01/memflow/engine/economics"
	"github.com/BaSui01/memflow/engine/feedback"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// Server is the daemon's JSON ingest API.
type Server struct {
	engine   *engine.Engine
	feedback *feedback.Adapter
	tracker  *economics.Tracker
	logger   *zap.Logger
}

// NewServer wires the API handlers.
func NewServer(eng *engine.Engine, adapter *feedback.Adapter, tracker *economics.Tracker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:   eng,
		feedback: adapter,
		tracker:  tracker,
		logger:   logger.With(zap.String("component", "http_api")),
	}
}

// Routes builds the route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleIngest)
	mux.HandleFunc("GET /v1/records/{id}", s.handleGetRecord)
	mux.HandleFunc("POST /v1/records/{id}/touch", s.handleTouch)
	mux.HandleFunc("POST /v1/records/{id}/resolve-shock", s.handleResolveShock)
	mux.HandleFunc("GET /v1/decisions/{id}", s.handleGetDecision)
	mux.HandleFunc("POST /v1/decisions/{id}/feedback", s.handleFeedback)
	mux.HandleFunc("GET /v1/economics/report", s.handleEconomicsReport)
	return mux
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var event types.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.engine.Process(r.Context(), &event)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetRecord(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Touch(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveShock(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResolveShock(r.Context(), r.PathValue("id")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	decision, err := s.engine.GetDecision(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb types.OutcomeFeedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if fb.Outcome == "" {
		s.writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	// Feedback applies asynchronously; a full queue degrades to a
	// synchronous apply so nothing is lost.
	if !s.feedback.Submit(r.PathValue("id"), fb) {
		if err := s.feedback.Apply(r.Context(), r.PathValue("id"), fb); err != nil {
			s.writeEngineError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEconomicsReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.tracker.Report(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var typed *types.Error
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &typed) && typed.Code == types.ErrInvalidEvent:
		s.writeError(w, http.StatusBadRequest, typed.Message)
	case errors.Is(err, store.ErrConflict):
		s.writeError(w, http.StatusConflict, "concurrent update conflict")
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
