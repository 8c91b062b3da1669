// Package api provides HTTP handlers for CoachPipe endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coachpipe/coachpipe/internal/models"
)

// responsesRequest is the body for POST /api/responses.
type responsesRequest struct {
	ThreadID  string                `json:"thread_id"`
	Responses []models.UserResponse `json:"responses"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	resp, err := s.worker.ProcessChatRequest(r.Context(), req)
	if err != nil {
		writeJSONResponse(w, statusFor(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.chatHandler: turn processed", "threadID", resp.ThreadID, "stage", resp.Stage)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.streamHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	resp, err := s.worker.StreamChatResponse(r.Context(), req)
	if err != nil {
		writeJSONResponse(w, statusFor(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req responsesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.responsesHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ThreadID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("thread_id is required"))
		return
	}
	if len(req.Responses) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("responses must not be empty"))
		return
	}
	resp, err := s.worker.ProcessUserResponses(r.Context(), req.ThreadID, req.Responses)
	if err != nil {
		writeJSONResponse(w, statusFor(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	msgs, err := s.worker.GetThreadHistory(threadID, limit)
	if err != nil {
		writeJSONResponse(w, statusFor(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.router.AllProviders()))
}

func (s *Server) rulesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.router.Rules()))
}

func (s *Server) addRuleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var rule models.RoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		slog.Warn("Server.addRuleHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if rule.ID == "" || rule.Provider == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("rule id and provider are required"))
		return
	}
	s.router.AddRule(rule)
	slog.Info("Server.addRuleHandler: rule added", "ruleID", rule.ID, "provider", rule.Provider)
	writeJSONResponse(w, http.StatusOK, models.Success(rule))
}

func (s *Server) removeRuleHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.router.RemoveRule(id); err != nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmptyUserID),
		errors.Is(err, models.ErrEmptyContent),
		errors.Is(err, models.ErrContentTooLong),
		errors.Is(err, models.ErrInvalidDomain),
		errors.Is(err, models.ErrInvalidStage),
		errors.Is(err, models.ErrThreadNotActive),
		errors.Is(err, models.ErrUnsupportedLanguage),
		errors.Is(err, models.ErrInappropriateContent):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNoAvailableProviders),
		errors.Is(err, models.ErrProviderTimeout),
		errors.Is(err, models.ErrJSONResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
