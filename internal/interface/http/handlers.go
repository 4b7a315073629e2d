package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gracegarden/community-hub/internal/application/command"
	"github.com/gracegarden/community-hub/internal/application/query"
	"github.com/gracegarden/community-hub/internal/domain/progression"
	"github.com/gracegarden/community-hub/internal/domain/shared"
	"github.com/gracegarden/community-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "Grace Garden Progression API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":       "/health",
			"progression":  "/api/v1/users/{id}/progression",
			"activities":   "/api/v1/users/{id}/activities",
			"daily_login":  "/api/v1/users/{id}/daily-login",
			"tiers":        "/api/v1/tiers",
			"achievements": "/api/v1/achievements",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// AwardRequest is the body of POST /api/v1/users/{id}/activities.
type AwardRequest struct {
	Activity  string `json:"activity"`
	ContentID string `json:"content_id,omitempty"`
}

// AwardResponse is returned by award and daily login endpoints.
type AwardResponse struct {
	Applied     bool                         `json:"applied"`
	Progression *progression.UserProgression `json:"progression"`
	Delta       progression.Delta            `json:"delta"`
	Tier        progression.TierInfo         `json:"tier"`
}

// handleAwardActivity handles POST /api/v1/users/{id}/activities
func (s *Server) handleAwardActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.AwardActivityHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Award handler not configured")
		return
	}

	userID, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	var req AwardRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.AwardActivityHandler.Handle(r.Context(), command.AwardActivityCommand{
		UserID:        userID,
		Activity:      progression.ActivityKind(req.Activity),
		ContentID:     shared.ContentID(req.ContentID),
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AwardResponse{
		Applied:     true,
		Progression: result.Progression,
		Delta:       result.Delta,
		Tier:        result.Tier,
	})
}

// BatchRequest is the body of POST /api/v1/activities/batch.
type BatchRequest struct {
	Items []struct {
		UserID    string `json:"user_id"`
		Activity  string `json:"activity"`
		ContentID string `json:"content_id,omitempty"`
	} `json:"items"`
}

// BatchResponse summarizes a batch award.
type BatchResponse struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// handleAwardBatch handles POST /api/v1/activities/batch
func (s *Server) handleAwardBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.AwardBatchHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Batch handler not configured")
		return
	}

	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeJSONError(w, http.StatusBadRequest, "empty_batch", "Batch has no items")
		return
	}

	cmd := command.AwardBatchCommand{
		CorrelationID: getRequestID(r.Context()),
		Activities:    make([]command.AwardActivityCommand, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		userID := shared.UserID(item.UserID)
		if parsed, err := shared.NewUserID(item.UserID); err == nil {
			userID = parsed
		}
		cmd.Activities = append(cmd.Activities, command.AwardActivityCommand{
			UserID:    userID,
			Activity:  progression.ActivityKind(item.Activity),
			ContentID: shared.ContentID(item.ContentID),
		})
	}

	result, err := s.deps.AwardBatchHandler.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := BatchResponse{
		Total:     result.TotalCount,
		Succeeded: result.SuccessCount,
		Failed:    result.FailedCount,
	}
	if len(result.Errors) > 0 {
		resp.Errors = make(map[string]string, len(result.Errors))
		for key, e := range result.Errors {
			resp.Errors[key] = e.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDailyLogin handles POST /api/v1/users/{id}/daily-login
func (s *Server) handleDailyLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.DailyLoginHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Daily login handler not configured")
		return
	}

	userID, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	result, err := s.deps.DailyLoginHandler.Handle(r.Context(), command.DailyLoginCommand{
		UserID:        userID,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AwardResponse{
		Applied:     result.Applied,
		Progression: result.Progression,
		Delta:       result.Delta,
		Tier:        result.Tier,
	})
}

// handleGetProgression handles GET /api/v1/users/{id}/progression
func (s *Server) handleGetProgression(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetProgressionHandler == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Progression query not configured")
		return
	}

	userID, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	dto, err := s.deps.GetProgressionHandler.Handle(r.Context(), query.GetProgressionQuery{UserID: userID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// handleDeleteProgression handles DELETE /api/v1/users/{id}/progression
func (s *Server) handleDeleteProgression(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repository == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Repository not configured")
		return
	}

	userID, ok := s.parseUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.deps.Repository.Delete(ctx, userID); err != nil {
		if !shared.IsNotFound(err) {
			err = shared.Unavailable("Delete", err)
		}
		s.writeDomainError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("progression deleted", logger.UserID(userID.String()))
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tiers":                  s.deps.Resolver.Tiers().Rows(),
		"daily_login_milestones": s.deps.Resolver.LoginMilestones(),
	})
}

func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, query.GetCatalog(s.deps.Resolver).Achievements)
}

func (s *Server) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, progression.AllActivitySpecs())
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) parseUserID(w http.ResponseWriter, r *http.Request) (shared.UserID, bool) {
	userID, err := shared.NewUserID(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_user_id", "User ID must be a UUID")
		return "", false
	}
	return userID, true
}

// decodeBody decodes a JSON request body into dst, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		case errors.Is(err, io.EOF):
			writeJSONError(w, http.StatusBadRequest, "empty_body", "Request body is required")
		default:
			writeJSONError(w, http.StatusBadRequest, "invalid_json", "Request body is not valid JSON")
		}
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidActivity):
		writeJSONError(w, http.StatusBadRequest, "invalid_activity", "Unknown activity kind")
	case errors.Is(err, shared.ErrInvalidUserID), shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", "Progression not found")
	case shared.IsConflict(err):
		writeJSONError(w, http.StatusConflict, "conflict", "Progression was modified concurrently, retry the request")
	case shared.IsUnavailable(err):
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusServiceUnavailable, "store_unavailable", "Progression store is temporarily unavailable")
	default:
		s.logger.Error("unhandled error",
			logger.String("path", r.URL.Path),
			logger.String("request_id", getRequestID(r.Context())),
			logger.Err(err),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Internal error")
	}
}
