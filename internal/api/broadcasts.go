package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/usncompetitions/notifier/internal/broadcast"
	"github.com/usncompetitions/notifier/internal/models"
	"github.com/usncompetitions/notifier/internal/repository"
)

// BroadcastRequest is the body of broadcast create and update calls
type BroadcastRequest struct {
	Name         string                 `json:"name" validate:"required,max=200"`
	TemplateID   string                 `json:"template_id" validate:"required"`
	Filters      models.RecipientFilter `json:"filters"`
	SendTelegram bool                   `json:"send_telegram"`
	SendEmail    bool                   `json:"send_email"`
	ScheduledAt  *time.Time             `json:"scheduled_at"`
}

// ExecuteResponse is the response for POST /api/v1/broadcasts/{id}/execute
type ExecuteResponse struct {
	*models.ExecutionSummary
	Error string `json:"error,omitempty"`
}

// handleListBroadcasts handles GET /api/v1/broadcasts
func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, defaultSearchLimit)
	filter := models.BroadcastListFilter{
		Status: models.BroadcastStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	}

	broadcasts, total, err := s.broadcasts.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list broadcasts", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list broadcasts")
		return
	}
	if broadcasts == nil {
		broadcasts = []models.Broadcast{}
	}

	s.sendJSON(w, http.StatusOK, ListResponse{Items: broadcasts, Total: total, Limit: limit, Offset: offset})
}

// handleGetBroadcast handles GET /api/v1/broadcasts/{id}
func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	b, ok := s.loadBroadcast(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, b)
}

// handleCreateBroadcast handles POST /api/v1/broadcasts
func (s *Server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeBroadcast(w, r)
	if !ok {
		return
	}

	b := &models.Broadcast{
		Name:         req.Name,
		TemplateID:   req.TemplateID,
		Filters:      req.Filters,
		SendTelegram: req.SendTelegram,
		SendEmail:    req.SendEmail,
		ScheduledAt:  req.ScheduledAt,
		CreatedBy:    principal(r),
	}
	if err := s.broadcasts.Create(r.Context(), b); err != nil {
		s.logger.Error("failed to create broadcast", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create broadcast")
		return
	}

	s.logger.Info("broadcast created", "broadcast_id", b.ID, "name", b.Name, "created_by", b.CreatedBy)
	s.sendJSON(w, http.StatusCreated, b)
}

// handleUpdateBroadcast handles PUT /api/v1/broadcasts/{id}
func (s *Server) handleUpdateBroadcast(w http.ResponseWriter, r *http.Request) {
	b, ok := s.loadBroadcast(w, r)
	if !ok {
		return
	}
	if !b.IsEditable() {
		s.sendError(w, http.StatusConflict, "Only draft broadcasts can be edited")
		return
	}

	req, ok := s.decodeBroadcast(w, r)
	if !ok {
		return
	}

	b.Name = req.Name
	b.TemplateID = req.TemplateID
	b.Filters = req.Filters
	b.SendTelegram = req.SendTelegram
	b.SendEmail = req.SendEmail
	b.ScheduledAt = req.ScheduledAt

	if err := s.broadcasts.Update(r.Context(), b); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.sendError(w, http.StatusNotFound, "Broadcast not found")
		case errors.Is(err, repository.ErrStatusConflict):
			s.sendError(w, http.StatusConflict, "Only draft broadcasts can be edited")
		default:
			s.logger.Error("failed to update broadcast", "broadcast_id", b.ID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to update broadcast")
		}
		return
	}

	s.sendJSON(w, http.StatusOK, b)
}

// handleDeleteBroadcast handles DELETE /api/v1/broadcasts/{id}
func (s *Server) handleDeleteBroadcast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.broadcasts.Delete(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Broadcast not found")
		return
	case errors.Is(err, repository.ErrStatusConflict):
		s.sendError(w, http.StatusConflict, "Broadcast is in progress")
		return
	case err != nil:
		s.logger.Error("failed to delete broadcast", "broadcast_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete broadcast")
		return
	}

	s.logger.Info("broadcast deleted", "broadcast_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handlePreviewBroadcast handles GET /api/v1/broadcasts/{id}/preview
func (s *Server) handlePreviewBroadcast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sampleSize := s.cfg.Broadcast.PreviewSampleSize
	if v, err := strconv.Atoi(r.URL.Query().Get("sample")); err == nil && v > 0 {
		sampleSize = min(v, maxSearchLimit)
	}

	preview, err := s.orchestrator.Preview(r.Context(), id, sampleSize)
	if err != nil {
		s.sendOrchestratorError(w, id, err)
		return
	}
	s.sendJSON(w, http.StatusOK, preview)
}

// handleExecuteBroadcast handles POST /api/v1/broadcasts/{id}/execute.
// The run happens inside the request; ?dry_run=true simulates it.
// A client that disconnects does not stop the run, server shutdown does.
func (s *Server) handleExecuteBroadcast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	s.logger.Info("broadcast execution requested", "broadcast_id", id, "dry_run", dryRun, "requested_by", principal(r))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.runCtx, cancel)
	defer stop()

	summary, err := s.orchestrator.Execute(ctx, id, dryRun)
	if err != nil {
		if summary != nil {
			s.sendJSON(w, http.StatusInternalServerError, ExecuteResponse{ExecutionSummary: summary, Error: err.Error()})
			return
		}
		s.sendOrchestratorError(w, id, err)
		return
	}

	s.sendJSON(w, http.StatusOK, ExecuteResponse{ExecutionSummary: summary})
}

// handleResetBroadcast handles POST /api/v1/broadcasts/{id}/reset
func (s *Server) handleResetBroadcast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.orchestrator.Reset(r.Context(), id); err != nil {
		s.sendOrchestratorError(w, id, err)
		return
	}

	b, ok := s.loadBroadcast(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, b)
}

// handleBroadcastRecipients handles GET /api/v1/broadcasts/{id}/recipients
func (s *Server) handleBroadcastRecipients(w http.ResponseWriter, r *http.Request) {
	b, ok := s.loadBroadcast(w, r)
	if !ok {
		return
	}

	limit, offset := pagination(r, defaultSearchLimit)
	filter := models.LedgerFilter{
		BroadcastID:    b.ID,
		TelegramStatus: models.DeliveryStatus(r.URL.Query().Get("telegram_status")),
		EmailStatus:    models.DeliveryStatus(r.URL.Query().Get("email_status")),
		Limit:          limit,
		Offset:         offset,
	}

	rows, total, err := s.ledger.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list ledger", "broadcast_id", b.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list recipients")
		return
	}
	if rows == nil {
		rows = []models.BroadcastRecipient{}
	}

	s.sendJSON(w, http.StatusOK, ListResponse{Items: rows, Total: total, Limit: limit, Offset: offset})
}

// handleBroadcastStats handles GET /api/v1/broadcasts/{id}/stats
func (s *Server) handleBroadcastStats(w http.ResponseWriter, r *http.Request) {
	b, ok := s.loadBroadcast(w, r)
	if !ok {
		return
	}

	stats, err := s.ledger.GetStats(r.Context(), b.ID)
	if err != nil {
		s.logger.Error("failed to get ledger stats", "broadcast_id", b.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

func (s *Server) decodeBroadcast(w http.ResponseWriter, r *http.Request) (*BroadcastRequest, bool) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendError(w, http.StatusBadRequest, validationMessage(err))
		return nil, false
	}
	if !req.SendTelegram && !req.SendEmail {
		s.sendError(w, http.StatusBadRequest, "At least one channel must be enabled")
		return nil, false
	}

	t, err := s.templates.GetByID(r.Context(), req.TemplateID)
	if err != nil {
		s.logger.Error("failed to get template", "template_id", req.TemplateID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to check template")
		return nil, false
	}
	if t == nil {
		s.sendError(w, http.StatusBadRequest, "Template not found")
		return nil, false
	}
	return &req, true
}

func (s *Server) loadBroadcast(w http.ResponseWriter, r *http.Request) (*models.Broadcast, bool) {
	id := chi.URLParam(r, "id")

	b, err := s.broadcasts.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get broadcast", "broadcast_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get broadcast")
		return nil, false
	}
	if b == nil {
		s.sendError(w, http.StatusNotFound, "Broadcast not found")
		return nil, false
	}
	return b, true
}

// sendOrchestratorError maps orchestrator errors to HTTP statuses
func (s *Server) sendOrchestratorError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, broadcast.ErrBroadcastNotFound):
		s.sendError(w, http.StatusNotFound, "Broadcast not found")
	case errors.Is(err, broadcast.ErrTemplateNotFound):
		s.sendError(w, http.StatusUnprocessableEntity, "Template not found")
	case errors.Is(err, broadcast.ErrBroadcastNotDraft):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, broadcast.ErrTemplateInactive):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("broadcast operation failed", "broadcast_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Broadcast operation failed")
	}
}
