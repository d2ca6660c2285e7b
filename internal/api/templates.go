package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/usncompetitions/notifier/internal/models"
	"github.com/usncompetitions/notifier/internal/repository"
	"github.com/usncompetitions/notifier/internal/template"
)

// TemplateRequest is the body of template create and update calls
type TemplateRequest struct {
	Name         string            `json:"name" validate:"required,max=200"`
	Description  string            `json:"description" validate:"max=1000"`
	Subject      string            `json:"subject" validate:"max=500"`
	TelegramBody string            `json:"telegram_body" validate:"required_without=EmailBody"`
	EmailBody    string            `json:"email_body" validate:"required_without=TelegramBody"`
	Variables    map[string]string `json:"available_variables"`
	IsActive     *bool             `json:"is_active"`
}

// TextRequest carries a single template text
type TextRequest struct {
	Text string `json:"text"`
}

// ValidateResponse is the response for POST /api/v1/templates/validate
type ValidateResponse struct {
	Valid     bool     `json:"valid"`
	Error     string   `json:"error,omitempty"`
	Variables []string `json:"variables"`
}

// PreviewRequest is the body of POST /api/v1/templates/preview
type PreviewRequest struct {
	Text   string         `json:"text"`
	Sample map[string]any `json:"sample"`
}

// PreviewResponse is the response for POST /api/v1/templates/preview
type PreviewResponse struct {
	Rendered  string   `json:"rendered"`
	Variables []string `json:"variables"`
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 0)
	filter := models.TemplateListFilter{
		Search:     r.URL.Query().Get("search"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Limit:      limit,
		Offset:     offset,
	}

	templates, total, err := s.templates.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list templates", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}
	if templates == nil {
		templates = []models.MessageTemplate{}
	}

	s.sendJSON(w, http.StatusOK, ListResponse{Items: templates, Total: total, Limit: limit, Offset: offset})
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, t)
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTemplate(w, r)
	if !ok {
		return
	}

	existing, err := s.templates.GetByName(r.Context(), req.Name)
	if err != nil {
		s.logger.Error("failed to check template name", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}
	if existing != nil {
		s.sendError(w, http.StatusConflict, "Template name already exists")
		return
	}

	t := &models.MessageTemplate{
		Name:         req.Name,
		Description:  req.Description,
		Subject:      req.Subject,
		TelegramBody: req.TelegramBody,
		EmailBody:    req.EmailBody,
		Variables:    req.Variables,
		CreatedBy:    principal(r),
	}
	if err := s.templates.Create(r.Context(), t); err != nil {
		s.logger.Error("failed to create template", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}

	s.logger.Info("template created", "template_id", t.ID, "name", t.Name, "created_by", t.CreatedBy)
	s.sendJSON(w, http.StatusCreated, t)
}

// handleUpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.loadTemplate(w, r)
	if !ok {
		return
	}
	req, ok := s.decodeTemplate(w, r)
	if !ok {
		return
	}

	if req.Name != t.Name {
		existing, err := s.templates.GetByName(r.Context(), req.Name)
		if err != nil {
			s.logger.Error("failed to check template name", "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to update template")
			return
		}
		if existing != nil {
			s.sendError(w, http.StatusConflict, "Template name already exists")
			return
		}
	}

	t.Name = req.Name
	t.Description = req.Description
	t.Subject = req.Subject
	t.TelegramBody = req.TelegramBody
	t.EmailBody = req.EmailBody
	t.Variables = req.Variables
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}

	if err := s.templates.Update(r.Context(), t); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Template not found")
			return
		}
		s.logger.Error("failed to update template", "template_id", t.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update template")
		return
	}

	s.sendJSON(w, http.StatusOK, t)
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.templates.Delete(r.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Template not found")
		return
	case errors.Is(err, repository.ErrTemplateInUse):
		s.sendError(w, http.StatusConflict, "Template is used by broadcasts; deactivate it instead")
		return
	case err != nil:
		s.logger.Error("failed to delete template", "template_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}

	s.logger.Info("template deleted", "template_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetTemplateActive handles POST /api/v1/templates/{id}/activate and /deactivate
func (s *Server) handleSetTemplateActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := s.templates.SetActive(r.Context(), id, active); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.sendError(w, http.StatusNotFound, "Template not found")
				return
			}
			s.logger.Error("failed to change template state", "template_id", id, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to update template")
			return
		}

		t, ok := s.loadTemplate(w, r)
		if !ok {
			return
		}
		s.sendJSON(w, http.StatusOK, t)
	}
}

// handleTemplateVariables handles GET /api/v1/templates/variables
func (s *Server) handleTemplateVariables(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, template.ListVariables())
}

// handleValidateTemplate handles POST /api/v1/templates/validate
func (s *Server) handleValidateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	valid, msg := s.renderer.Validate(req.Text)
	vars := template.ExtractVariables(req.Text)
	if vars == nil {
		vars = []string{}
	}
	s.sendJSON(w, http.StatusOK, ValidateResponse{Valid: valid, Error: msg, Variables: vars})
}

// handlePreviewTemplate handles POST /api/v1/templates/preview.
// Caller sample values override the built-in sample context.
func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sample := template.SampleContext(time.Now())
	for k, v := range req.Sample {
		sample[k] = v
	}

	rendered, vars := s.renderer.RenderPreview(req.Text, sample)
	if vars == nil {
		vars = []string{}
	}
	s.sendJSON(w, http.StatusOK, PreviewResponse{Rendered: rendered, Variables: vars})
}

func (s *Server) decodeTemplate(w http.ResponseWriter, r *http.Request) (*TemplateRequest, bool) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendError(w, http.StatusBadRequest, validationMessage(err))
		return nil, false
	}

	for field, text := range map[string]string{
		"subject":       req.Subject,
		"telegram_body": req.TelegramBody,
		"email_body":    req.EmailBody,
	} {
		if ok, msg := s.renderer.Validate(text); !ok {
			s.sendError(w, http.StatusBadRequest, field+": "+msg)
			return nil, false
		}
	}
	return &req, true
}

func (s *Server) loadTemplate(w http.ResponseWriter, r *http.Request) (*models.MessageTemplate, bool) {
	id := chi.URLParam(r, "id")

	t, err := s.templates.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get template", "template_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return nil, false
	}
	if t == nil {
		s.sendError(w, http.StatusNotFound, "Template not found")
		return nil, false
	}
	return t, true
}
