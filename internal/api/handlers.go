package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/usncompetitions/notifier/internal/models"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListResponse wraps a page of items
type ListResponse struct {
	Items  any `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// CountResponse is the response for POST /api/v1/recipients/count
type CountResponse struct {
	Count int `json:"count"`
}

// ChannelInfo describes a registered delivery channel
type ChannelInfo struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Reachable  *bool  `json:"reachable,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Uptime:   time.Since(s.startTime).String(),
		Database: "ok",
	}

	status := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("database ping failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	s.sendJSON(w, status, resp)
}

// handleRecipientFilters handles GET /api/v1/recipients/filters
func (s *Server) handleRecipientFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := s.recipients.GetAvailableFilters(r.Context())
	if err != nil {
		s.logger.Error("failed to load available filters", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load filters")
		return
	}
	s.sendJSON(w, http.StatusOK, filters)
}

// handleCountRecipients handles POST /api/v1/recipients/count
func (s *Server) handleCountRecipients(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.decodeFilter(w, r)
	if !ok {
		return
	}

	count, err := s.recipients.CountRecipients(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to count recipients", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to count recipients")
		return
	}
	s.sendJSON(w, http.StatusOK, CountResponse{Count: count})
}

// handleSearchRecipients handles POST /api/v1/recipients/search
func (s *Server) handleSearchRecipients(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.decodeFilter(w, r)
	if !ok {
		return
	}

	total, err := s.recipients.CountRecipients(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to count recipients", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to search recipients")
		return
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultSearchLimit
	}
	if filter.Limit > maxSearchLimit {
		filter.Limit = maxSearchLimit
	}

	recipients, err := s.recipients.GetRecipients(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to search recipients", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to search recipients")
		return
	}
	if recipients == nil {
		recipients = []models.Recipient{}
	}

	s.sendJSON(w, http.StatusOK, ListResponse{
		Items:  recipients,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// handleChannels handles GET /api/v1/channels. With ?test=true every
// configured channel is probed.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	probe := r.URL.Query().Get("test") == "true"

	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]ChannelInfo, 0, len(names))
	for _, name := range names {
		ch := s.channels[name]
		info := ChannelInfo{Name: name, Configured: ch.ValidateConfiguration()}
		if probe {
			reachable := info.Configured && ch.TestConnection(r.Context())
			info.Reachable = &reachable
		}
		infos = append(infos, info)
	}

	s.sendJSON(w, http.StatusOK, infos)
}

func (s *Server) decodeFilter(w http.ResponseWriter, r *http.Request) (models.RecipientFilter, bool) {
	var filter models.RecipientFilter
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid request body")
			return filter, false
		}
	}
	if err := s.validate.Struct(filter); err != nil {
		s.sendError(w, http.StatusBadRequest, validationMessage(err))
		return filter, false
	}
	return filter, true
}

// validationMessage flattens validator errors into one line
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return "Validation failed: " + strings.Join(parts, "; ")
}

// pagination reads limit and offset query parameters
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxSearchLimit)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
