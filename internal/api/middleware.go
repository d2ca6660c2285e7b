package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/usncompetitions/notifier/internal/repository"
)

type ctxKey int

const principalKey ctxKey = iota

// staticPrincipal identifies requests made with the configured bootstrap key
const staticPrincipal = "bootstrap"

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware accepts the configured bootstrap key or an active stored
// API key, sent as a Bearer token or in X-API-Key
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Authorization")
		if key == "" {
			key = r.Header.Get("X-API-Key")
		}
		key = strings.TrimPrefix(key, "Bearer ")

		if key == "" {
			s.sendError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if static := s.cfg.Auth.APIKey; static != "" && subtle.ConstantTimeCompare([]byte(key), []byte(static)) == 1 {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, staticPrincipal)))
			return
		}

		apiKey, err := s.apiKeys.Authenticate(r.Context(), key)
		if err != nil {
			if !errors.Is(err, repository.ErrInvalidAPIKey) {
				s.logger.Error("failed to authenticate API key", "error", err)
				s.sendError(w, http.StatusInternalServerError, "Failed to authenticate")
				return
			}
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, apiKey.Name)))
	})
}

// principal returns the name of the authenticated key
func principal(r *http.Request) string {
	name, _ := r.Context().Value(principalKey).(string)
	return name
}
