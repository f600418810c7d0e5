package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionHeader carries the session token hash on protected requests.
const SessionHeader = "X-Auth-Token"

const requestIDHeader = "X-Request-ID"

// APIMiddleware is applied to every route.
func (s *Server) APIMiddleware() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		s.TrustedProxyMiddleware,
		s.RequestIDMiddleware,
		s.LoggingMiddleware,
		middleware.Recoverer,
		s.SecurityHeadersMiddleware,
	}
}

// RequestIDMiddleware tags the request with an ID and attaches a request-scoped
// logger to the context.
func (s *Server) RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := s.logger.With().Str("request_id", requestID).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		level := zerolog.DebugLevel
		if s.env == "DEV" {
			level = zerolog.InfoLevel
		}
		s.requestLogger(r).WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// RequireSession admits only requests whose X-Auth-Token header names a live
// authenticated session. Anything else gets 403 "Not authenticated".
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authority.IsAuthenticated(r.Header.Get(SessionHeader)) {
			s.requestLogger(r).Warn().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", RealIP(r)).
				Msg("unauthenticated request")
			s.recorder.UnauthenticatedRequest()
			http.Error(w, "Not authenticated", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger returns the logger attached by RequestIDMiddleware, or the
// server logger when the request did not pass through it.
func (s *Server) requestLogger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
