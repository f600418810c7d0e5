package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrsteele09/go-session-authority/auth"
	"github.com/jrsteele09/go-session-authority/sessions"
)

const maxBodyBytes = 1 << 14

type beginLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type finishLoginRequest struct {
	HandshakeToken sessions.HandshakeToken `json:"handshakeToken"`
	Code           string                  `json:"code"`
}

type sessionResponse struct {
	Authenticated bool `json:"authenticated"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	}
}

// BeginLoginHandler checks the first factor and returns a handshake token.
func (s *Server) BeginLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req beginLoginRequest
		if !s.decodeBody(w, r, &req) {
			return
		}

		handshake, err := s.authority.BeginLogin(req.Username, req.Password)
		if err != nil {
			s.writeAuthorityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, handshake)
	}
}

func (s *Server) CancelLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var handshake sessions.HandshakeToken
		if !s.decodeBody(w, r, &handshake) {
			return
		}
		s.authority.CancelLogin(handshake)
		w.WriteHeader(http.StatusNoContent)
	}
}

// FinishLoginHandler checks the second factor and returns a session token.
func (s *Server) FinishLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req finishLoginRequest
		if !s.decodeBody(w, r, &req) {
			return
		}

		token, err := s.authority.FinishLogin(req.HandshakeToken, req.Code)
		if err != nil {
			s.writeAuthorityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, token)
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var token sessions.SessionToken
		if !s.decodeBody(w, r, &token) {
			return
		}
		s.authority.Logout(token)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true})
	}
}

func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.authority.Stats())
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		s.requestLogger(r).Debug().Err(err).Str("path", r.URL.Path).Msg("invalid request body")
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeAuthorityError renders login rejections with their generic message and
// hides everything else behind a 500.
func (s *Server) writeAuthorityError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *auth.AuthenticationError
	if errors.As(err, &authErr) {
		writeJSONError(w, authErr.Error(), http.StatusUnauthorized)
		return
	}
	s.requestLogger(r).Err(err).Str("path", r.URL.Path).Msg("login failed")
	writeJSONError(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
