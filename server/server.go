package server

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-session-authority/auth"
	"github.com/jrsteele09/go-session-authority/internal/config"
	"github.com/jrsteele09/go-session-authority/sessions"
	"github.com/rs/zerolog"
)

// Authority is the subset of *auth.Authority the HTTP surface drives.
type Authority interface {
	BeginLogin(username, password string) (sessions.HandshakeToken, error)
	CancelLogin(handshake sessions.HandshakeToken)
	FinishLogin(handshake sessions.HandshakeToken, secondFactorCode string) (sessions.SessionToken, error)
	Logout(sessionToken sessions.SessionToken)
	IsAuthenticated(hash string) bool
	Stats() auth.Stats
}

var _ Authority = (*auth.Authority)(nil)

// RequestRecorder counts protected requests rejected by RequireSession.
type RequestRecorder interface {
	UnauthenticatedRequest()
}

type nopRecorder struct{}

func (nopRecorder) UnauthenticatedRequest() {}

type Server struct {
	env            string // Environment (e.g. "DEV", "PROD")
	router         chi.Router
	routes         []string
	authority      Authority
	logger         zerolog.Logger
	recorder       RequestRecorder
	metricsHandler http.Handler
	loginLimiter   *clientLimiter
	trustedProxies []netip.Prefix
}

// ServerOption defines a function type to modify the Server instance.
type ServerOption func(*Server)

// WithLogger sets the base request logger.
func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRequestRecorder counts rejected protected requests.
func WithRequestRecorder(r RequestRecorder) ServerOption {
	return func(s *Server) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMetricsHandler exposes h on GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithTrustedProxies overrides the configured proxies whose X-Forwarded-For,
// X-Real-IP and True-Client-IP headers are believed.
func WithTrustedProxies(prefixes ...netip.Prefix) ServerOption {
	return func(s *Server) {
		s.trustedProxies = prefixes
	}
}

// WithLoginRate overrides the configured per-client login rate. 0 disables limiting.
func WithLoginRate(perMinute int) ServerOption {
	return func(s *Server) {
		s.loginLimiter = newClientLimiter(perMinute)
	}
}

func New(env config.EnvConfig, security config.SecurityConfig, authority Authority, options ...ServerOption) (*Server, error) {
	if authority == nil {
		return nil, fmt.Errorf("[Server New] authority is required")
	}

	s := &Server{
		env:            env.GetEnv(),
		router:         chi.NewRouter(),
		authority:      authority,
		logger:         zerolog.Nop(),
		recorder:       nopRecorder{},
		loginLimiter:   newClientLimiter(security.GetLoginRatePerMinute()),
		trustedProxies: security.GetTrustedProxies(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(method, pattern string, handler http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc) {
	s.RegisterRouteHandler(method, pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logger.Info().Msg(colourRoute(parts[0], parts[1]))
		} else {
			s.logger.Info().Msg(colourRoute("", parts[0]))
		}
	}
}

func colourRoute(method, path string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	colour, ok := methodColors[method]
	if !ok {
		colour = Gray
	}
	return fmt.Sprintf("[%s] %s", colour+paddedMethod+ResetColor, path)
}
