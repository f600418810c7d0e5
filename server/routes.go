package server

import (
	"net/http"
)

const (
	RouteHealth  = "/health"
	RouteMetrics = "/metrics"

	RouteBeginLogin  = "/auth/begin-login"
	RouteCancelLogin = "/auth/cancel-login"
	RouteFinishLogin = "/auth/finish-login"
	RouteLogout      = "/auth/logout"

	RouteAPISession = "/api/session"
	RouteAPIStats   = "/api/stats"
)

func (s *Server) initRoutes() {
	s.router.Use(s.APIMiddleware()...)

	s.RegisterRouteFunc(http.MethodGet, RouteHealth, s.HealthHandler())
	if s.metricsHandler != nil {
		s.RegisterRouteHandler(http.MethodGet, RouteMetrics, s.metricsHandler)
	}

	// LOGIN
	s.RegisterRouteHandler(http.MethodPost, RouteBeginLogin, s.RateLimitMiddleware(s.BeginLoginHandler()))
	s.RegisterRouteFunc(http.MethodPost, RouteCancelLogin, s.CancelLoginHandler())
	s.RegisterRouteHandler(http.MethodPost, RouteFinishLogin, s.RateLimitMiddleware(s.FinishLoginHandler()))
	s.RegisterRouteFunc(http.MethodPost, RouteLogout, s.LogoutHandler())

	// Protected API routes
	s.RegisterRouteHandler(http.MethodGet, RouteAPISession, s.RequireSession(s.SessionHandler()))
	s.RegisterRouteHandler(http.MethodGet, RouteAPIStats, s.RequireSession(s.StatsHandler()))
}
