package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-authority/auth"
	"github.com/jrsteele09/go-session-authority/identity"
	"github.com/jrsteele09/go-session-authority/internal/config"
	"github.com/jrsteele09/go-session-authority/internal/metrics"
	"github.com/jrsteele09/go-session-authority/server"
	"github.com/jrsteele09/go-session-authority/sessions"
	"github.com/jrsteele09/go-session-authority/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type countingRecorder struct {
	mu    sync.Mutex
	count int
}

func (c *countingRecorder) UnauthenticatedRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func (c *countingRecorder) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type testServer struct {
	server    *server.Server
	authority *auth.Authority
	recorder  *countingRecorder
}

func setupTestServer(t *testing.T, options ...server.ServerOption) *testServer {
	t.Helper()

	store, err := identity.FromRegistrations(identity.SampleRegistrations(), bcrypt.MinCost)
	require.NoError(t, err)
	generator, err := token.NewRandomGenerator(token.MinBytes)
	require.NoError(t, err)
	sessionCfg, err := config.NewSession(5*time.Minute, 30*time.Minute)
	require.NoError(t, err)

	logger := zerolog.New(zerolog.NewTestWriter(t))
	authority, err := auth.NewAuthority(store, generator, sessionCfg, auth.WithLogger(logger))
	require.NoError(t, err)

	recorder := &countingRecorder{}
	options = append([]server.ServerOption{
		server.WithLogger(logger),
		server.WithRequestRecorder(recorder),
	}, options...)

	s, err := server.New(config.EnvVars{}, config.DefaultSecurity(), authority, options...)
	require.NoError(t, err)

	return &testServer{server: s, authority: authority, recorder: recorder}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

// doFrom sends a POST as if from remoteAddr.
func (ts *testServer) doFrom(t *testing.T, remoteAddr, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.RemoteAddr = remoteAddr
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T) sessions.SessionToken {
	t.Helper()

	rec := ts.do(t, http.MethodPost, server.RouteBeginLogin, map[string]string{
		"username": "UserA",
		"password": "PasswordA",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var handshake sessions.HandshakeToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handshake))
	require.NotEmpty(t, handshake.Identifier)

	rec = ts.do(t, http.MethodPost, server.RouteFinishLogin, map[string]any{
		"handshakeToken": handshake,
		"code":           "SecretA",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sessionToken sessions.SessionToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessionToken))
	require.NotEmpty(t, sessionToken.Hash)
	return sessionToken
}

func TestServer_LoginFlow(t *testing.T) {
	ts := setupTestServer(t)
	sessionToken := ts.login(t)

	rec := ts.do(t, http.MethodGet, server.RouteAPISession, nil, map[string]string{server.SessionHeader: sessionToken.Hash})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"authenticated":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, server.RouteAPIStats, nil, map[string]string{server.SessionHeader: sessionToken.Hash})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":0,"authenticated":1}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, server.RouteLogout, sessionToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, server.RouteAPISession, nil, map[string]string{server.SessionHeader: sessionToken.Hash})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not authenticated", strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, 1, ts.recorder.Count())
}

func TestServer_BadCredentials(t *testing.T) {
	ts := setupTestServer(t)

	wrongPassword := ts.do(t, http.MethodPost, server.RouteBeginLogin, map[string]string{
		"username": "UserA",
		"password": "nope",
	}, nil)
	unknownUser := ts.do(t, http.MethodPost, server.RouteBeginLogin, map[string]string{
		"username": "Nobody",
		"password": "PasswordA",
	}, nil)

	for _, rec := range []*httptest.ResponseRecorder{wrongPassword, unknownUser} {
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"bad credentials"}`, rec.Body.String())
	}
}

func TestServer_FinishLoginRejected(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, server.RouteFinishLogin, map[string]any{
		"handshakeToken": sessions.HandshakeToken{Identifier: "unknown"},
		"code":           "SecretA",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication error"}`, rec.Body.String())
}

func TestServer_CancelLogin(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, server.RouteBeginLogin, map[string]string{
		"username": "UserB",
		"password": "PasswordB",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var handshake sessions.HandshakeToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handshake))

	rec = ts.do(t, http.MethodPost, server.RouteCancelLogin, handshake, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, server.RouteFinishLogin, map[string]any{
		"handshakeToken": handshake,
		"code":           "SecretB",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_InvalidBody(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "malformed json", path: server.RouteBeginLogin, body: `{"username":`},
		{name: "unknown field", path: server.RouteBeginLogin, body: `{"user":"UserA"}`},
		{name: "finish not an object", path: server.RouteFinishLogin, body: `[]`},
		{name: "logout empty", path: server.RouteLogout, body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, `{"error":"invalid request body"}`, rec.Body.String())
		})
	}
}

func TestServer_RequireSession(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, server.RouteBeginLogin, map[string]string{
		"username": "UserA",
		"password": "PasswordA",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var handshake sessions.HandshakeToken
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handshake))

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{name: "missing header", headers: nil},
		{name: "blank header", headers: map[string]string{server.SessionHeader: "   "}},
		{name: "unknown token", headers: map[string]string{server.SessionHeader: "deadbeef"}},
		{name: "handshake identifier", headers: map[string]string{server.SessionHeader: handshake.Identifier}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, server.RouteAPISession, nil, tt.headers)
			require.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "Not authenticated", strings.TrimSpace(rec.Body.String()))
			assert.Equal(t, i+1, ts.recorder.Count())
		})
	}
}

func TestServer_LoginRateLimit(t *testing.T) {
	t.Run("forwarding headers from an untrusted peer are ignored", func(t *testing.T) {
		ts := setupTestServer(t, server.WithLoginRate(2))
		body := map[string]string{"username": "UserA", "password": "wrong"}

		rejected := 0
		for i := 0; i < 50; i++ {
			headers := map[string]string{
				"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i),
				"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i),
			}
			if ts.do(t, http.MethodPost, server.RouteBeginLogin, body, headers).Code == http.StatusTooManyRequests {
				rejected++
			}
		}
		require.Equal(t, 48, rejected)
	})

	t.Run("limit is per peer", func(t *testing.T) {
		ts := setupTestServer(t, server.WithLoginRate(2))
		body := map[string]string{"username": "UserA", "password": "wrong"}

		for i := 0; i < 2; i++ {
			require.Equal(t, http.StatusUnauthorized, ts.doFrom(t, "192.0.2.10:4000", server.RouteBeginLogin, body, nil).Code)
		}
		rec := ts.doFrom(t, "192.0.2.10:4001", server.RouteBeginLogin, body, nil)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		require.Equal(t, http.StatusUnauthorized, ts.doFrom(t, "192.0.2.11:4000", server.RouteBeginLogin, body, nil).Code)
	})

	t.Run("trusted proxy forwards the client address", func(t *testing.T) {
		ts := setupTestServer(t,
			server.WithLoginRate(2),
			server.WithTrustedProxies(netip.MustParsePrefix("10.0.0.0/8")),
		)
		body := map[string]string{"username": "UserA", "password": "wrong"}
		fromA := map[string]string{"X-Forwarded-For": "203.0.113.7"}
		fromB := map[string]string{"X-Forwarded-For": "198.51.100.9"}

		require.Equal(t, http.StatusUnauthorized, ts.doFrom(t, "10.1.2.3:5000", server.RouteBeginLogin, body, fromA).Code)
		require.Equal(t, http.StatusUnauthorized, ts.doFrom(t, "10.1.2.3:5000", server.RouteBeginLogin, body, fromA).Code)
		require.Equal(t, http.StatusTooManyRequests, ts.doFrom(t, "10.1.2.3:5000", server.RouteBeginLogin, body, fromA).Code)
		require.Equal(t, http.StatusUnauthorized, ts.doFrom(t, "10.1.2.3:5000", server.RouteBeginLogin, body, fromB).Code)

		// Outside the trusted range the header is ignored again.
		require.Equal(t, http.StatusUnauthorized, ts.doFrom(t, "192.0.2.50:5000", server.RouteBeginLogin, body, fromA).Code)
		require.Equal(t, http.StatusUnauthorized, ts.doFrom(t, "192.0.2.50:5000", server.RouteBeginLogin, body, fromB).Code)
		require.Equal(t, http.StatusTooManyRequests, ts.doFrom(t, "192.0.2.50:5000", server.RouteBeginLogin, body, fromB).Code)
	})
}

func TestServer_LoginRateLimitDisabled(t *testing.T) {
	ts := setupTestServer(t, server.WithLoginRate(0))
	body := map[string]string{"username": "UserA", "password": "wrong"}

	for i := 0; i < 50; i++ {
		require.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, server.RouteBeginLogin, body, nil).Code)
	}
}

func TestServer_HealthAndHeaders(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, server.RouteHealth, nil, map[string]string{"X-Request-ID": "req-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = ts.do(t, http.MethodGet, server.RouteHealth, nil, nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := metrics.New(reg)
	require.NoError(t, err)

	ts := setupTestServer(t,
		server.WithRequestRecorder(recorder),
		server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)

	rec := ts.do(t, http.MethodGet, server.RouteAPISession, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, server.RouteMetrics, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "session_authority_unauthenticated_requests_total 1")
}

func TestServer_NoMetricsRoute(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, server.RouteMetrics, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_RequiresAuthority(t *testing.T) {
	_, err := server.New(config.EnvVars{}, config.DefaultSecurity(), nil)
	require.Error(t, err)
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.1", want: "192.0.2.1"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "forwarded header ignored", remoteAddr: "10.0.0.1:1", xff: "203.0.113.7", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, server.RealIP(req))
		})
	}
}
