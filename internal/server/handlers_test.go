package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/gatekeeper/internal/auth"
	"github.com/vyrodovalexey/gatekeeper/internal/authz"
	"github.com/vyrodovalexey/gatekeeper/internal/model"
	"github.com/vyrodovalexey/gatekeeper/internal/ratelimit"
	"github.com/vyrodovalexey/gatekeeper/internal/routing"
	"github.com/vyrodovalexey/gatekeeper/internal/store"
)

// buildSignedHeader signs a request envelope for the HMAC end-to-end case.
func buildSignedHeader(t *testing.T, clientID, secret, method, path, body string) string {
	t.Helper()
	timestamp := time.Now().Unix()
	nonce := uuid.NewString()
	message := auth.CanonicalMessage(method, path, timestamp, nonce, body)
	return fmt.Sprintf(`HMAC client_id="%s",timestamp="%d",nonce="%s",signature="%s"`,
		clientID, timestamp, nonce, auth.ComputeSignature(secret, message))
}

// newTestServer builds a server over an in-memory store with one
// protected route and one provisioned client.
func newTestServer(t *testing.T, opts ...Option) (*Server, *store.MemoryStore, map[string]string) {
	t.Helper()

	st := store.NewMemoryStore()
	ctx := context.Background()

	routeID, err := st.SaveRoute(ctx, model.NewRoute("/api/users", "*", "users",
		map[model.HTTPMethod]model.MethodPolicy{
			model.MethodGet:  {AuthRequired: true, AuthType: model.AuthTypeAPIKey},
			model.MethodPost: {AuthRequired: false},
		}))
	require.NoError(t, err)

	clientID, err := st.SaveClient(ctx, model.NewClient("service-a", "key-a", ""))
	require.NoError(t, err)

	_, err = st.SavePermission(ctx, model.NewPermission(clientID, routeID, []model.HTTPMethod{model.MethodGet}))
	require.NoError(t, err)

	nonces := auth.NewMemoryNonceStore(0)
	t.Cleanup(func() { _ = nonces.Close() })

	engine := authz.NewEngine(
		routing.NewMatcher(st),
		auth.NewVerifier(st, nonces),
		st,
		authz.NewPermissionChecker(st),
	)

	ids := map[string]string{"route": routeID, "client": clientID}
	return New(nil, engine, opts...), st, ids
}

func doAuthz(s *Server, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/authz", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHandleAuthz_Allow(t *testing.T) {
	s, _, ids := newTestServer(t)

	w := doAuthz(s, map[string]string{
		OriginalURIHeader:    "/api/users",
		OriginalMethodHeader: "GET",
		"Authorization":      "Bearer key-a",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ids["client"], w.Header().Get(AuthClientIDHeader))
	assert.Equal(t, "service-a", w.Header().Get(AuthClientNameHeader))
	assert.Equal(t, ids["route"], w.Header().Get(AuthRouteIDHeader))

	var result authz.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Allowed)
	assert.Equal(t, authz.ReasonAuthenticated, result.Reason)
}

func TestHandleAuthz_KeyInOriginalQuery(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doAuthz(s, map[string]string{
		OriginalURIHeader:    "/api/users?api_key=key-a&page=2",
		OriginalMethodHeader: "GET",
	})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleAuthz_PublicMethod(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := doAuthz(s, map[string]string{
		OriginalURIHeader:    "/api/users",
		OriginalMethodHeader: "POST",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(AuthClientIDHeader))
}

func TestHandleAuthz_Deny(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantReason string
	}{
		{
			name: "no credentials",
			headers: map[string]string{
				OriginalURIHeader:    "/api/users",
				OriginalMethodHeader: "GET",
			},
			wantReason: authz.ReasonInvalidCredentials,
		},
		{
			name: "unknown key",
			headers: map[string]string{
				OriginalURIHeader:    "/api/users",
				OriginalMethodHeader: "GET",
				"Authorization":      "Bearer ghost",
			},
			wantReason: authz.ReasonInvalidCredentials,
		},
		{
			name: "no route",
			headers: map[string]string{
				OriginalURIHeader:    "/api/unknown",
				OriginalMethodHeader: "GET",
			},
			wantReason: authz.ReasonNoRouteMatch,
		},
		{
			name: "method not configured",
			headers: map[string]string{
				OriginalURIHeader:    "/api/users",
				OriginalMethodHeader: "DELETE",
			},
			wantReason: authz.ReasonMethodNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t)
			w := doAuthz(s, tt.headers)

			require.Equal(t, http.StatusForbidden, w.Code)

			var result authz.Result
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
			assert.False(t, result.Allowed)
			assert.Equal(t, tt.wantReason, result.Reason)
		})
	}
}

func TestHandleAuthz_BadMetadata(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{
			name:    "missing original uri",
			headers: map[string]string{OriginalMethodHeader: "GET"},
		},
		{
			name:    "missing original method",
			headers: map[string]string{OriginalURIHeader: "/api/users"},
		},
		{
			name: "unsupported method",
			headers: map[string]string{
				OriginalURIHeader:    "/api/users",
				OriginalMethodHeader: "TRACE",
			},
		},
		{
			name: "malformed uri",
			headers: map[string]string{
				OriginalURIHeader:    "://bad",
				OriginalMethodHeader: "GET",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t)
			w := doAuthz(s, tt.headers)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleAuthz_DomainFromOriginalHost(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	_, err := st.SaveRoute(ctx, model.NewRoute("/api/users", "api.example.com", "users",
		map[model.HTTPMethod]model.MethodPolicy{model.MethodGet: {AuthRequired: false}}))
	require.NoError(t, err)

	nonces := auth.NewMemoryNonceStore(0)
	t.Cleanup(func() { _ = nonces.Close() })
	engine := authz.NewEngine(routing.NewMatcher(st), auth.NewVerifier(st, nonces), st, authz.NewPermissionChecker(st))
	s := New(nil, engine)

	// Matching host, with a forwarded port to strip.
	w := doAuthz(s, map[string]string{
		OriginalURIHeader:    "/api/users",
		OriginalMethodHeader: "GET",
		OriginalHostHeader:   "api.example.com:443",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// A different host does not match the exact-domain route.
	w = doAuthz(s, map[string]string{
		OriginalURIHeader:    "/api/users",
		OriginalMethodHeader: "GET",
		OriginalHostHeader:   "other.net",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStripPort(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{name: "bare host", host: "api.example.com", want: "api.example.com"},
		{name: "host with port", host: "api.example.com:443", want: "api.example.com"},
		{name: "ipv4 with port", host: "10.0.0.1:8080", want: "10.0.0.1"},
		{name: "ipv6 with port", host: "[::1]:8080", want: "::1"},
		{name: "bare ipv6 literal", host: "[2001:db8::1]", want: "2001:db8::1"},
		{name: "empty", host: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripPort(tt.host))
		})
	}
}

func TestHandleAuthz_OversizedBodyRejected(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := bytes.Repeat([]byte("a"), maxAuthzBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/authz", bytes.NewReader(body))
	req.Header.Set(OriginalURIHeader, "/api/users")
	req.Header.Set(OriginalMethodHeader, "POST")

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// brokenRoutes makes the matcher fail to exercise the fail-closed path.
type brokenRoutes struct {
	*store.MemoryStore
}

func (brokenRoutes) AllRoutes(context.Context) ([]*model.Route, error) {
	return nil, errors.New("connection refused")
}

func TestHandleAuthz_InternalErrorFailsClosed(t *testing.T) {
	st := store.NewMemoryStore()
	nonces := auth.NewMemoryNonceStore(0)
	t.Cleanup(func() { _ = nonces.Close() })

	engine := authz.NewEngine(
		routing.NewMatcher(brokenRoutes{st}),
		auth.NewVerifier(st, nonces),
		st,
		authz.NewPermissionChecker(st),
	)
	s := New(nil, engine)

	w := doAuthz(s, map[string]string{
		OriginalURIHeader:    "/api/users",
		OriginalMethodHeader: "GET",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// failingPinger simulates an unreachable backing store.
type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHandleReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		st := store.NewMemoryStore()
		s, _, _ := newTestServer(t, WithStorePinger(st))

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unready when store is down", func(t *testing.T) {
		s, _, _ := newTestServer(t, WithStorePinger(failingPinger{}))

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleUsage(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	clientID, err := st.SaveClient(ctx, model.NewClient("service-a", "key-a", ""))
	require.NoError(t, err)
	require.NoError(t, st.SaveRateLimit(ctx, model.NewRateLimit(clientID, 100)))

	counter := ratelimit.NewMemoryCounter()
	limiter := ratelimit.NewLimiter(st, counter)

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, clientID)
		require.NoError(t, err)
	}

	nonces := auth.NewMemoryNonceStore(0)
	t.Cleanup(func() { _ = nonces.Close() })
	engine := authz.NewEngine(routing.NewMatcher(st), auth.NewVerifier(st, nonces), st, authz.NewPermissionChecker(st))
	s := New(nil, engine, WithUsageLimiter(limiter))

	req := httptest.NewRequest(http.MethodGet, "/usage/"+clientID, nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var usage ratelimit.Usage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, int64(3), usage.Requests)
	assert.Equal(t, int64(100), usage.Limit)
	assert.Equal(t, int64(97), usage.Remaining)
}

func TestRequestIDMiddleware(t *testing.T) {
	s, _, _ := newTestServer(t)

	t.Run("generates id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	})

	t.Run("echoes caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "caller-id-1")
		w := httptest.NewRecorder()
		s.Engine().ServeHTTP(w, req)
		assert.Equal(t, "caller-id-1", w.Header().Get(RequestIDHeader))
	})
}

func TestHandleAuthz_BodyForwardedToVerifier(t *testing.T) {
	// A signed request whose body is verified end to end.
	st := store.NewMemoryStore()
	ctx := context.Background()

	routeID, err := st.SaveRoute(ctx, model.NewRoute("/api/orders", "*", "orders",
		map[model.HTTPMethod]model.MethodPolicy{
			model.MethodPost: {AuthRequired: true, AuthType: model.AuthTypeHMAC},
		}))
	require.NoError(t, err)

	clientID, err := st.SaveClient(ctx, model.NewClient("service-b", "", "shared-secret"))
	require.NoError(t, err)
	_, err = st.SavePermission(ctx, model.NewPermission(clientID, routeID, []model.HTTPMethod{model.MethodPost}))
	require.NoError(t, err)

	nonces := auth.NewMemoryNonceStore(0)
	t.Cleanup(func() { _ = nonces.Close() })
	engine := authz.NewEngine(routing.NewMatcher(st), auth.NewVerifier(st, nonces), st, authz.NewPermissionChecker(st))
	s := New(nil, engine)

	body := `{"sku":"x"}`

	req := httptest.NewRequest(http.MethodPost, "/authz", strings.NewReader(body))
	req.Header.Set(OriginalURIHeader, "/api/orders")
	req.Header.Set(OriginalMethodHeader, "POST")
	req.Header.Set("Authorization", buildSignedHeader(t, clientID, "shared-secret", "POST", "/api/orders", body))
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
