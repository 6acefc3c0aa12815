package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/contextkeys"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/session"
)

type gatewayFixture struct {
	gateway  *Gateway
	sessions *session.Manager
	calls    *atomic.Int64
	lastReq  *http.Request
}

func newGatewayFixture(t *testing.T, upstream http.HandlerFunc) *gatewayFixture {
	t.Helper()

	fx := &gatewayFixture{
		sessions: session.NewManager(false),
		calls:    &atomic.Int64{},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.calls.Add(1)
		fx.lastReq = r
		if upstream != nil {
			upstream(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	fx.gateway = NewGateway(config.SupabaseConfig{
		URL: srv.URL, AnonKey: "anon", ServiceKey: "service-key",
	}, DefaultPolicy(), fx.sessions, logger, nil)
	return fx
}

func (fx *gatewayFixture) request(t *testing.T, method, target string, user *auth.UserData) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, "/api/supabase-proxy?target="+url.QueryEscape(target), nil)
	if user == nil {
		return req
	}

	rec := httptest.NewRecorder()
	require.NoError(t, fx.sessions.Issue(rec, &auth.Session{
		Tokens: auth.TokenPair{AccessToken: "tok"},
		User:   user,
	}))
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func linkedUser(role auth.Role) *auth.UserData {
	return &auth.UserData{ID: "u1", Username: "maria", Rol: role, AuthProvider: "axpert"}
}

func TestGatewayRejectsAnonymous(t *testing.T) {
	fx := newGatewayFixture(t, nil)

	rec := httptest.NewRecorder()
	fx.gateway.ServeHTTP(rec, fx.request(t, "GET", "/rest/v1/articulos", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(0), fx.calls.Load(), "no upstream call on denial")
}

func TestGatewayRejectsInvalidSession(t *testing.T) {
	fx := newGatewayFixture(t, nil)

	req := fx.request(t, "GET", "/rest/v1/articulos", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieUserData, Value: "garbage"})

	rec := httptest.NewRecorder()
	fx.gateway.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeInvalidSession)
	assert.Equal(t, int64(0), fx.calls.Load())
}

func TestGatewayRejectsUnlinkedAccount(t *testing.T) {
	fx := newGatewayFixture(t, nil)

	user := &auth.UserData{ID: "u1", Rol: auth.RoleSuperadmin} // no provider
	rec := httptest.NewRecorder()
	fx.gateway.ServeHTTP(rec, fx.request(t, "GET", "/rest/v1/articulos", user))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int64(0), fx.calls.Load())
}

func TestGatewayRejectsBadTargets(t *testing.T) {
	cases := []struct {
		name   string
		method string
		target string
		status int
	}{
		{"missing target", "GET", "", http.StatusBadRequest},
		{"outside rest root", "GET", "/auth/v1/token", http.StatusForbidden},
		{"absolute url", "GET", "https://evil.example/rest/v1/articulos", http.StatusForbidden},
		{"unlisted table", "GET", "/rest/v1/secrets", http.StatusForbidden},
		{"unlisted table delete", "DELETE", "/rest/v1/secrets", http.StatusForbidden},
		{"unlisted table post", "POST", "/rest/v1/secrets", http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newGatewayFixture(t, nil)
			rec := httptest.NewRecorder()
			fx.gateway.ServeHTTP(rec, fx.request(t, tc.method, tc.target, linkedUser(auth.RoleSuperadmin)))

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, int64(0), fx.calls.Load(), "no upstream call on denial")
		})
	}
}

func TestGatewayRejectsDotSegmentTargets(t *testing.T) {
	cases := []struct {
		name   string
		target string
	}{
		{"parent traversal out of rest root", "/rest/v1/articulos/../../../auth/v1/admin/users"},
		{"parent segment to sibling table", "/rest/v1/articulos/../usuarios"},
		{"current dir segment", "/rest/v1/articulos/./detalle"},
		{"empty segment", "/rest/v1//articulos"},
		{"trailing parent segment", "/rest/v1/articulos/.."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newGatewayFixture(t, nil)
			rec := httptest.NewRecorder()
			fx.gateway.ServeHTTP(rec, fx.request(t, "GET", tc.target, linkedUser(auth.RoleSuperadmin)))

			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, int64(0), fx.calls.Load(), "no upstream call on denial")
		})
	}
}

func TestGatewayRejectsPercentEncodedDotSegments(t *testing.T) {
	fx := newGatewayFixture(t, nil)

	// %2e decodes to "." in the query value; the parsed target path must
	// still come out canonical.
	req := httptest.NewRequest("GET",
		"/api/supabase-proxy?target=/rest/v1/articulos/%2e%2e/%2e%2e/auth/v1/admin/users", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, fx.sessions.Issue(rec, &auth.Session{
		Tokens: auth.TokenPair{AccessToken: "tok"},
		User:   linkedUser(auth.RoleSuperadmin),
	}))
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	out := httptest.NewRecorder()
	fx.gateway.ServeHTTP(out, req)

	assert.Equal(t, http.StatusForbidden, out.Code)
	assert.Equal(t, int64(0), fx.calls.Load(), "no upstream call on denial")
}

func TestGatewayUsesMiddlewareResolvedView(t *testing.T) {
	fx := newGatewayFixture(t, nil)

	view := &session.View{IsAuthenticated: true, User: linkedUser(auth.RoleUsuario)}
	req := httptest.NewRequest("GET", "/api/supabase-proxy?target="+url.QueryEscape("/rest/v1/articulos"), nil)
	req = req.WithContext(contextkeys.WithSession(req.Context(), view))

	rec := httptest.NewRecorder()
	fx.gateway.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), fx.calls.Load(), "context view authorizes without re-reading cookies")
}

func TestGatewayRoleWriteMatrix(t *testing.T) {
	t.Run("usuario write denied, read allowed on same prefix", func(t *testing.T) {
		fx := newGatewayFixture(t, nil)

		rec := httptest.NewRecorder()
		fx.gateway.ServeHTTP(rec, fx.request(t, "POST", "/rest/v1/articulos", linkedUser(auth.RoleUsuario)))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, int64(0), fx.calls.Load())

		rec = httptest.NewRecorder()
		fx.gateway.ServeHTTP(rec, fx.request(t, "GET", "/rest/v1/articulos", linkedUser(auth.RoleUsuario)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), fx.calls.Load())
	})

	t.Run("admin write forwarded", func(t *testing.T) {
		fx := newGatewayFixture(t, nil)
		rec := httptest.NewRecorder()
		fx.gateway.ServeHTTP(rec, fx.request(t, "POST", "/rest/v1/articulos", linkedUser(auth.RoleAdmin)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), fx.calls.Load())
	})
}

func TestGatewayForwardsWithServiceKeyAndStripsCookies(t *testing.T) {
	fx := newGatewayFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Range", "0-1/2")
		w.WriteHeader(http.StatusPartialContent)
		json.NewEncoder(w).Encode([]map[string]string{{"id": "a1"}})
	})

	req := fx.request(t, "GET", "/rest/v1/articulos?select=id&limit=2", linkedUser(auth.RoleUsuario))
	req.Header.Set("Prefer", "count=exact")
	req.Header.Set("X-Custom", "should-not-cross")

	rec := httptest.NewRecorder()
	fx.gateway.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code, "upstream status passes through verbatim")
	assert.Equal(t, "0-1/2", rec.Header().Get("Content-Range"))

	up := fx.lastReq
	require.NotNil(t, up)
	assert.Equal(t, "/rest/v1/articulos", up.URL.Path)
	assert.Equal(t, "id", up.URL.Query().Get("select"))
	assert.Equal(t, "service-key", up.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", up.Header.Get("Authorization"))
	assert.Equal(t, "count=exact", up.Header.Get("Prefer"))
	assert.Empty(t, up.Header.Get("X-Custom"), "unlisted headers must not cross")
	assert.Empty(t, up.Header.Get("Cookie"), "cookies must never reach the upstream")
}
