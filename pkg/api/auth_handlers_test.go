package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/axpert"
	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/identity"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/session"
)

// fakeIdentity is a minimal stand-in for the hosted identity service:
// one account, PostgREST-ish lookups, a password grant that accepts a
// single password.
type fakeIdentity struct {
	account  *auth.Account
	password string
}

func (f *fakeIdentity) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/auth/v1/token":
			var body struct{ Email, Password string }
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if f.account == nil || body.Email != f.account.Email || body.Password != f.password {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "sb-access",
				"refresh_token": "sb-refresh",
				"expires_in":    3600,
			})
		case strings.HasPrefix(r.URL.Path, "/rest/v1/usuarios"):
			assert.Equal(t, "svc", r.Header.Get("apikey"), "lookups use the service key")
			username := strings.TrimPrefix(r.URL.Query().Get("username"), "eq.")
			id := strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
			if f.account != nil && (username == f.account.Username || id == f.account.ID) {
				json.NewEncoder(w).Encode([]auth.Account{*f.account})
				return
			}
			json.NewEncoder(w).Encode([]auth.Account{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newAuthFixture(t *testing.T, fake *fakeIdentity) *AuthHandlers {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	sessions := session.NewManager(false)
	idc := identity.NewClient(config.SupabaseConfig{
		URL: srv.URL, AnonKey: "anon", ServiceKey: "svc",
	}, logger, nil)
	provider := axpert.NewClient(config.AxpertConfig{}, logger, nil)
	return NewAuthHandlers(idc, provider, sessions, logger, nil)
}

func postLogin(t *testing.T, h *AuthHandlers, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	return rec
}

func TestLoginRejectsEmptyFields(t *testing.T) {
	h := newAuthFixture(t, &fakeIdentity{})

	for _, body := range []string{
		`{}`,
		`{"username":"maria"}`,
		`{"password":"secret"}`,
		`{"username":"","password":""}`,
	} {
		rec := postLogin(t, h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestLoginGeneric401ForUnknownUserAndWrongPassword(t *testing.T) {
	h := newAuthFixture(t, &fakeIdentity{
		account: &auth.Account{
			ID: "u1", Username: "maria", Email: "maria@example.com", Rol: auth.RoleAdmin, IsActive: true,
		},
		password: "correct-horse",
	})

	unknown := postLogin(t, h, `{"username":"nadie","password":"whatever"}`)
	wrongPw := postLogin(t, h, `{"username":"maria","password":"wrong"}`)

	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, http.StatusUnauthorized, wrongPw.Code)

	// Identical bodies: the endpoint must not reveal which usernames exist.
	assert.JSONEq(t, unknown.Body.String(), wrongPw.Body.String())
	assert.Contains(t, unknown.Body.String(), auth.CodeInvalidCredentials)
}

func TestLoginSuccessIssuesCookies(t *testing.T) {
	h := newAuthFixture(t, &fakeIdentity{
		account: &auth.Account{
			ID: "u1", Username: "maria", Email: "maria@example.com",
			Nombre: "María", Rol: auth.RoleSuperadmin, IsActive: true,
		},
		password: "correct-horse",
	})

	rec := postLogin(t, h, `{"username":"maria","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	issued := map[string]string{}
	for _, c := range rec.Result().Cookies() {
		issued[c.Name] = c.Value
	}
	assert.Equal(t, "sb-access", issued[session.CookieAuthToken])
	assert.Equal(t, "sb-access", issued[session.CookieSBAccess])
	assert.Equal(t, "sb-refresh", issued[session.CookieRefreshToken])
	assert.Contains(t, issued, session.CookieUserData)

	var body struct {
		Success bool           `json:"success"`
		User    *auth.UserData `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.NotNil(t, body.User)
	assert.Equal(t, "u1", body.User.ID)
	assert.Equal(t, auth.RoleSuperadmin, body.User.Rol)
}

func TestLogoutThenSessionIsAnonymous(t *testing.T) {
	h := newAuthFixture(t, &fakeIdentity{
		account: &auth.Account{
			ID: "u1", Username: "maria", Email: "maria@example.com", IsActive: true,
		},
		password: "correct-horse",
	})

	login := postLogin(t, h, `{"username":"maria","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, login.Code)

	logoutRec := httptest.NewRecorder()
	h.Logout(logoutRec, httptest.NewRequest("POST", "/api/auth/logout", nil))
	require.Equal(t, http.StatusOK, logoutRec.Code)

	// The browser drops the expired cookies, so the next introspection
	// carries none.
	jar := map[string]*http.Cookie{}
	for _, c := range login.Result().Cookies() {
		jar[c.Name] = c
	}
	for _, c := range logoutRec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(jar, c.Name)
		}
	}

	req := httptest.NewRequest("GET", "/api/auth/session", nil)
	for _, c := range jar {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.GetSession(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view session.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.False(t, view.IsAuthenticated)
}

func TestGetSessionMalformedCookie(t *testing.T) {
	h := newAuthFixture(t, &fakeIdentity{})

	req := httptest.NewRequest("GET", "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieUserData, Value: "not-json"})

	rec := httptest.NewRecorder()
	h.GetSession(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeInvalidSession)
	assert.Contains(t, rec.Body.String(), `"isAuthenticated":false`)
}

func TestCheckStatus(t *testing.T) {
	h := newAuthFixture(t, &fakeIdentity{
		account: &auth.Account{ID: "u1", Username: "maria", PendingApproval: true},
	})

	t.Run("missing userId", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.CheckStatus(rec, httptest.NewRequest("GET", "/api/auth/check-status", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.CheckStatus(rec, httptest.NewRequest("GET", "/api/auth/check-status?userId=nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("pending account", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.CheckStatus(rec, httptest.NewRequest("GET", "/api/auth/check-status?userId=u1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			IsActive        bool `json:"is_active"`
			PendingApproval bool `json:"pending_approval"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.IsActive)
		assert.True(t, body.PendingApproval)
	})
}
