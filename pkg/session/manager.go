// Package session owns the browser-held session state. A session is not
// a stored entity: it is exactly the cookie set written by Issue and read
// back by Introspect. Cookie JSON crosses a trust boundary, so every read
// rejects rather than coerces on a shape mismatch.
package session

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/andina-labs/almacen/pkg/auth"
)

// Cookie names. The sb-* pair are the legacy names kept in sync with the
// current ones so older clients keep working.
const (
	CookieAuthToken     = "authToken"
	CookieSBAccess      = "sb-access-token"
	CookieRefreshToken  = "refreshToken"
	CookieSBRefresh     = "sb-refresh-token"
	CookieUserData      = "userData"
	CookieAxpertProfile = "axpert_profile"
	CookieAxpertAvatar  = "axpert_avatar_url"
	CookiePendingUser   = "pending_user_info"
	CookieOAuthVerifier = "oauth_code_verifier"
	CookieOAuthState    = "oauth_state"
)

// allCookieNames is the exhaustive purge list for Clear. Includes every
// name ever used so logout works even for cookies a session never set.
var allCookieNames = []string{
	CookieAuthToken,
	CookieSBAccess,
	CookieRefreshToken,
	CookieSBRefresh,
	CookieUserData,
	CookieAxpertProfile,
	CookieAxpertAvatar,
	CookiePendingUser,
	CookieOAuthVerifier,
	CookieOAuthState,
}

const (
	accessTTL  = 4 * time.Hour
	refreshTTL = 30 * 24 * time.Hour
	oauthTTL   = 10 * time.Minute
)

// PendingUser is the partial-registration payload surfaced to a user whose
// account is still awaiting approval.
type PendingUser struct {
	ExternalID string `json:"external_id"`
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
	FullName   string `json:"full_name,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// View is the result of session introspection.
type View struct {
	IsAuthenticated bool                `json:"isAuthenticated"`
	User            *auth.UserData      `json:"user,omitempty"`
	PendingUser     *PendingUser        `json:"pendingUser,omitempty"`
	AxpertProfile   *auth.AxpertProfile `json:"axpertProfile,omitempty"`
}

// Manager serializes sessions into cookies with fixed security attributes.
type Manager struct {
	secure bool
}

// NewManager creates a session manager. secure controls the Secure cookie
// attribute and is true in production.
func NewManager(secure bool) *Manager {
	return &Manager{secure: secure}
}

// Issue writes the full cookie set for an authenticated session. The
// user-identity and access-token cookies are always set together.
func (m *Manager) Issue(w http.ResponseWriter, s *auth.Session) error {
	userJSON, err := json.Marshal(s.User)
	if err != nil {
		return err
	}

	m.set(w, CookieAuthToken, s.Tokens.AccessToken, accessTTL)
	m.set(w, CookieSBAccess, s.Tokens.AccessToken, accessTTL)
	m.setJSON(w, CookieUserData, userJSON, accessTTL)

	if s.Tokens.RefreshToken != "" {
		m.set(w, CookieRefreshToken, s.Tokens.RefreshToken, refreshTTL)
		m.set(w, CookieSBRefresh, s.Tokens.RefreshToken, refreshTTL)
	}

	if s.Profile != nil {
		if profileJSON, err := json.Marshal(s.Profile); err == nil {
			m.setJSON(w, CookieAxpertProfile, profileJSON, accessTTL)
		}
		if s.Profile.AvatarURL != "" {
			m.set(w, CookieAxpertAvatar, s.Profile.AvatarURL, accessTTL)
		}
	}

	return nil
}

// SetPendingUser writes the partial-registration cookie for an account
// awaiting approval. No session cookies are set alongside it.
func (m *Manager) SetPendingUser(w http.ResponseWriter, p *PendingUser) error {
	pendingJSON, err := json.Marshal(p)
	if err != nil {
		return err
	}
	m.setJSON(w, CookiePendingUser, pendingJSON, accessTTL)
	return nil
}

// SetOAuthCookies writes the short-lived PKCE verifier and state cookies
// consumed by the provider callback.
func (m *Manager) SetOAuthCookies(w http.ResponseWriter, state, verifier string) {
	m.set(w, CookieOAuthState, state, oauthTTL)
	m.set(w, CookieOAuthVerifier, verifier, oauthTTL)
}

// ClearOAuthCookies removes the flow cookies once the callback resolves.
func (m *Manager) ClearOAuthCookies(w http.ResponseWriter) {
	m.delete(w, CookieOAuthState)
	m.delete(w, CookieOAuthVerifier)
}

// Clear deletes every session-related cookie name used anywhere in the
// system. Idempotent: clearing cookies that were never set is harmless.
func (m *Manager) Clear(w http.ResponseWriter) {
	for _, name := range allCookieNames {
		m.delete(w, name)
	}
}

// Introspect reads the cookie set back into a View.
//
// A missing user-identity cookie with a pending-user cookie present is a
// distinct "registration awaiting completion" state. A user-identity
// cookie that fails to parse returns ErrInvalidSession so the client can
// tell corruption apart from anonymity.
func (m *Manager) Introspect(r *http.Request) (*View, error) {
	userCookie, err := r.Cookie(CookieUserData)
	if err != nil {
		view := &View{IsAuthenticated: false}
		if pending := m.readPendingUser(r); pending != nil {
			view.PendingUser = pending
		}
		return view, nil
	}

	var user auth.UserData
	if err := decodeJSONCookie(userCookie.Value, &user); err != nil || !user.Valid() {
		return &View{IsAuthenticated: false}, auth.ErrInvalidSession()
	}

	view := &View{IsAuthenticated: true, User: &user}

	// Profile enrichment tolerates its own parse failures without
	// invalidating the session.
	if profileCookie, err := r.Cookie(CookieAxpertProfile); err == nil {
		var profile auth.AxpertProfile
		if err := decodeJSONCookie(profileCookie.Value, &profile); err == nil {
			view.AxpertProfile = &profile
		}
	}

	return view, nil
}

// AccessToken returns the browser-held access token, if any.
func (m *Manager) AccessToken(r *http.Request) string {
	if c, err := r.Cookie(CookieAuthToken); err == nil && c.Value != "" {
		return c.Value
	}
	if c, err := r.Cookie(CookieSBAccess); err == nil {
		return c.Value
	}
	return ""
}

// OAuthCookies returns the state and verifier written by SetOAuthCookies.
func (m *Manager) OAuthCookies(r *http.Request) (state, verifier string) {
	if c, err := r.Cookie(CookieOAuthState); err == nil {
		state = c.Value
	}
	if c, err := r.Cookie(CookieOAuthVerifier); err == nil {
		verifier = c.Value
	}
	return state, verifier
}

func (m *Manager) readPendingUser(r *http.Request) *PendingUser {
	c, err := r.Cookie(CookiePendingUser)
	if err != nil {
		return nil
	}
	var pending PendingUser
	if err := decodeJSONCookie(c.Value, &pending); err != nil || pending.ExternalID == "" {
		return nil
	}
	return &pending
}

// decodeJSONCookie reverses setJSON. Both the escaping and the JSON must
// parse; anything else is a hard failure, never a default value.
func decodeJSONCookie(value string, dst interface{}) error {
	raw, err := url.QueryUnescape(value)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dst)
}

// setJSON URL-escapes a JSON payload before storing it: raw JSON contains
// characters that are invalid in a cookie value.
func (m *Manager) setJSON(w http.ResponseWriter, name string, payload []byte, ttl time.Duration) {
	m.set(w, name, url.QueryEscape(string(payload)), ttl)
}

func (m *Manager) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func (m *Manager) delete(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
