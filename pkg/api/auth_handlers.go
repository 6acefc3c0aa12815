package api

import (
	"net/http"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/axpert"
	"github.com/andina-labs/almacen/pkg/httputil"
	"github.com/andina-labs/almacen/pkg/identity"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/session"
)

// AuthHandlers serves credential login, logout, session introspection
// and account-status checks.
type AuthHandlers struct {
	identity *identity.Client
	provider *axpert.Client
	sessions *session.Manager
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthHandlers creates the authentication handlers.
func NewAuthHandlers(idc *identity.Client, provider *axpert.Client, sessions *session.Manager,
	logger *observability.Logger, metrics *observability.Metrics) *AuthHandlers {
	return &AuthHandlers{
		identity: idc,
		provider: provider,
		sessions: sessions,
		logger:   logger,
		metrics:  metrics,
	}
}

// loginRequest is the credential login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a username/password pair and issues the session
// cookie set.
//
// The 401 is identical whether the username does not exist or the
// password is wrong: this endpoint must not work as a username oracle.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.countLogin("invalid_request")
		httputil.WriteError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		h.countLogin("invalid_request")
		httputil.WriteValidationError(w, "username and password are required")
		return
	}

	ctx := r.Context()

	account, err := h.identity.LookupByUsername(ctx, req.Username)
	if err != nil {
		if gw := auth.AsError(err); gw != nil && gw.Kind == auth.KindNotFound {
			h.countLogin("invalid_credentials")
			httputil.WriteError(w, auth.ErrInvalidCredentials())
			return
		}
		h.countLogin("upstream_error")
		httputil.WriteError(w, err)
		return
	}

	tokens, err := h.identity.PasswordGrant(ctx, account.Email, req.Password)
	if err != nil {
		// Wrong password and provider-side failures collapse into the
		// same generic response; the detail stays in the server log.
		h.logger.FromContext(ctx).WithError(err).Debug("password grant failed")
		h.countLogin("invalid_credentials")
		httputil.WriteError(w, auth.ErrInvalidCredentials())
		return
	}

	sess := &auth.Session{
		Tokens: *tokens,
		User:   auth.UserDataFromAccount(account),
	}

	// Profile enrichment is display-only; a provider outage must not
	// fail a login that already succeeded.
	if account.Linked() {
		if profile, err := h.provider.Profile(ctx, account.AuthProviderUserID); err == nil {
			sess.Profile = profile
		} else {
			h.logger.FromContext(ctx).WithError(err).Debug("profile enrichment skipped")
		}
	}

	if err := h.sessions.Issue(w, sess); err != nil {
		h.countLogin("error")
		httputil.WriteError(w, auth.NewUpstream("could not issue session", err))
		return
	}

	h.logger.FromContext(ctx).
		WithField("username", account.Username).
		WithField("rol", string(account.Rol)).
		Info("login succeeded")
	h.countLogin("success")

	httputil.WriteSuccess(w, map[string]interface{}{
		"success": true,
		"user":    sess.User,
	})
}

// Logout clears every session cookie. Always succeeds, even without a
// prior session.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	httputil.WriteSuccess(w, map[string]interface{}{"success": true})
}

// GetSession introspects the cookie set. A malformed identity cookie is
// reported as 401 INVALID_SESSION so the client can tell corruption
// apart from never having logged in.
func (h *AuthHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Introspect(r)
	if err != nil {
		h.countCheck("invalid")
		gw := auth.AsError(err)
		if gw == nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, gw.HTTPStatus(), map[string]interface{}{
			"isAuthenticated": false,
			"error":           gw.Message,
			"code":            gw.Code,
		})
		return
	}

	if view.IsAuthenticated {
		h.countCheck("authenticated")
	} else {
		h.countCheck("anonymous")
	}
	httputil.WriteSuccess(w, view)
}

// CheckStatus returns the activation flags for an account id. Used by
// the registration screen to poll for approval.
func (h *AuthHandlers) CheckStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		httputil.WriteValidationError(w, "userId query parameter is required")
		return
	}

	isActive, pendingApproval, err := h.identity.AccountStatus(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"is_active":        isActive,
		"pending_approval": pendingApproval,
	})
}

func (h *AuthHandlers) countLogin(result string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(result).Inc()
	}
}

func (h *AuthHandlers) countCheck(result string) {
	if h.metrics != nil {
		h.metrics.SessionChecksTotal.WithLabelValues(result).Inc()
	}
}
