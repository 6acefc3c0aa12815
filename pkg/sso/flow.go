package sso

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/axpert"
	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/httputil"
	"github.com/andina-labs/almacen/pkg/identity"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/session"
)

// CallbackPath is the fixed gateway path registered with the provider.
const CallbackPath = "/api/auth/sso/callback"

// Post-callback browser destinations. The gateway serves no UI; these
// land on the web app with enough query context to render the outcome.
const (
	redirectLoggedIn = "/"
	redirectPending  = "/login?status=pending"
	redirectLinked   = "/configuracion?linked=axpert"
	redirectDenied   = "/login?error=access_denied"
)

// Flow drives the authorization-code exchange end to end.
type Flow struct {
	cfg      config.AxpertConfig
	identity *identity.Client
	provider *axpert.Client
	sessions *session.Manager
	store    StateStore
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewFlow creates the OAuth flow handler.
func NewFlow(cfg config.AxpertConfig, idc *identity.Client, provider *axpert.Client,
	sessions *session.Manager, store StateStore,
	logger *observability.Logger, metrics *observability.Metrics) *Flow {
	return &Flow{
		cfg:      cfg,
		identity: idc,
		provider: provider,
		sessions: sessions,
		store:    store,
		logger:   logger,
		metrics:  metrics,
	}
}

// BeginAuthorization starts the provider flow and redirects the browser
// to the authorization endpoint with a PKCE challenge.
//
// Link mode additionally requires a live session: the state payload pins
// the user id so the callback can only link the account that started it.
func (f *Flow) BeginAuthorization(w http.ResponseWriter, r *http.Request, mode Mode) {
	if err := f.cfg.ValidateOAuth(); err != nil {
		f.count("begin", mode, "config_error")
		httputil.WriteError(w, err)
		return
	}

	var originalUserID string
	if mode == ModeLink {
		view, err := f.sessions.Introspect(r)
		if err != nil || !view.IsAuthenticated {
			f.count("begin", mode, "unauthenticated")
			httputil.WriteError(w, auth.ErrNotAuthenticated())
			return
		}
		originalUserID = view.User.ID
	}

	verifier := oauth2.GenerateVerifier()
	payload := &StatePayload{
		Timestamp:      time.Now().Unix(),
		Nonce:          uuid.NewString(),
		Mode:           mode,
		OriginalUserID: originalUserID,
	}
	state, err := EncodeState(payload)
	if err != nil {
		f.count("begin", mode, "error")
		httputil.WriteError(w, err)
		return
	}

	rec := &PendingAuthorization{
		Nonce:          payload.Nonce,
		Mode:           mode,
		OriginalUserID: originalUserID,
		Verifier:       verifier,
		CreatedAt:      time.Now().UTC(),
	}
	if err := f.store.Put(r.Context(), rec); err != nil {
		f.count("begin", mode, "error")
		httputil.WriteError(w, auth.NewUpstream("could not start authorization", err))
		return
	}

	f.sessions.SetOAuthCookies(w, state, verifier)

	authURL := f.oauthConfig(r).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	f.count("begin", mode, "ok")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback finishes the flow: validates state against both the
// cookie and the pending-authorization record, exchanges the code with
// the stored verifier, resolves the external identity and routes it to
// login or account linking.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if provErr := q.Get("error"); provErr != "" {
		f.logger.WithField("provider_error", provErr).Info("authorization denied at provider")
		f.sessions.ClearOAuthCookies(w)
		f.count("callback", "", "denied")
		http.Redirect(w, r, redirectDenied, http.StatusFound)
		return
	}

	stateParam := q.Get("state")
	code := q.Get("code")
	cookieState, cookieVerifier := f.sessions.OAuthCookies(r)

	if code == "" || stateParam == "" || cookieState == "" || stateParam != cookieState {
		f.count("callback", "", "invalid_state")
		httputil.WriteError(w, auth.ErrInvalidState("state parameter is not valid"))
		return
	}

	payload, err := DecodeState(stateParam)
	if err != nil {
		f.count("callback", "", "invalid_state")
		httputil.WriteError(w, err)
		return
	}

	rec, err := f.store.Consume(ctx, payload.Nonce)
	if err != nil {
		f.count("callback", payload.Mode, "invalid_state")
		httputil.WriteError(w, auth.ErrInvalidState("authorization expired or already used"))
		return
	}
	if rec.Verifier == "" || rec.Verifier != cookieVerifier || rec.Mode != payload.Mode {
		f.count("callback", payload.Mode, "invalid_state")
		httputil.WriteError(w, auth.ErrInvalidState("authorization does not match this browser"))
		return
	}

	// The flow cookies are single-shot regardless of how the rest of
	// the callback goes.
	f.sessions.ClearOAuthCookies(w)

	token, err := f.oauthConfig(r).Exchange(ctx, code, oauth2.VerifierOption(rec.Verifier))
	if err != nil {
		f.count("callback", payload.Mode, "exchange_failed")
		httputil.WriteError(w, auth.NewUpstream("code exchange failed", err))
		return
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok {
		if err := f.provider.VerifyIDToken(ctx, rawIDToken); err != nil {
			f.count("callback", payload.Mode, "invalid_id_token")
			httputil.WriteError(w, auth.ErrInvalidState("identity token verification failed").WithCause(err))
			return
		}
	}

	profile, err := f.provider.UserInfo(ctx, token.AccessToken)
	if err != nil {
		f.count("callback", payload.Mode, "userinfo_failed")
		httputil.WriteError(w, auth.NewUpstream("could not resolve external identity", err))
		return
	}

	switch payload.Mode {
	case ModeLink:
		f.completeLink(ctx, w, r, payload, profile)
	default:
		f.completeLogin(ctx, w, r, token, profile)
	}
}

// completeLogin signs in an existing linked account or provisions a
// pending one. Pending accounts never receive session cookies, only the
// partial-registration cookie.
func (f *Flow) completeLogin(ctx context.Context, w http.ResponseWriter, r *http.Request,
	token *oauth2.Token, profile *auth.AxpertProfile) {

	account, err := f.identity.LookupByProviderID(ctx, axpert.ProviderName, profile.ExternalID)
	if err != nil {
		if gw := auth.AsError(err); gw != nil && gw.Kind == auth.KindNotFound {
			f.provisionPending(ctx, w, r, profile)
			return
		}
		f.count("callback", ModeLogin, "error")
		httputil.WriteError(w, err)
		return
	}

	if !account.IsActive || account.PendingApproval {
		f.setPendingCookie(w, profile)
		f.count("callback", ModeLogin, "pending")
		http.Redirect(w, r, redirectPending, http.StatusFound)
		return
	}

	sess := &auth.Session{
		Tokens: auth.TokenPair{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
		},
		User:    auth.UserDataFromAccount(account),
		Profile: profile,
	}
	if err := f.sessions.Issue(w, sess); err != nil {
		f.count("callback", ModeLogin, "error")
		httputil.WriteError(w, auth.NewUpstream("could not issue session", err))
		return
	}

	f.count("callback", ModeLogin, "ok")
	http.Redirect(w, r, redirectLoggedIn, http.StatusFound)
}

// provisionPending creates an inactive account awaiting superadmin
// approval from the external profile.
func (f *Flow) provisionPending(ctx context.Context, w http.ResponseWriter, r *http.Request, profile *auth.AxpertProfile) {
	nombre, apellido := splitFullName(profile.FullName)
	account := &auth.Account{
		Username:           profile.Username,
		Email:              profile.Email,
		Nombre:             nombre,
		Apellido:           apellido,
		Rol:                auth.RoleUsuario,
		IsActive:           false,
		PendingApproval:    true,
		AuthProvider:       axpert.ProviderName,
		AuthProviderUserID: profile.ExternalID,
		AvatarURL:          profile.AvatarURL,
	}

	if _, err := f.identity.CreateAccount(ctx, account); err != nil {
		f.count("callback", ModeLogin, "error")
		httputil.WriteError(w, err)
		return
	}

	f.setPendingCookie(w, profile)
	f.count("callback", ModeLogin, "provisioned")
	http.Redirect(w, r, redirectPending, http.StatusFound)
}

// completeLink attaches the external identity to the account that began
// the flow. The current session must belong to that same account; no new
// session is issued.
func (f *Flow) completeLink(ctx context.Context, w http.ResponseWriter, r *http.Request,
	payload *StatePayload, profile *auth.AxpertProfile) {

	view, err := f.sessions.Introspect(r)
	if err != nil || !view.IsAuthenticated {
		f.count("callback", ModeLink, "unauthenticated")
		httputil.WriteError(w, auth.ErrNotAuthenticated())
		return
	}
	if view.User.ID != payload.OriginalUserID {
		f.count("callback", ModeLink, "user_mismatch")
		httputil.WriteError(w, auth.NewForbidden("linking was started by a different account"))
		return
	}

	if existing, err := f.identity.LookupByProviderID(ctx, axpert.ProviderName, profile.ExternalID); err == nil && existing.ID != view.User.ID {
		f.count("callback", ModeLink, "already_linked")
		httputil.WriteError(w, auth.NewForbidden("external identity is already linked to another account"))
		return
	}

	if _, err := f.identity.LookupByID(ctx, view.User.ID); err != nil {
		f.count("callback", ModeLink, "error")
		httputil.WriteError(w, err)
		return
	}

	if _, err := f.identity.LinkProvider(ctx, view.User.ID, axpert.ProviderName, profile.ExternalID); err != nil {
		f.count("callback", ModeLink, "error")
		httputil.WriteError(w, err)
		return
	}

	f.count("callback", ModeLink, "ok")
	http.Redirect(w, r, redirectLinked, http.StatusFound)
}

func (f *Flow) setPendingCookie(w http.ResponseWriter, profile *auth.AxpertProfile) {
	pending := &session.PendingUser{
		ExternalID: profile.ExternalID,
		Username:   profile.Username,
		Email:      profile.Email,
		FullName:   profile.FullName,
		AvatarURL:  profile.AvatarURL,
	}
	if err := f.sessions.SetPendingUser(w, pending); err != nil {
		f.logger.WithError(err).Warn("could not set pending user cookie")
	}
}

// oauthConfig builds the provider endpoints and the redirect URI. The
// redirect origin is the configured public base URL when set, otherwise
// the incoming request's origin.
func (f *Flow) oauthConfig(r *http.Request) *oauth2.Config {
	origin := f.cfg.PublicBaseURL
	if origin == "" {
		scheme := "https"
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			scheme = "http"
		}
		origin = scheme + "://" + r.Host
	}

	return &oauth2.Config{
		ClientID:    f.cfg.ClientID,
		RedirectURL: origin + CallbackPath,
		Scopes:      f.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  f.cfg.BaseURL + "/oauth/authorize",
			TokenURL: f.cfg.BaseURL + "/oauth/token",
		},
	}
}

func (f *Flow) count(step string, mode Mode, result string) {
	if f.metrics == nil {
		return
	}
	// Denials before state decoding have no mode yet; a sentinel keeps
	// the series queryable.
	label := string(mode)
	if label == "" {
		label = "unknown"
	}
	f.metrics.OAuthFlowsTotal.WithLabelValues(step, label, result).Inc()
}

// splitFullName maps a provider display name onto the nombre/apellido
// pair the account record stores.
func splitFullName(full string) (nombre, apellido string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
