// Package admin implements the superadmin approval workflow: listing
// accounts awaiting activation and approving or rejecting them.
package admin

import (
	"net/http"
	"time"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/axpert"
	"github.com/andina-labs/almacen/pkg/httputil"
	"github.com/andina-labs/almacen/pkg/identity"
	"github.com/andina-labs/almacen/pkg/middleware"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/session"
)

// Handlers serves the approval endpoints. Every endpoint requires a
// superadmin session before touching the identity service.
type Handlers struct {
	identity *identity.Client
	provider *axpert.Client
	sessions *session.Manager
	logger   *observability.Logger
}

// NewHandlers creates the admin handlers.
func NewHandlers(idc *identity.Client, provider *axpert.Client, sessions *session.Manager,
	logger *observability.Logger) *Handlers {
	return &Handlers{
		identity: idc,
		provider: provider,
		sessions: sessions,
		logger:   logger,
	}
}

// pendingUserResponse is one row in the approval list.
type pendingUserResponse struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Nombre     string `json:"nombre"`
	Apellido   string `json:"apellido"`
	CreatedAt  string `json:"created_at"`
	ExternalID string `json:"auth_provider_user_id,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// approveRequest is the approval mutation payload.
type approveRequest struct {
	UserID string    `json:"userId"`
	Rol    auth.Role `json:"rol"`
	Action string    `json:"action"`
}

// ListPending returns accounts awaiting approval, newest first, with
// provider avatars attached where available.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	superadmin, err := h.requireSuperadmin(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	accounts, err := h.identity.ListPending(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	users := make([]pendingUserResponse, 0, len(accounts))
	for _, account := range accounts {
		row := pendingUserResponse{
			ID:         account.ID,
			Username:   account.Username,
			Email:      account.Email,
			Nombre:     account.Nombre,
			Apellido:   account.Apellido,
			CreatedAt:  account.CreatedAt.Format(time.RFC3339),
			ExternalID: account.AuthProviderUserID,
			AvatarURL:  account.AvatarURL,
		}
		// Avatar enrichment is cosmetic; a provider outage must not
		// empty the approval queue.
		if row.AvatarURL == "" && account.AuthProviderUserID != "" {
			if avatar, err := h.provider.AvatarURL(r.Context(), account.AuthProviderUserID); err == nil {
				row.AvatarURL = avatar
			}
		}
		users = append(users, row)
	}

	h.logger.FromContext(r.Context()).
		WithField("superadmin", superadmin.ID).
		WithField("pending", len(users)).
		Debug("pending approval list served")

	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// ApproveUser applies an approval decision. Approvals assign a role and
// activate the account; rejections delete the record.
func (h *Handlers) ApproveUser(w http.ResponseWriter, r *http.Request) {
	superadmin, err := h.requireSuperadmin(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req approveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.UserID == "" {
		httputil.WriteValidationError(w, "userId is required")
		return
	}

	switch req.Action {
	case "approve":
		if !req.Rol.Valid() {
			httputil.WriteValidationError(w, "rol must be usuario, admin or superadmin")
			return
		}
		account, err := h.identity.Approve(r.Context(), req.UserID, req.Rol, superadmin.ID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		h.logger.FromContext(r.Context()).
			WithField("approved_user", account.ID).
			WithField("rol", string(account.Rol)).
			Info("account approved")
		httputil.WriteSuccess(w, map[string]interface{}{"success": true, "user": account})

	case "reject":
		if err := h.identity.Reject(r.Context(), req.UserID); err != nil {
			httputil.WriteError(w, err)
			return
		}
		h.logger.FromContext(r.Context()).
			WithField("rejected_user", req.UserID).
			Info("account rejected")
		httputil.WriteSuccess(w, map[string]interface{}{"success": true})

	default:
		httputil.WriteValidationError(w, "action must be approve or reject")
	}
}

// requireSuperadmin resolves the session and enforces the superadmin
// role. Anonymous requests get 401, authenticated non-superadmins 403.
// The middleware-resolved view is preferred; cookies are only parsed
// again when the handler runs outside the middleware chain.
func (h *Handlers) requireSuperadmin(r *http.Request) (*auth.UserData, error) {
	view := middleware.ViewFromRequest(r)
	if view == nil {
		var err error
		view, err = h.sessions.Introspect(r)
		if err != nil {
			return nil, err
		}
	}
	if !view.IsAuthenticated {
		return nil, auth.ErrNotAuthenticated()
	}
	if view.User.Rol != auth.RoleSuperadmin {
		return nil, auth.NewForbidden("superadmin role required")
	}
	return view.User, nil
}
