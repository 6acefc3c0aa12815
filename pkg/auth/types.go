package auth

import "time"

// Role represents an account role. The set is closed: the data service
// rejects anything outside of it.
type Role string

const (
	RoleUsuario    Role = "usuario"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// Valid reports whether the role belongs to the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleUsuario, RoleAdmin, RoleSuperadmin:
		return true
	}
	return false
}

// CanWrite reports whether the role may perform write operations through
// the data proxy.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

// Account is the identity record held by the hosted data service.
// It is mutated only by the approval workflow and by provider linking.
type Account struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	Nombre             string     `json:"nombre"`
	Apellido           string     `json:"apellido"`
	Rol                Role       `json:"rol"`
	IsActive           bool       `json:"is_active"`
	PendingApproval    bool       `json:"pending_approval"`
	AuthProvider       string     `json:"auth_provider,omitempty"`
	AuthProviderUserID string     `json:"auth_provider_user_id,omitempty"`
	ApprovedBy         string     `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	AvatarURL          string     `json:"avatar_url,omitempty"`
}

// Linked reports whether the account is associated with the external
// identity provider. Only linked accounts may use the generic data proxy.
func (a *Account) Linked() bool {
	return a.AuthProvider != ""
}

// UserData is the identity payload serialized into the userData cookie.
// A session is authenticated iff this parses as JSON with a non-empty ID.
type UserData struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Nombre       string `json:"nombre"`
	Apellido     string `json:"apellido"`
	Rol          Role   `json:"rol"`
	Email        string `json:"email"`
	AuthProvider string `json:"auth_provider,omitempty"`
}

// Valid reports whether the payload carries the shape a session requires.
// Cookie JSON crosses a trust boundary, so the shape is checked explicitly
// rather than coerced.
func (u *UserData) Valid() bool {
	return u != nil && u.ID != ""
}

// UserDataFromAccount builds the cookie payload for an account.
func UserDataFromAccount(a *Account) *UserData {
	return &UserData{
		ID:           a.ID,
		Username:     a.Username,
		Nombre:       a.Nombre,
		Apellido:     a.Apellido,
		Rol:          a.Rol,
		Email:        a.Email,
		AuthProvider: a.AuthProvider,
	}
}

// TokenPair holds the tokens minted by the identity service.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// AxpertProfile is the display-only profile metadata fetched from the
// external provider. Fetch failures never fail the primary operation.
type AxpertProfile struct {
	ExternalID string `json:"external_id"`
	Username   string `json:"username,omitempty"`
	FullName   string `json:"full_name,omitempty"`
	Email      string `json:"email,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// Session is the authenticated result of a credential or OAuth login.
// It is never stored server side; the cookie set is its only carrier.
type Session struct {
	Tokens  TokenPair
	User    *UserData
	Profile *AxpertProfile
}
