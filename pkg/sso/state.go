package sso

import (
	"encoding/base64"
	"encoding/json"

	"github.com/andina-labs/almacen/pkg/auth"
)

// Mode selects what the authorization flow does with the external
// identity once the callback resolves it.
type Mode string

const (
	// ModeLogin signs the user in (or provisions a pending account).
	ModeLogin Mode = "login"
	// ModeLink attaches the external identity to the already
	// authenticated account. Never issues a new session.
	ModeLink Mode = "linking"
)

// Valid reports whether the mode is one of the two supported flows.
func (m Mode) Valid() bool {
	return m == ModeLogin || m == ModeLink
}

// StatePayload is the opaque OAuth state parameter before encoding.
// The nonce doubles as the pending-authorization store key.
type StatePayload struct {
	Timestamp      int64  `json:"ts"`
	Nonce          string `json:"nonce"`
	Mode           Mode   `json:"mode"`
	OriginalUserID string `json:"original_user_id,omitempty"`
}

// EncodeState serializes the payload into the URL-safe state parameter.
func EncodeState(p *StatePayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState parses a state parameter. Every defect, wrong encoding,
// wrong JSON, missing nonce, missing timestamp, unknown mode, fails
// closed with the same invalid-state error.
func DecodeState(state string) (*StatePayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return nil, auth.ErrInvalidState("state parameter is not valid").WithCause(err)
	}

	var p StatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, auth.ErrInvalidState("state parameter is not valid").WithCause(err)
	}
	if p.Nonce == "" || p.Timestamp == 0 || !p.Mode.Valid() {
		return nil, auth.ErrInvalidState("state parameter is not valid")
	}
	return &p, nil
}
