// Package sso implements the OAuth2 authorization-code flow with PKCE
// against the external identity provider. The flow keeps two defenses
// that must both hold at the callback: an exact match between the state
// parameter and the state cookie, and a single-use pending-authorization
// record keyed by the state nonce.
package sso
