// Package auth defines the domain types shared across the gateway: the
// account record held by the hosted data service, the cookie-held identity
// payload, the closed role set, and the error taxonomy every handler
// normalizes to before responding.
//
// The taxonomy is deliberate about two distinctions:
//
//   - Configuration errors (500) are never conflated with authentication
//     failures (401), so a misdeployed server does not look like a bad login.
//   - A cookie that fails to parse is an explicit INVALID_SESSION signal,
//     not anonymous/default state, so clients can tell "never logged in"
//     from "session corrupted".
package auth
