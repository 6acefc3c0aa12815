// Package api assembles the HTTP surface of the gateway: credential
// login, session introspection, the OAuth entry points, the admin
// approval endpoints and the data proxy, all behind a shared middleware
// chain.
package api
