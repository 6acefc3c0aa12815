// Package middleware provides the HTTP middleware chain: request id
// tagging, request logging, metrics, panic recovery and session
// resolution.
package middleware
