// Package identity wraps the hosted identity/data service (Supabase).
// Account lookups and mutations go through the PostgREST interface with
// the elevated service key; credential verification uses the auth
// password grant with the anonymous key. The gateway is the only holder
// of either key.
package identity
