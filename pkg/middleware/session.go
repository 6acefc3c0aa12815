package middleware

import (
	"net/http"

	"github.com/andina-labs/almacen/pkg/contextkeys"
	"github.com/andina-labs/almacen/pkg/session"
)

// Session resolves cookies into a session view once per request and puts
// it on the context. It never rejects: each handler decides what an
// anonymous or invalid session means for its route.
type Session struct {
	sessions *session.Manager
}

// NewSession creates the session resolution middleware.
func NewSession(sessions *session.Manager) *Session {
	return &Session{sessions: sessions}
}

// Handler wraps an HTTP handler with session resolution.
func (m *Session) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view, err := m.sessions.Introspect(r)
		if err == nil && view.IsAuthenticated {
			ctx := contextkeys.WithSession(r.Context(), view)
			ctx = contextkeys.WithUserID(ctx, view.User.ID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// ViewFromRequest returns the session view resolved by Handler, or nil.
func ViewFromRequest(r *http.Request) *session.View {
	v := contextkeys.Session(r.Context())
	if v == nil {
		return nil
	}
	view, ok := v.(*session.View)
	if !ok {
		return nil
	}
	return view
}
