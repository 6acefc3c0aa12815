package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/andina-labs/almacen/pkg/httputil"
	"github.com/andina-labs/almacen/pkg/observability"
)

// Recovery converts handler panics into 500 responses instead of killing
// the connection.
type Recovery struct {
	logger *observability.Logger
}

// NewRecovery creates the panic recovery middleware.
func NewRecovery(logger *observability.Logger) *Recovery {
	return &Recovery{logger: logger}
}

// Handler wraps an HTTP handler with panic recovery.
func (m *Recovery) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.FromContext(r.Context()).
					WithField("panic", rec).
					WithField("stack", string(debug.Stack())).
					Error("handler panicked")
				httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
