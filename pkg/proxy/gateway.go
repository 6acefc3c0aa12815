package proxy

import (
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/httputil"
	"github.com/andina-labs/almacen/pkg/middleware"
	"github.com/andina-labs/almacen/pkg/observability"
	"github.com/andina-labs/almacen/pkg/session"
)

// forwardHeaders are the only request headers that cross the proxy.
// Everything else, cookies above all, stays on the gateway side.
var forwardHeaders = []string{"Content-Type", "Accept", "Prefer", "Range"}

// returnHeaders are the upstream response headers passed back to the
// browser. Content-Range and Preference-Applied carry PostgREST
// pagination and mutation results.
var returnHeaders = []string{"Content-Type", "Content-Range", "Preference-Applied"}

// Gateway forwards allow-listed requests to the data service with the
// service key injected. Denials never reach the upstream.
type Gateway struct {
	upstreamURL string
	serviceKey  string
	policy      *Policy
	sessions    *session.Manager
	httpClient  *http.Client
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewGateway creates the data proxy.
func NewGateway(cfg config.SupabaseConfig, policy *Policy, sessions *session.Manager,
	logger *observability.Logger, metrics *observability.Metrics) *Gateway {
	return &Gateway{
		upstreamURL: cfg.URL,
		serviceKey:  cfg.ServiceKey,
		policy:      policy,
		sessions:    sessions,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		metrics:     metrics,
	}
}

// ServeHTTP authenticates, authorizes and forwards one proxy request.
// Every check runs before any byte is sent upstream.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	view := middleware.ViewFromRequest(r)
	if view == nil {
		var err error
		view, err = g.sessions.Introspect(r)
		if err != nil {
			g.deny(w, "invalid_session", err)
			return
		}
	}
	if !view.IsAuthenticated {
		g.deny(w, "unauthenticated", auth.ErrNotAuthenticated())
		return
	}
	if view.User.AuthProvider == "" {
		g.deny(w, "not_linked", auth.NewForbidden("only provider-linked accounts may use the data proxy"))
		return
	}

	target := r.URL.Query().Get("target")
	if target == "" {
		g.deny(w, "missing_target", auth.NewValidation("target query parameter is required"))
		return
	}

	targetURL, err := url.Parse(target)
	if err != nil || targetURL.IsAbs() || targetURL.Host != "" || !strings.HasPrefix(targetURL.Path, restRoot) {
		g.deny(w, "outside_rest_root", auth.NewForbidden("target must be a path under "+restRoot))
		return
	}
	// Dot segments would let a prefix-checked path escape restRoot once
	// the upstream normalizes it. Only canonical paths pass.
	if path.Clean(targetURL.Path) != targetURL.Path {
		g.deny(w, "path_not_canonical", auth.NewForbidden("target path must be canonical"))
		return
	}

	if reason, err := g.policy.Authorize(r.Method, targetURL.Path, view.User.Rol); err != nil {
		g.deny(w, reason, err)
		return
	}

	g.forward(w, r, targetURL)
}

func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, target *url.URL) {
	upstream := g.upstreamURL + target.Path
	if target.RawQuery != "" {
		upstream += "?" + target.RawQuery
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream, r.Body)
	if err != nil {
		httputil.WriteError(w, auth.NewUpstream("could not build upstream request", err))
		return
	}
	for _, name := range forwardHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}
	req.Header.Set("apikey", g.serviceKey)
	req.Header.Set("Authorization", "Bearer "+g.serviceKey)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if g.metrics != nil {
		g.metrics.ObserveUpstream("supabase", "proxy", time.Since(start), err)
	}
	if err != nil {
		g.logger.WithError(err).WithField("path", target.Path).Error("proxy upstream unreachable")
		httputil.WriteError(w, auth.NewUpstream("data service unreachable", err))
		return
	}
	defer resp.Body.Close()

	for _, name := range returnHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	// Status passes through verbatim: upstream 4xx carry PostgREST
	// error payloads the web app knows how to render.
	w.WriteHeader(resp.StatusCode)
	httputil.CopyBody(w, resp.Body)

	if g.metrics != nil {
		g.metrics.ProxyRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(resp.StatusCode)).Inc()
	}
}

func (g *Gateway) deny(w http.ResponseWriter, reason string, err error) {
	if g.metrics != nil {
		g.metrics.ProxyDeniedTotal.WithLabelValues(reason).Inc()
	}
	httputil.WriteError(w, err)
}
