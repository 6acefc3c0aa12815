// Package axpert talks to the external identity provider. Everything in
// here is display-only enrichment or callback verification; a failure in
// this package must never abort a login that already succeeded.
package axpert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/observability"
)

// ProviderName is the value stored in auth_provider for linked accounts.
const ProviderName = "axpert"

const avatarCacheSize = 512

// Client fetches profile metadata from the provider and verifies ID
// tokens returned by its token endpoint.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics

	avatars *lru.Cache[string, string]

	providerMu sync.Mutex
	provider   *oidc.Provider
}

// NewClient creates a new provider client
func NewClient(cfg config.AxpertConfig, logger *observability.Logger, metrics *observability.Metrics) *Client {
	avatars, _ := lru.New[string, string](avatarCacheSize)
	return &Client{
		baseURL:    cfg.BaseURL,
		clientID:   cfg.ClientID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		metrics:    metrics,
		avatars:    avatars,
	}
}

// Profile fetches the provider's profile metadata for an external user id.
// Callers treat a nil result as "no enrichment available".
func (c *Client) Profile(ctx context.Context, externalID string) (*auth.AxpertProfile, error) {
	if c.baseURL == "" || externalID == "" {
		return nil, fmt.Errorf("provider not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/users/"+externalID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe("profile", start, err)
	if err != nil {
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch returned status %d", resp.StatusCode)
	}

	var profile auth.AxpertProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if profile.ExternalID == "" {
		profile.ExternalID = externalID
	}
	return &profile, nil
}

// UserInfo fetches the OAuth userinfo document with a bearer token minted
// by the token endpoint. Used by the callback to resolve the external
// identity behind an authorization code.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*auth.AxpertProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oauth/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe("userinfo", start, err)
	if err != nil {
		return nil, fmt.Errorf("userinfo fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var claims struct {
		Sub      string `json:"sub"`
		Username string `json:"preferred_username"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Picture  string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("userinfo missing subject")
	}

	return &auth.AxpertProfile{
		ExternalID: claims.Sub,
		Username:   claims.Username,
		FullName:   claims.Name,
		Email:      claims.Email,
		AvatarURL:  claims.Picture,
	}, nil
}

// AvatarURL resolves the avatar for an external user id, caching results.
// Avatars change rarely and the admin approval list fetches them in bulk.
func (c *Client) AvatarURL(ctx context.Context, externalID string) (string, error) {
	if cached, ok := c.avatars.Get(externalID); ok {
		if c.metrics != nil {
			c.metrics.AvatarCacheHitsTotal.Inc()
		}
		return cached, nil
	}
	if c.metrics != nil {
		c.metrics.AvatarCacheMissesTotal.Inc()
	}

	profile, err := c.Profile(ctx, externalID)
	if err != nil {
		return "", err
	}

	c.avatars.Add(externalID, profile.AvatarURL)
	return profile.AvatarURL, nil
}

// VerifyIDToken validates an ID token against the provider's published
// keys. Verification is best effort and FAILS OPEN: when the discovery
// document is unreachable the token is accepted unverified, because the
// identity behind a callback is established by the userinfo call and not
// by this token. Discovery is retried on every call until it succeeds,
// so a provider outage does not disable verification for the rest of the
// process lifetime.
func (c *Client) VerifyIDToken(ctx context.Context, rawIDToken string) error {
	if rawIDToken == "" {
		return nil
	}

	provider, err := c.discoverProvider(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("provider discovery unavailable, skipping ID token verification")
		return nil
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: c.clientID})
	if _, err := verifier.Verify(ctx, rawIDToken); err != nil {
		return fmt.Errorf("verify id token: %w", err)
	}
	return nil
}

// discoverProvider resolves the OIDC discovery document, caching only
// successful results.
func (c *Client) discoverProvider(ctx context.Context) (*oidc.Provider, error) {
	c.providerMu.Lock()
	defer c.providerMu.Unlock()

	if c.provider != nil {
		return c.provider, nil
	}

	provider, err := oidc.NewProvider(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}
	c.provider = provider
	return provider, nil
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveUpstream("axpert", op, time.Since(start), err)
	}
}
