package axpert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/observability"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int64) {
	t.Helper()
	calls := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewClient(config.AxpertConfig{BaseURL: srv.URL, ClientID: "client-1"}, logger, nil), calls
}

func TestProfileFetch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/ext-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"external_id": "ext-1",
			"username":    "maria",
			"avatar_url":  "https://cdn/avatar.png",
		})
	})

	profile, err := c.Profile(context.Background(), "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", profile.ExternalID)
	assert.Equal(t, "https://cdn/avatar.png", profile.AvatarURL)
}

func TestProfileRequiresConfiguration(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	c := NewClient(config.AxpertConfig{}, logger, nil)

	_, err := c.Profile(context.Background(), "ext-1")
	assert.Error(t, err)
}

func TestAvatarURLUsesCache(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"external_id": "ext-1",
			"avatar_url":  "https://cdn/avatar.png",
		})
	})

	for i := 0; i < 3; i++ {
		avatar, err := c.AvatarURL(context.Background(), "ext-1")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/avatar.png", avatar)
	}

	assert.Equal(t, int64(1), calls.Load(), "repeat lookups must hit the cache")
}

func TestUserInfoRejectsMissingSubject(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"name": "no subject"})
	})

	_, err := c.UserInfo(context.Background(), "token")
	assert.Error(t, err)
}

func TestUserInfoMapsClaims(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/userinfo", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"sub":                "ext-1",
			"preferred_username": "maria",
			"name":               "Maria Garcia",
			"email":              "maria@example.com",
			"picture":            "https://cdn/p.png",
		})
	})

	profile, err := c.UserInfo(context.Background(), "token-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", profile.ExternalID)
	assert.Equal(t, "maria", profile.Username)
	assert.Equal(t, "Maria Garcia", profile.FullName)
	assert.Equal(t, "https://cdn/p.png", profile.AvatarURL)
}

func TestVerifyIDTokenSkipsWithoutDiscovery(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	// No discovery document: verification is skipped, not fatal.
	assert.NoError(t, c.VerifyIDToken(context.Background(), "raw-token"))
	assert.NoError(t, c.VerifyIDToken(context.Background(), ""))
}

func TestVerifyIDTokenRetriesDiscoveryAfterFailure(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, c.VerifyIDToken(context.Background(), "raw-token"))
	require.NoError(t, c.VerifyIDToken(context.Background(), "raw-token"))

	// A failed discovery is never cached; each verification attempts it
	// again so verification resumes once the provider recovers.
	assert.Equal(t, int64(2), calls.Load())
}
