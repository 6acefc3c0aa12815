package sso

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestStateRoundTrip(t *testing.T) {
	payload := &StatePayload{
		Timestamp:      time.Now().Unix(),
		Nonce:          "nonce-1",
		Mode:           ModeLink,
		OriginalUserID: "u1",
	}

	encoded, err := EncodeState(payload)
	require.NoError(t, err)

	decoded, err := DecodeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodeStateFailsClosed(t *testing.T) {
	valid, err := EncodeState(&StatePayload{
		Timestamp: time.Now().Unix(), Nonce: "n", Mode: ModeLogin,
	})
	require.NoError(t, err)

	cases := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"not base64", "!!!not-base64!!!"},
		{"truncated", valid[:len(valid)/2]},
		{"corrupted", valid[:len(valid)-4] + "AAAA"},
		{"valid base64 not json", base64.RawURLEncoding.EncodeToString([]byte("hello"))},
		{"missing nonce", mustEncode(t, &StatePayload{Timestamp: 1, Mode: ModeLogin})},
		{"missing timestamp", mustEncode(t, &StatePayload{Nonce: "n", Mode: ModeLogin})},
		{"unknown mode", mustEncode(t, &StatePayload{Timestamp: 1, Nonce: "n", Mode: "elevate"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeState(tc.state)
			require.Error(t, err)
			assert.Nil(t, decoded, "a bad state must never yield a default payload")
		})
	}
}

func mustEncode(t *testing.T, p *StatePayload) string {
	t.Helper()
	s, err := EncodeState(p)
	require.NoError(t, err)
	return s
}

func TestVerifierUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		v := oauth2.GenerateVerifier()
		_, dup := seen[v]
		require.False(t, dup, "verifier collision after %d draws", i)
		seen[v] = struct{}{}
	}
}

func TestChallengeIsS256OfVerifier(t *testing.T) {
	v := oauth2.GenerateVerifier()
	sum := sha256.Sum256([]byte(v))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, oauth2.S256ChallengeFromVerifier(v))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(v), oauth2.S256ChallengeFromVerifier(v),
		"challenge must be deterministic")
}
