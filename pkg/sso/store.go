package sso

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/andina-labs/almacen/pkg/observability"
)

// StateTTL bounds how long an authorization may stay pending. It matches
// the lifetime of the state and verifier cookies.
const StateTTL = 10 * time.Minute

// ErrStateNotFound is returned by Consume when no live record exists for
// a nonce: unknown, expired, or already consumed all look the same.
var ErrStateNotFound = errors.New("pending authorization not found")

// PendingAuthorization is the server-side record of an in-flight OAuth
// flow, written at redirect time and consumed exactly once at callback.
type PendingAuthorization struct {
	Nonce          string    `json:"nonce"`
	Mode           Mode      `json:"mode"`
	OriginalUserID string    `json:"original_user_id,omitempty"`
	Verifier       string    `json:"verifier"`
	CreatedAt      time.Time `json:"created_at"`
}

// StateStore persists pending authorizations. Consume removes the record
// atomically so a replayed callback cannot resolve the same flow twice.
type StateStore interface {
	Put(ctx context.Context, rec *PendingAuthorization) error
	Consume(ctx context.Context, nonce string) (*PendingAuthorization, error)
	Close() error
}

type memoryEntry struct {
	rec       *PendingAuthorization
	expiresAt time.Time
}

// MemoryStateStore keeps pending authorizations in process memory.
// Default backend for single-instance deployments without Redis.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	sweeper *cron.Cron
	metrics *observability.Metrics
}

// NewMemoryStateStore creates the in-memory store and starts a periodic
// sweep of expired records.
func NewMemoryStateStore(metrics *observability.Metrics) *MemoryStateStore {
	s := &MemoryStateStore{
		entries: make(map[string]memoryEntry),
		sweeper: cron.New(),
		metrics: metrics,
	}
	s.sweeper.AddFunc("@every 1m", s.sweep)
	s.sweeper.Start()
	return s
}

// Put stores a pending authorization under its nonce.
func (s *MemoryStateStore) Put(_ context.Context, rec *PendingAuthorization) error {
	s.mu.Lock()
	s.entries[rec.Nonce] = memoryEntry{rec: rec, expiresAt: time.Now().Add(StateTTL)}
	s.mu.Unlock()
	s.observe("put", nil)
	return nil
}

// Consume removes and returns the record for a nonce. A second call with
// the same nonce fails with ErrStateNotFound.
func (s *MemoryStateStore) Consume(_ context.Context, nonce string) (*PendingAuthorization, error) {
	s.mu.Lock()
	entry, ok := s.entries[nonce]
	if ok {
		delete(s.entries, nonce)
	}
	s.mu.Unlock()

	if !ok || time.Now().After(entry.expiresAt) {
		s.observe("consume", ErrStateNotFound)
		return nil, ErrStateNotFound
	}
	s.observe("consume", nil)
	return entry.rec, nil
}

// Close stops the background sweep.
func (s *MemoryStateStore) Close() error {
	s.sweeper.Stop()
	return nil
}

func (s *MemoryStateStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	for nonce, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, nonce)
		}
	}
	s.mu.Unlock()
}

func (s *MemoryStateStore) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "miss"
	}
	s.metrics.StateStoreOpsTotal.WithLabelValues("memory", op, result).Inc()
}
