package store

import (
	"context"
	"sync"
	"time"

	"github.com/quorumdao/gatehouse/ports"
)

// MemoryNonceStore is an in-memory implementation of NonceStore.
type MemoryNonceStore struct {
	nonces map[string]time.Time
	now    func() time.Time
	mu     sync.Mutex
}

// NewMemoryNonceStore creates a new in-memory nonce store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Record registers an issued nonce with an expiry.
func (s *MemoryNonceStore) Record(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonces[nonce] = s.now().Add(ttl)
	return nil
}

// Consume removes a nonce, reporting whether it was present and unexpired.
func (s *MemoryNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(s.nonces, nonce)

	return expiry.After(s.now()), nil
}

var _ ports.NonceStore = (*MemoryNonceStore)(nil)
