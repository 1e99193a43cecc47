package store

import (
	"context"
	"sync"
	"time"

	"github.com/quorumdao/gatehouse/core"
	"github.com/quorumdao/gatehouse/ports"
)

// MemoryCredentialStore is an in-memory implementation of CredentialStore,
// primarily intended for testing.
type MemoryCredentialStore struct {
	creds map[string]*core.Credential
	mu    sync.RWMutex
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		creds: make(map[string]*core.Credential),
	}
}

// Insert records a credential keyed by its token value.
func (s *MemoryCredentialStore) Insert(ctx context.Context, cred *core.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[cred.Token]; ok {
		return core.ErrAlreadyExists
	}

	c := *cred
	s.creds[cred.Token] = &c
	return nil
}

// Exists reports whether a credential row matches both token and address.
func (s *MemoryCredentialStore) Exists(ctx context.Context, token, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[token]
	return ok && cred.Address == address, nil
}

// Delete removes a credential row; absent rows are a no-op.
func (s *MemoryCredentialStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.creds, token)
	return nil
}

// DeleteExpired purges rows whose expiry is at or before now.
func (s *MemoryCredentialStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for token, cred := range s.creds {
		if !cred.ExpiresAt.After(now) {
			delete(s.creds, token)
			count++
		}
	}
	return count, nil
}

// MemoryProfileStore is an in-memory implementation of ProfileStore.
type MemoryProfileStore struct {
	profiles map[string]*core.Profile
	mu       sync.RWMutex
}

// NewMemoryProfileStore creates a new in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]*core.Profile),
	}
}

// ProfileByAddress returns the profile for a lower-cased address.
func (s *MemoryProfileStore) ProfileByAddress(ctx context.Context, address string) (*core.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[address]
	if !ok {
		return nil, core.ErrNotFound
	}

	p := *profile
	return &p, nil
}

// SaveProfile creates a profile record.
func (s *MemoryProfileStore) SaveProfile(ctx context.Context, profile *core.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.Address]; ok {
		return core.ErrAlreadyExists
	}

	p := *profile
	s.profiles[profile.Address] = &p
	return nil
}

var (
	_ ports.CredentialStore = (*MemoryCredentialStore)(nil)
	_ ports.ProfileStore    = (*MemoryProfileStore)(nil)
)
