package client

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"
)

// DefaultCacheTTL is the staleness bound on the client fast path.
const DefaultCacheTTL = 6 * time.Minute

// Snapshot is the client-held session snapshot. While fresh it is consulted
// instead of a verification round-trip.
type Snapshot struct {
	Authenticated bool      `json:"authenticated"`
	Address       string    `json:"address"`
	ProfileExists bool      `json:"profile_exists"`
	Token         string    `json:"token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	CachedAt      time.Time `json:"cached_at"`
}

// Storage persists one serialized snapshot. Load returns fs.ErrNotExist
// when nothing is stored.
type Storage interface {
	Load() ([]byte, error)
	Store(data []byte) error
	Delete() error
}

// MemoryStorage is an in-process Storage, used in tests and short-lived
// tools.
type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
}

func (s *MemoryStorage) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil, fs.ErrNotExist
	}

	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *MemoryStorage) Store(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make([]byte, len(data))
	copy(s.data, data)
	return nil
}

func (s *MemoryStorage) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	return nil
}

// FileStorage keeps the snapshot in a single file, the non-browser analogue
// of localStorage.
type FileStorage struct {
	Path string
}

func (s *FileStorage) Load() ([]byte, error) {
	return os.ReadFile(s.Path)
}

func (s *FileStorage) Store(data []byte) error {
	return os.WriteFile(s.Path, data, 0o600)
}

func (s *FileStorage) Delete() error {
	err := os.Remove(s.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SessionCache wraps a Storage with TTL enforcement built into every read.
type SessionCache struct {
	storage Storage
	ttl     time.Duration
	now     func() time.Time
}

// NewSessionCache creates a cache with the given TTL (DefaultCacheTTL when
// non-positive).
func NewSessionCache(storage Storage, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &SessionCache{
		storage: storage,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Read returns the cached snapshot, or nil on a miss. A stale or unreadable
// record is deleted and reported as a miss so a corrupt cache can never keep
// answering.
func (c *SessionCache) Read() *Snapshot {
	data, err := c.storage.Load()
	if err != nil {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.storage.Delete()
		return nil
	}

	if c.now().Sub(snap.CachedAt) >= c.ttl {
		_ = c.storage.Delete()
		return nil
	}

	return &snap
}

// Write stores a snapshot, stamping CachedAt.
func (c *SessionCache) Write(snap Snapshot) error {
	snap.CachedAt = c.now()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return c.storage.Store(data)
}

// Clear discards the stored snapshot.
func (c *SessionCache) Clear() {
	_ = c.storage.Delete()
}
