package ledger

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	payload []byte
	version uint64
	exists  bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), s.payload...), s.token(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, payload []byte, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists {
		if token != s.token() {
			return "", ErrConflict
		}
	} else if token != "" {
		return "", ErrConflict
	}

	s.payload = append([]byte(nil), payload...)
	s.version++
	s.exists = true
	return s.token(), nil
}

func (s *MemoryStore) token() string {
	return "v" + strconv.FormatUint(s.version, 10)
}
