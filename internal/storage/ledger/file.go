package ledger

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileStore persists the ledger as a single JSON file. The version token is
// the SHA-1 of the file content, checked under an in-process lock; writes go
// through a temp file and rename so readers never observe a partial document.
// Cross-process writers must share the store through the HTTP API.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the parent directory if needed and returns the store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("ledger file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create ledger state dir")
		}
	}
	return &FileStore{path: path}, nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, token, err := s.read()
	if err != nil {
		return nil, "", err
	}
	return payload, token, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, payload []byte, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, currentToken, err := s.read()
	switch {
	case errors.Is(err, ErrNotFound):
		if token != "" {
			return "", ErrConflict
		}
	case err != nil:
		return "", err
	default:
		if token != currentToken {
			return "", ErrConflict
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", errors.Wrap(err, "write ledger temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return "", errors.Wrap(err, "persist ledger file")
	}
	return contentToken(payload), nil
}

func (s *FileStore) read() ([]byte, string, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", errors.Wrap(err, "read ledger file")
	}
	if len(payload) == 0 {
		return nil, "", ErrNotFound
	}
	return payload, contentToken(payload), nil
}

func contentToken(payload []byte) string {
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])
}
