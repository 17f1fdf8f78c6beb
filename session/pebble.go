package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "session|"

// PebbleStore persists the flag in a small Pebble database so a login
// survives restarts, like the browser's local storage did.
type PebbleStore struct {
	mu sync.Mutex
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) the database directory at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session: pebble path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("session: mkdir %s: %w", path, err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("session: pebble open: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return "", false, ErrStoreClosed
	}
	value, closer, err := s.db.Get([]byte(pebbleKeyPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: pebble get: %w", err)
	}
	out := string(value)
	_ = closer.Close()
	return out, true, nil
}

func (s *PebbleStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrStoreClosed
	}
	if err := s.db.Set([]byte(pebbleKeyPrefix+key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("session: pebble set: %w", err)
	}
	return nil
}

// Close is safe to call more than once.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
