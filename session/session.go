// Package session replaces the browser's ambient "isAuthenticated" flag with
// an explicit session value. A Session checks credentials against a fixed
// allowlist and persists a single boolean flag through a Store. It is a
// client-side gate, not a security boundary: there is no hashing, token
// issuance or expiry.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"sync"
)

// FlagKey is the persisted key holding "true" or "false".
const FlagKey = "isAuthenticated"

// ErrInvalidCredentials is returned by Login for any pair not on the allowlist.
var ErrInvalidCredentials = errors.New("session: invalid username or password")

// User is one allowlisted credential pair.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultUsers is the built-in allowlist.
var DefaultUsers = []User{
	{Username: "admin", Password: "admin123"},
	{Username: "user", Password: "user123"},
}

// Credentials is a fixed allowlist checked synchronously.
type Credentials struct {
	users []User
}

// NewCredentials copies users; an empty list falls back to DefaultUsers.
func NewCredentials(users []User) Credentials {
	if len(users) == 0 {
		users = DefaultUsers
	}
	out := make([]User, len(users))
	copy(out, users)
	return Credentials{users: out}
}

// Check reports whether (username, password) is on the allowlist.
func (c Credentials) Check(username, password string) bool {
	ok := 0
	for _, u := range c.users {
		userMatch := subtle.ConstantTimeCompare([]byte(u.Username), []byte(username))
		passMatch := subtle.ConstantTimeCompare([]byte(u.Password), []byte(password))
		ok |= userMatch & passMatch
	}
	return ok == 1
}

// Session is the explicit session context handed to the route guard and the
// login/logout handlers.
type Session struct {
	mu    sync.Mutex
	creds Credentials
	store Store
}

// New builds a session over store.
func New(creds Credentials, store Store) *Session {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Session{creds: creds, store: store}
}

// Login sets the flag when the pair is allowlisted. On failure the flag is
// left untouched and ErrInvalidCredentials is returned.
func (s *Session) Login(username, password string) error {
	if !s.creds.Check(username, password) {
		log.Printf("Session: login rejected for %q", username)
		return ErrInvalidCredentials
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(FlagKey, "true"); err != nil {
		return fmt.Errorf("session: persist login: %w", err)
	}
	log.Printf("Session: %q logged in", username)
	return nil
}

// Logout clears the flag.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(FlagKey, "false"); err != nil {
		return fmt.Errorf("session: persist logout: %w", err)
	}
	log.Printf("Session: logged out")
	return nil
}

// Authenticated reports whether the persisted flag reads "true". Store errors
// are logged and treated as logged out.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok, err := s.store.Get(FlagKey)
	if err != nil {
		log.Printf("Session: read flag: %v", err)
		return false
	}
	return ok && v == "true"
}

// Close releases the underlying store.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Close()
}
