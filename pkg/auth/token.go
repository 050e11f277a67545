// Package auth turns a client id/secret pair into a continuously valid bearer
// token. TokenStore holds the current token, HTTPAuthenticator performs the
// credential exchange, and Source coalesces concurrent refreshes.
package auth

import (
	"sync/atomic"
	"time"
)

// Credential is the immutable client-credentials pair and the platform base URL.
type Credential struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// Token is a bearer token. ExpiresAt already accounts for the safety margin,
// so a token is usable strictly before ExpiresAt.
type Token struct {
	Value     string
	Type      string
	ExpiresAt time.Time
}

// Usable reports whether the token may be attached to a request at now.
func (t Token) Usable(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// Header returns the Authorization header value.
func (t Token) Header() string {
	typ := t.Type
	if typ == "" {
		typ = "Bearer"
	}
	return typ + " " + t.Value
}

// TokenStore holds the current token. Reads and writes are atomic; a token is
// replaced as a whole and never mutated in place.
type TokenStore struct {
	cur atomic.Pointer[Token]
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore { return &TokenStore{} }

// Get returns the current token, if any.
func (s *TokenStore) Get() (Token, bool) {
	t := s.cur.Load()
	if t == nil {
		return Token{}, false
	}
	return *t, true
}

// Set replaces the current token.
func (s *TokenStore) Set(t Token) {
	s.cur.Store(&t)
}

// Clear drops the current token.
func (s *TokenStore) Clear() {
	s.cur.Store(nil)
}

// ClearIf drops the current token only while it still carries value. A stale
// rejection never discards a token another caller already refreshed.
func (s *TokenStore) ClearIf(value string) bool {
	for {
		t := s.cur.Load()
		if t == nil || t.Value != value {
			return false
		}
		if s.cur.CompareAndSwap(t, nil) {
			return true
		}
	}
}
