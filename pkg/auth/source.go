package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Source hands out usable tokens. Concurrent callers that find the store empty
// or stale wait on a single refresh instead of each calling the Authenticator.
type Source struct {
	cred      Credential
	store     *TokenStore
	auth      Authenticator
	refreshMu *semaphore.Weighted
	now       func() time.Time
	onRefresh func(err error)
	logger    *zap.Logger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithStore shares an existing TokenStore.
func WithStore(st *TokenStore) SourceOption {
	return func(s *Source) {
		if st != nil {
			s.store = st
		}
	}
}

// WithSourceClock overrides the time source used for expiry checks.
func WithSourceClock(now func() time.Time) SourceOption {
	return func(s *Source) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRefreshHook is called after every credential exchange with its result.
func WithRefreshHook(fn func(err error)) SourceOption {
	return func(s *Source) { s.onRefresh = fn }
}

// WithSourceLogger sets the logger.
func WithSourceLogger(l *zap.Logger) SourceOption {
	return func(s *Source) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSource builds a Source for cred backed by a.
func NewSource(cred Credential, a Authenticator, opts ...SourceOption) *Source {
	s := &Source{
		cred:      cred,
		store:     NewTokenStore(),
		auth:      a,
		refreshMu: semaphore.NewWeighted(1),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying TokenStore.
func (s *Source) Store() *TokenStore { return s.store }

// Token returns a usable token, refreshing it if absent or expired.
func (s *Source) Token(ctx context.Context) (Token, error) {
	if t, ok := s.store.Get(); ok && t.Usable(s.now()) {
		return t, nil
	}
	return s.refresh(ctx, "")
}

// Refresh discards rejected (if still current) and returns a token that is not
// rejected. When another caller already replaced it, no exchange happens.
func (s *Source) Refresh(ctx context.Context, rejected string) (Token, error) {
	if s.store.ClearIf(rejected) {
		s.logger.Debug("token cleared after rejection")
	}
	return s.refresh(ctx, rejected)
}

func (s *Source) refresh(ctx context.Context, rejected string) (Token, error) {
	if err := s.refreshMu.Acquire(ctx, 1); err != nil {
		return Token{}, err
	}
	defer s.refreshMu.Release(1)

	// Another caller may have refreshed while we waited.
	if t, ok := s.store.Get(); ok && t.Usable(s.now()) && t.Value != rejected {
		return t, nil
	}

	t, err := s.auth.ObtainToken(ctx, s.cred)
	if s.onRefresh != nil {
		s.onRefresh(err)
	}
	if err != nil {
		s.logger.Warn("token refresh failed", zap.Error(err))
		return Token{}, err
	}
	s.store.Set(t)
	s.logger.Debug("token refreshed", zap.Time("expires_at", t.ExpiresAt))
	return t, nil
}
