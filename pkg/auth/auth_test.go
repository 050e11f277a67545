package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

func TestTokenStore_GetSetClear(t *testing.T) {
	st := NewTokenStore()
	if _, ok := st.Get(); ok {
		t.Fatal("empty store returned a token")
	}
	st.Set(Token{Value: "a", ExpiresAt: time.Now().Add(time.Minute)})
	got, ok := st.Get()
	if !ok || got.Value != "a" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}
	if st.ClearIf("b") {
		t.Fatal("ClearIf must not clear a different token")
	}
	if !st.ClearIf("a") {
		t.Fatal("ClearIf should clear the matching token")
	}
	if _, ok := st.Get(); ok {
		t.Fatal("token still present after ClearIf")
	}
	st.Set(Token{Value: "c"})
	st.Clear()
	if _, ok := st.Get(); ok {
		t.Fatal("token still present after Clear")
	}
}

func TestToken_Header(t *testing.T) {
	if got := (Token{Value: "x"}).Header(); got != "Bearer x" {
		t.Fatalf("header=%q", got)
	}
	if got := (Token{Value: "x", Type: "JWT"}).Header(); got != "JWT x" {
		t.Fatalf("header=%q", got)
	}
}

func authServer(t *testing.T, status int, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/auth" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["clientId"] != "id" || in["secret"] != "secret" {
			t.Errorf("unexpected credentials payload: %v", in)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPAuthenticator_Success(t *testing.T) {
	srv := authServer(t, http.StatusOK, `{"access_token":"tok","token_type":"Bearer","expires_in":600}`, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := NewHTTPAuthenticator(WithHTTPClient(srv.Client()), WithClock(func() time.Time { return now }))

	tok, err := a.ObtainToken(context.Background(), Credential{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if tok.Value != "tok" || tok.Type != "Bearer" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	want := now.Add(600*time.Second - DefaultSafetyMargin)
	if !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at=%v want %v", tok.ExpiresAt, want)
	}
	if !tok.ExpiresAt.After(now.Add(DefaultSafetyMargin)) {
		t.Fatalf("expiry must lie beyond the safety margin")
	}
}

func TestHTTPAuthenticator_DefaultValidityAndShortTokens(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return now })

	srv := authServer(t, http.StatusOK, `{"access_token":"tok"}`, nil)
	a := NewHTTPAuthenticator(WithHTTPClient(srv.Client()), clock)
	tok, err := a.ObtainToken(context.Background(), Credential{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	if want := now.Add(DefaultValidity - DefaultSafetyMargin); !tok.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at=%v want %v", tok.ExpiresAt, want)
	}

	short := authServer(t, http.StatusOK, `{"access_token":"tok","expires_in":20}`, nil)
	a = NewHTTPAuthenticator(WithHTTPClient(short.Client()), clock)
	tok, err = a.ObtainToken(context.Background(), Credential{ClientID: "id", ClientSecret: "secret", BaseURL: short.URL})
	if err != nil {
		t.Fatal(err)
	}
	if !tok.ExpiresAt.After(now) {
		t.Fatalf("short-lived token already expired: %v", tok.ExpiresAt)
	}
}

func TestHTTPAuthenticator_Failures(t *testing.T) {
	cred := func(u string) Credential { return Credential{ClientID: "id", ClientSecret: "secret", BaseURL: u} }

	bad := authServer(t, http.StatusUnauthorized, `{"message":"nope"}`, nil)
	_, err := NewHTTPAuthenticator(WithHTTPClient(bad.Client())).ObtainToken(context.Background(), cred(bad.URL))
	if !errmodel.Is(err, errmodel.CategoryAuth, errmodel.ReasonInvalidCredentials) {
		t.Fatalf("want invalid_credentials, got %v", err)
	}

	down := authServer(t, http.StatusBadGateway, ``, nil)
	_, err = NewHTTPAuthenticator(WithHTTPClient(down.Client())).ObtainToken(context.Background(), cred(down.URL))
	if !errmodel.Is(err, errmodel.CategoryAuth, errmodel.ReasonUnreachable) {
		t.Fatalf("want unreachable for 5xx, got %v", err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	u := closed.URL
	closed.Close()
	_, err = NewHTTPAuthenticator().ObtainToken(context.Background(), cred(u))
	if !errmodel.Is(err, errmodel.CategoryAuth, errmodel.ReasonUnreachable) {
		t.Fatalf("want unreachable for transport failure, got %v", err)
	}

	garbled := authServer(t, http.StatusOK, `{"token":"x"}`, nil)
	_, err = NewHTTPAuthenticator(WithHTTPClient(garbled.Client())).ObtainToken(context.Background(), cred(garbled.URL))
	if !errmodel.Is(err, errmodel.CategoryAuth, errmodel.ReasonUnreachable) {
		t.Fatalf("want unreachable for missing token, got %v", err)
	}
}

type countingAuth struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingAuth) ObtainToken(ctx context.Context, _ Credential) (Token, error) {
	n := c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
	if c.err != nil {
		return Token{}, c.err
	}
	return Token{Value: "tok-" + string(rune('0'+n)), ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestSource_CoalescesConcurrentRefresh(t *testing.T) {
	a := &countingAuth{delay: 50 * time.Millisecond}
	s := NewSource(Credential{}, a)

	const n = 32
	var wg sync.WaitGroup
	values := make([]string, n)
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tok, err := s.Token(context.Background())
			values[i], errs[i] = tok.Value, err
		}(i)
	}
	close(start)
	wg.Wait()

	if got := a.calls.Load(); got != 1 {
		t.Fatalf("exchanges=%d want 1", got)
	}
	for i := range values {
		if errs[i] != nil || values[i] != values[0] {
			t.Fatalf("caller %d got %q err=%v", i, values[i], errs[i])
		}
	}
}

func TestSource_RefreshesExpiredToken(t *testing.T) {
	a := &countingAuth{}
	now := time.Now()
	st := NewTokenStore()
	st.Set(Token{Value: "old", ExpiresAt: now.Add(-time.Second)})
	s := NewSource(Credential{}, a, WithStore(st), WithSourceClock(func() time.Time { return now }))

	tok, err := s.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tok.Value == "old" || a.calls.Load() != 1 {
		t.Fatalf("expected a refresh, got %q after %d calls", tok.Value, a.calls.Load())
	}
	if _, err := s.Token(context.Background()); err != nil || a.calls.Load() != 1 {
		t.Fatalf("usable token should be reused, calls=%d err=%v", a.calls.Load(), err)
	}
}

func TestSource_RefreshAfterRejection(t *testing.T) {
	a := &countingAuth{}
	var hooks atomic.Int32
	s := NewSource(Credential{}, a, WithRefreshHook(func(error) { hooks.Add(1) }))
	first, err := s.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Refresh(context.Background(), first.Value)
	if err != nil {
		t.Fatal(err)
	}
	if second.Value == first.Value {
		t.Fatal("refresh returned the rejected token")
	}
	// A late rejection of the first token must not trigger another exchange.
	third, err := s.Refresh(context.Background(), first.Value)
	if err != nil {
		t.Fatal(err)
	}
	if third.Value != second.Value || a.calls.Load() != 2 {
		t.Fatalf("unexpected exchange: third=%q calls=%d", third.Value, a.calls.Load())
	}
	if hooks.Load() != 2 {
		t.Fatalf("refresh hook calls=%d want 2", hooks.Load())
	}
}

func TestSource_PropagatesAuthFailure(t *testing.T) {
	fail := errmodel.AuthFailure(errmodel.ReasonInvalidCredentials, "rejected", 401, nil)
	s := NewSource(Credential{}, &countingAuth{err: fail})
	_, err := s.Token(context.Background())
	if !errors.Is(err, fail) {
		t.Fatalf("want auth failure, got %v", err)
	}
	if _, ok := s.Store().Get(); ok {
		t.Fatal("failed exchange must not store a token")
	}
}

func TestSource_CanceledWhileWaiting(t *testing.T) {
	a := &countingAuth{delay: 200 * time.Millisecond}
	s := NewSource(Credential{}, a)
	go func() { _, _ = s.Token(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Token(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}
