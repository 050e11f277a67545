package auth

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

const (
	// DefaultSafetyMargin is subtracted from the token validity.
	DefaultSafetyMargin = 30 * time.Second
	// DefaultValidity applies when the auth response carries no expires_in.
	DefaultValidity = time.Hour

	maxAuthBodySize = 1 << 20
)

// Authenticator exchanges client credentials for a token. Implementations do
// not retry.
type Authenticator interface {
	ObtainToken(ctx context.Context, cred Credential) (Token, error)
}

// HTTPAuthenticator calls the platform's client-credentials endpoint.
type HTTPAuthenticator struct {
	client   *http.Client
	path     string
	margin   time.Duration
	validity time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// AuthenticatorOption configures an HTTPAuthenticator.
type AuthenticatorOption func(*HTTPAuthenticator)

// WithHTTPClient sets the HTTP client used for the exchange.
func WithHTTPClient(c *http.Client) AuthenticatorOption {
	return func(a *HTTPAuthenticator) {
		if c != nil {
			a.client = c
		}
	}
}

// WithSafetyMargin sets the margin subtracted from the token validity.
func WithSafetyMargin(d time.Duration) AuthenticatorOption {
	return func(a *HTTPAuthenticator) {
		if d >= 0 {
			a.margin = d
		}
	}
}

// WithDefaultValidity sets the validity used when the response has no expires_in.
func WithDefaultValidity(d time.Duration) AuthenticatorOption {
	return func(a *HTTPAuthenticator) {
		if d > 0 {
			a.validity = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *HTTPAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuthLogger sets the logger.
func WithAuthLogger(l *zap.Logger) AuthenticatorOption {
	return func(a *HTTPAuthenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewHTTPAuthenticator builds an authenticator with TLS 1.2 as the minimum version.
func NewHTTPAuthenticator(opts ...AuthenticatorOption) *HTTPAuthenticator {
	a := &HTTPAuthenticator{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		path:     "/auth",
		margin:   DefaultSafetyMargin,
		validity: DefaultValidity,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type authRequest struct {
	ClientID string `json:"clientId"`
	Secret   string `json:"secret"`
}

type authResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   float64 `json:"expires_in"`
}

// ObtainToken performs one credential exchange.
func (a *HTTPAuthenticator) ObtainToken(ctx context.Context, cred Credential) (Token, error) {
	body, err := json.Marshal(authRequest{ClientID: cred.ClientID, Secret: cred.ClientSecret})
	if err != nil {
		return Token{}, errmodel.AuthFailure(errmodel.ReasonUnreachable, "encode auth request", 0, err)
	}
	endpoint := strings.TrimRight(cred.BaseURL, "/") + a.path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Token{}, errmodel.AuthFailure(errmodel.ReasonUnreachable, "build auth request", 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("auth exchange failed", zap.String("endpoint", endpoint), zap.Error(err))
		return Token{}, errmodel.AuthFailure(errmodel.ReasonUnreachable, "auth endpoint unreachable", 0, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxAuthBodySize))
	if err != nil {
		return Token{}, errmodel.AuthFailure(errmodel.ReasonUnreachable, "read auth response", res.StatusCode, err)
	}

	switch {
	case res.StatusCode >= 400 && res.StatusCode < 500:
		a.logger.Warn("auth credentials rejected", zap.Int("status", res.StatusCode))
		return Token{}, errmodel.AuthFailure(errmodel.ReasonInvalidCredentials, "credentials rejected by platform", res.StatusCode, nil)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return Token{}, errmodel.AuthFailure(errmodel.ReasonUnreachable, "auth endpoint unavailable", res.StatusCode, nil)
	}

	var ar authResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return Token{}, errmodel.AuthFailure(errmodel.ReasonUnreachable, "malformed auth response", res.StatusCode, err)
	}
	if ar.AccessToken == "" {
		return Token{}, errmodel.AuthFailure(errmodel.ReasonUnreachable, "auth response missing access_token", res.StatusCode, nil)
	}

	validity := a.validity
	if ar.ExpiresIn > 0 {
		validity = time.Duration(ar.ExpiresIn * float64(time.Second))
	}
	typ := ar.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	tok := Token{Value: ar.AccessToken, Type: typ, ExpiresAt: a.now().Add(validity - effectiveMargin(validity, a.margin))}
	a.logger.Debug("auth token obtained", zap.Duration("validity", validity), zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// effectiveMargin shrinks the margin for short-lived tokens so the computed
// expiry always lies in the future.
func effectiveMargin(validity, margin time.Duration) time.Duration {
	if validity < 2*margin {
		return validity / 2
	}
	return margin
}

// String hides the secret when a Credential is printed.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{ClientID:%q, BaseURL:%q}", c.ClientID, c.BaseURL)
}
