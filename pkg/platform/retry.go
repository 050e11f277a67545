package platform

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds the transient-failure retries of a single call.
type RetryPolicy struct {
	// MaxAttempts counts every attempt of a call that fails transiently,
	// including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxRetryAfter caps a server supplied Retry-After.
	MaxRetryAfter time.Duration
	// Jitter is the randomization factor in [0,1).
	Jitter float64
}

// DefaultRetryPolicy returns three attempts doubling from 500ms up to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		MaxRetryAfter: time.Minute,
		Jitter:        0.2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = d.MaxRetryAfter
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeUnauthorized
	outcomeThrottled
	outcomeServerError
	outcomeTransport
	outcomeRejected
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeUnauthorized:
		return "unauthorized"
	case outcomeThrottled:
		return "throttled"
	case outcomeServerError:
		return "server_error"
	case outcomeTransport:
		return "transport"
	case outcomeRejected:
		return "rejected"
	}
	return "unknown"
}

func (o outcome) transient() bool {
	return o == outcomeThrottled || o == outcomeServerError || o == outcomeTransport
}

type action int

const (
	actDone action = iota
	actReauth
	actRetry
	actFail
)

// attemptResult is what one HTTP attempt produced, reduced to what the retry
// decision needs.
type attemptResult struct {
	outcome    outcome
	status     int
	retryAfter time.Duration
	err        error
}

func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeTransport
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusUnauthorized:
		return outcomeUnauthorized
	case status == http.StatusTooManyRequests:
		return outcomeThrottled
	case status >= 500:
		return outcomeServerError
	default:
		return outcomeRejected
	}
}

// retryState decides what follows each attempt of one logical call. It is
// created per call and never shared.
type retryState struct {
	policy    RetryPolicy
	bo        *backoff.ExponentialBackOff
	attempts  int
	transient int
	reauthed  bool
	last      attemptResult
}

func newRetryState(p RetryPolicy) *retryState {
	p = p.normalized()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = p.Jitter
	bo.Reset()
	return &retryState{policy: p, bo: bo}
}

func (s *retryState) next(r attemptResult) (action, time.Duration) {
	s.attempts++
	s.last = r
	switch r.outcome {
	case outcomeSuccess:
		return actDone, 0
	case outcomeUnauthorized:
		if s.reauthed {
			return actFail, 0
		}
		s.reauthed = true
		return actReauth, 0
	case outcomeRejected:
		return actFail, 0
	}
	s.transient++
	if s.transient >= s.policy.MaxAttempts {
		return actFail, 0
	}
	if r.retryAfter > 0 {
		return actRetry, min(r.retryAfter, s.policy.MaxRetryAfter)
	}
	d := s.bo.NextBackOff()
	if d == backoff.Stop || d > s.policy.MaxDelay {
		d = s.policy.MaxDelay
	}
	return actRetry, d
}

// parseRetryAfter reads delay-seconds or an HTTP-date. Zero means absent.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
