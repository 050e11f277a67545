package errmodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewAndFrom(t *testing.T) {
	e := Validation("missing", "field missing", map[string]any{"field": "collection_id"})
	if e.Category != CategoryValidation || e.Code != "missing" {
		t.Fatalf("unexpected: %#v", e)
	}
	if got := From(e); got != e {
		t.Fatalf("From should return same error instance")
	}
}

func TestFrom_UnknownErrorIsOpaque(t *testing.T) {
	raw := errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
	ce := From(raw)
	if ce.Category != CategorySystem || ce.Code != "internal" {
		t.Fatalf("unexpected: %#v", ce)
	}
	if strings.Contains(ce.Message, "10.0.0.1") {
		t.Fatalf("raw error leaked into message: %q", ce.Message)
	}
	if !errors.Is(ce, raw) {
		t.Fatalf("cause should be reachable via errors.Is")
	}
}

func TestAPI_CauseNotSerialized(t *testing.T) {
	ce := API(KindTransport, "request canceled", 0, nil, context.Canceled)
	if !errors.Is(ce, context.Canceled) {
		t.Fatalf("expected errors.Is(context.Canceled)")
	}
	b, err := json.Marshal(ce)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "context canceled") {
		t.Fatalf("cause leaked into payload: %s", b)
	}
	if !strings.Contains(string(b), `"code":"transport"`) {
		t.Fatalf("payload missing code: %s", b)
	}
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := AuthFailure(ReasonInvalidCredentials, "credentials rejected", 401, nil)
	wrapped := fmt.Errorf("ensure token: %w", base)
	if !Is(wrapped, CategoryAuth, ReasonInvalidCredentials) {
		t.Fatalf("expected Is to see through wrapping")
	}
	if Is(wrapped, CategoryAPI, KindUnauthorized) {
		t.Fatalf("unexpected match")
	}
	if !IsCategory(wrapped, "AUTH") {
		t.Fatalf("IsCategory should be case-insensitive")
	}
}

func TestTruncateContext(t *testing.T) {
	long := strings.Repeat("x", 1000)
	ce := API(KindRejected, "rejected", 422, map[string]any{"body": long, "attempts": 2}, nil)
	if got := ce.Context["body"].(string); len(got) != 256 {
		t.Fatalf("body len=%d want 256", len(got))
	}
	if ce.Context["attempts"] != 2 {
		t.Fatalf("numeric context should be kept as-is: %#v", ce.Context["attempts"])
	}
}
