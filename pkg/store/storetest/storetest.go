// Package storetest holds behaviour checks shared by every store.DocumentStore backend.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wilhg/devici-mcp/pkg/store"
)

const (
	docV1 = `{"otmVersion":"0.2.0","project":{"id":"p","name":"Shop"}}`
	docV2 = `{"otmVersion":"0.2.0","project":{"id":"p","name":"Shop v2"}}`
)

// Run exercises s and closes it when the test ends.
func Run(t *testing.T, s store.DocumentStore) {
	t.Helper()
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	names, err := s.Names(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("new store has names %v", names)
	}
	if _, err := s.Get(ctx, "shop", 0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get missing: err=%v", err)
	}

	r1, err := s.Save(ctx, "shop", []byte(docV1))
	if err != nil {
		t.Fatal(err)
	}
	if r1.Version != 1 || r1.ID == "" || r1.Checksum == "" {
		t.Fatalf("first save: %+v", r1)
	}

	// same content, different whitespace
	again, err := s.Save(ctx, "shop", []byte("{\n  \"otmVersion\": \"0.2.0\", \"project\": {\"id\": \"p\", \"name\": \"Shop\"}\n}"))
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != 1 || again.ID != r1.ID {
		t.Fatalf("identical content should not create a version: %+v", again)
	}

	r2, err := s.Save(ctx, "shop", []byte(docV2))
	if err != nil {
		t.Fatal(err)
	}
	if r2.Version != 2 {
		t.Fatalf("second save version=%d want 2", r2.Version)
	}
	if _, err := s.Save(ctx, "bank", []byte(docV1)); err != nil {
		t.Fatal(err)
	}

	latest, err := s.Get(ctx, "shop", 0)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 2 || string(latest.Data) != docV2 {
		t.Fatalf("latest=%d data=%s", latest.Version, latest.Data)
	}
	first, err := s.Get(ctx, "shop", 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(first.Data) != docV1 {
		t.Fatalf("v1 data=%s", first.Data)
	}
	if _, err := s.Get(ctx, "shop", 3); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get v3: err=%v", err)
	}

	versions, err := s.Versions(ctx, "shop")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Fatalf("versions=%+v", versions)
	}
	if versions[0].Data != nil {
		t.Fatal("versions should omit data")
	}
	if _, err := s.Versions(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("versions missing: err=%v", err)
	}

	names, err = s.Names(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "bank,shop" {
		t.Fatalf("names=%v", names)
	}

	d, err := store.Diff(ctx, s, "shop", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(d, `-    "name": "Shop"`) || !strings.Contains(d, `+    "name": "Shop v2"`) {
		t.Fatalf("diff:\n%s", d)
	}

	if _, err := s.Save(ctx, "", []byte(docV1)); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("empty name: err=%v", err)
	}
	if _, err := s.Save(ctx, "broken", []byte(`{"otmVersion":`)); !errors.Is(err, store.ErrInvalid) {
		t.Fatalf("invalid json: err=%v", err)
	}
}
