// Package store persists validated OTM documents as named, versioned drafts.
// Implementations must provide identical semantics across backends: versions
// ascend from 1 per name, and saving content identical to the latest version
// returns that version instead of creating a new one.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrNotFound is returned when a name or version does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrInvalid wraps rejected names and non-JSON content.
	ErrInvalid = errors.New("store: invalid input")
)

// Record is one stored version of a document.
type Record struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DocumentStore stores document versions by name.
type DocumentStore interface {
	// Save stores data as the next version of name. data must be JSON.
	Save(ctx context.Context, name string, data []byte) (Record, error)
	// Get returns a version of name; version <= 0 means latest.
	Get(ctx context.Context, name string, version int) (Record, error)
	// Versions lists all versions of name in ascending order, without Data.
	Versions(ctx context.Context, name string) ([]Record, error)
	// Names lists stored document names in ascending order.
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// Canonical compacts JSON and returns it with its checksum.
func Canonical(data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, "", fmt.Errorf("%w: document is not valid JSON: %v", ErrInvalid, err)
	}
	b := buf.Bytes()
	return b, strconv.FormatUint(xxhash.Sum64(b), 16), nil
}

// ValidName rejects empty or oversized names.
func ValidName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalid)
	}
	if len(name) > 200 {
		return fmt.Errorf("%w: name is longer than 200 bytes", ErrInvalid)
	}
	return nil
}
