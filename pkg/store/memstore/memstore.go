// Package memstore is an in-memory store.DocumentStore.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/devici-mcp/pkg/store"
)

// Store keeps every version in memory.
type Store struct {
	mu   sync.RWMutex
	data map[string][]store.Record // name -> versions (ascending)
	now  func() time.Time
}

func New() *Store { return &Store{data: make(map[string][]store.Record), now: time.Now} }

// Save adds a new version. If name exists, version increments by 1; otherwise starts at 1.
func (s *Store) Save(_ context.Context, name string, data []byte) (store.Record, error) {
	if err := store.ValidName(name); err != nil {
		return store.Record{}, err
	}
	canon, sum, err := store.Canonical(data)
	if err != nil {
		return store.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.data[name]
	next := 1
	if n := len(versions); n > 0 {
		if versions[n-1].Checksum == sum {
			return versions[n-1], nil
		}
		next = versions[n-1].Version + 1
	}
	rec := store.Record{
		ID:        uuid.NewString(),
		Name:      name,
		Version:   next,
		Checksum:  sum,
		Data:      append([]byte(nil), canon...),
		CreatedAt: s.now().UTC(),
	}
	s.data[name] = append(versions, rec)
	return rec, nil
}

// Get retrieves a specific version; if version <= 0 it returns the latest.
func (s *Store) Get(_ context.Context, name string, version int) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.data[name]
	if len(versions) == 0 {
		return store.Record{}, store.ErrNotFound
	}
	if version <= 0 {
		return versions[len(versions)-1], nil
	}
	// versions are ascending; binary search by Version
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= version })
	if i < len(versions) && versions[i].Version == version {
		return versions[i], nil
	}
	return store.Record{}, store.ErrNotFound
}

func (s *Store) Versions(_ context.Context, name string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.data[name]
	if len(versions) == 0 {
		return nil, store.ErrNotFound
	}
	out := make([]store.Record, len(versions))
	for i, r := range versions {
		r.Data = nil
		out[i] = r
	}
	return out, nil
}

func (s *Store) Names(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for n := range s.data {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close() error { return nil }
