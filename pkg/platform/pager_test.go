package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

// pagedTransport serves three pages keyed by cursor.
func pagedTransport(hits *[]string) roundTripFunc {
	pages := map[string]string{
		"":   `{"items":[{"id":1},{"id":2}],"next_cursor":"c1"}`,
		"c1": `{"items":[{"id":3}],"next_cursor":"c2"}`,
		"c2": `{"items":[{"id":4},{"id":5}],"next_cursor":null}`,
	}
	return func(r *http.Request) (*http.Response, error) {
		cur := r.URL.Query().Get(CursorParam)
		*hits = append(*hits, cur)
		body, ok := pages[cur]
		if !ok {
			return reply(http.StatusBadRequest, `{"message":"bad cursor"}`), nil
		}
		return reply(http.StatusOK, body), nil
	}
}

func ids(t *testing.T, items []json.RawMessage) []int {
	t.Helper()
	out := make([]int, 0, len(items))
	for _, it := range items {
		var v struct{ ID int }
		if err := json.Unmarshal(it, &v); err != nil {
			t.Fatal(err)
		}
		out = append(out, v.ID)
	}
	return out
}

func TestPager_AllYieldsPagesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hits []string
	c, _ := newTestClient(t, pagedTransport(&hits), &fakeAuth{})
	p := c.Paginate(Request{Path: "/threats/", Query: url.Values{"limit": {"2"}}})

	var got []json.RawMessage
	for item, err := range p.All(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, item)
	}
	want := []int{1, 2, 3, 4, 5}
	gotIDs := ids(t, got)
	if len(gotIDs) != len(want) {
		t.Fatalf("ids=%v want %v", gotIDs, want)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("ids=%v want %v", gotIDs, want)
		}
	}
	if len(hits) != 3 || hits[0] != "" || hits[1] != "c1" || hits[2] != "c2" {
		t.Fatalf("cursor sequence=%v", hits)
	}
	if !p.Done() || p.Cursor() != "" || p.Pages() != 3 {
		t.Fatalf("done=%v cursor=%q pages=%d", p.Done(), p.Cursor(), p.Pages())
	}
}

func TestPager_AbandonAfterFirstPage(t *testing.T) {
	var hits []string
	c, _ := newTestClient(t, pagedTransport(&hits), &fakeAuth{})
	p := c.Paginate(Request{Path: "/threats/"})

	n := 0
	for _, err := range p.All(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if len(hits) != 1 {
		t.Fatalf("requests=%d want 1 after abandoning page one", len(hits))
	}
	if p.Cursor() != "c1" || p.Done() {
		t.Fatalf("cursor=%q done=%v", p.Cursor(), p.Done())
	}

	// Ranging again resumes forward, never from the start.
	var rest []json.RawMessage
	for item, err := range p.All(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		rest = append(rest, item)
	}
	if got := ids(t, rest); len(got) != 3 || got[0] != 3 {
		t.Fatalf("resumed ids=%v", got)
	}
}

func TestPager_NextAndMidPageBreak(t *testing.T) {
	var hits []string
	c, _ := newTestClient(t, pagedTransport(&hits), &fakeAuth{})
	p := c.Paginate(Request{Path: "/threats/"})

	for range p.All(context.Background()) {
		break
	}
	items, err := p.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, items); len(got) != 1 || got[0] != 2 {
		t.Fatalf("Next should return the rest of page one, got %v", got)
	}
	for {
		if _, err = p.Next(context.Background()); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrNoMorePages) {
		t.Fatalf("want ErrNoMorePages, got %v", err)
	}
}

func TestPager_BareArrayIsFinalPage(t *testing.T) {
	calls := 0
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return reply(http.StatusOK, `[{"id":9}]`), nil
	})
	c, _ := newTestClient(t, rt, &fakeAuth{})
	p := c.Paginate(Request{Path: "/dashboard/types"})
	items, err := p.Next(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("items=%d err=%v", len(items), err)
	}
	if _, err := p.Next(context.Background()); !errors.Is(err, ErrNoMorePages) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestPager_ErrorStopsSequence(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return reply(http.StatusNotFound, `{}`), nil
	})
	c, _ := newTestClient(t, rt, &fakeAuth{})
	var errs int
	for _, err := range c.Paginate(Request{Path: "/nope/"}).All(context.Background()) {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("errors=%d want 1", errs)
	}
}

func TestPager_StuckCursorFails(t *testing.T) {
	var calls atomic.Int32
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return reply(http.StatusOK, `{"items":[{"id":1}],"next_cursor":"same"}`), nil
	})
	c, _ := newTestClient(t, rt, &fakeAuth{})

	var (
		items int
		last  error
	)
	for _, err := range c.Paginate(Request{Path: "/threats/"}).All(context.Background()) {
		if err != nil {
			last = err
			continue
		}
		items++
	}
	if !errmodel.Is(last, errmodel.CategoryAPI, errmodel.KindTransport) {
		t.Fatalf("err=%v", last)
	}
	if items != 1 || calls.Load() != 2 {
		t.Fatalf("items=%d calls=%d", items, calls.Load())
	}
}

func TestPager_EmptyPagesBounded(t *testing.T) {
	var calls atomic.Int32
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n := calls.Add(1)
		return reply(http.StatusOK, fmt.Sprintf(`{"items":[],"next_cursor":"c%d"}`, n)), nil
	})
	c, _ := newTestClient(t, rt, &fakeAuth{})

	var last error
	for _, err := range c.Paginate(Request{Path: "/threats/"}).All(context.Background()) {
		if err != nil {
			last = err
		}
	}
	if !errmodel.Is(last, errmodel.CategoryAPI, errmodel.KindTransport) {
		t.Fatalf("err=%v", last)
	}
	if calls.Load() != MaxEmptyPages {
		t.Fatalf("calls=%d want %d", calls.Load(), MaxEmptyPages)
	}
}

func TestPager_RefreshesTokenMidSequence(t *testing.T) {
	var (
		mu           sync.Mutex
		unauthorized int
	)
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Query().Get(CursorParam) == "" {
			return reply(http.StatusOK, `{"items":[{"id":1}],"next_cursor":"c1"}`), nil
		}
		if r.Header.Get("Authorization") == "Bearer tok1" {
			mu.Lock()
			unauthorized++
			mu.Unlock()
			return reply(http.StatusUnauthorized, ``), nil
		}
		return reply(http.StatusOK, `{"items":[{"id":2}]}`), nil
	})
	a := &fakeAuth{}
	c, _ := newTestClient(t, rt, a)

	var got []json.RawMessage
	for item, err := range c.Paginate(Request{Path: "/threats/"}).All(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, item)
	}
	if ids := ids(t, got); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids=%v", ids)
	}
	if a.calls.Load() != 2 || unauthorized != 1 {
		t.Fatalf("exchanges=%d 401s=%d", a.calls.Load(), unauthorized)
	}
}

func TestPager_RetriesTransientMidSequence(t *testing.T) {
	var second atomic.Int32
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Query().Get(CursorParam) == "" {
			return reply(http.StatusOK, `{"items":[{"id":1}],"next_cursor":"c1"}`), nil
		}
		if second.Add(1) == 1 {
			return reply(http.StatusServiceUnavailable, ``), nil
		}
		return reply(http.StatusOK, `{"items":[{"id":2}]}`), nil
	})
	c, rec := newTestClient(t, rt, &fakeAuth{})

	p := c.Paginate(Request{Path: "/threats/"})
	var got []json.RawMessage
	for item, err := range p.All(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, item)
	}
	if ids := ids(t, got); len(ids) != 2 || ids[1] != 2 {
		t.Fatalf("ids=%v", ids)
	}
	if second.Load() != 2 || len(rec.delays) != 1 || p.Pages() != 2 {
		t.Fatalf("attempts=%d delays=%v pages=%d", second.Load(), rec.delays, p.Pages())
	}
}
