package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/url"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

// ErrNoMorePages is returned by Pager.Next after the final page.
var ErrNoMorePages = errors.New("platform: no more pages")

// CursorParam is the query parameter carrying the page cursor.
const CursorParam = "cursor"

// MaxEmptyPages bounds consecutive empty pages that still carry a cursor.
const MaxEmptyPages = 5

type envelope struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor *string           `json:"next_cursor"`
}

// Pager walks a paginated listing forward, one request per page, on demand.
// It is not safe for concurrent use and never restarts.
type Pager struct {
	c      *Client
	req    Request
	cursor string
	last   bool
	buf    []json.RawMessage
	pages  int
	empty  int
}

// Paginate returns a Pager for req. No request is made until the first page
// is asked for.
func (c *Client) Paginate(req Request) *Pager {
	q := url.Values{}
	for k, vs := range req.Query {
		q[k] = append([]string(nil), vs...)
	}
	req.Query = q
	return &Pager{c: c, req: req, cursor: req.Query.Get(CursorParam)}
}

// Next returns the remaining items of the current page, or fetches the next
// one. It returns ErrNoMorePages once everything was consumed.
func (p *Pager) Next(ctx context.Context) ([]json.RawMessage, error) {
	if len(p.buf) > 0 {
		items := p.buf
		p.buf = nil
		return items, nil
	}
	if p.last {
		return nil, ErrNoMorePages
	}
	return p.fetch(ctx)
}

// All yields items across pages. Breaking out of the loop stops fetching;
// ranging again resumes where the previous loop stopped.
func (p *Pager) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			if len(p.buf) == 0 {
				if p.last {
					return
				}
				items, err := p.fetch(ctx)
				if err != nil {
					yield(nil, err)
					return
				}
				p.buf = items
				continue
			}
			item := p.buf[0]
			p.buf = p.buf[1:]
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Cursor is the cursor of the next unfetched page, empty when none remains.
func (p *Pager) Cursor() string {
	if p.last {
		return ""
	}
	return p.cursor
}

// Done reports whether every item was consumed.
func (p *Pager) Done() bool { return p.last && len(p.buf) == 0 }

// Pages is the number of pages fetched so far.
func (p *Pager) Pages() int { return p.pages }

func (p *Pager) fetch(ctx context.Context) ([]json.RawMessage, error) {
	req := p.req
	req.Query = url.Values{}
	for k, vs := range p.req.Query {
		req.Query[k] = vs
	}
	req.Query.Del(CursorParam)
	if p.cursor != "" {
		req.Query.Set(CursorParam, p.cursor)
	}

	res, err := p.c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	p.pages++

	items, next, err := decodePage(res)
	if err != nil {
		p.last = true
		return nil, err
	}
	if next != "" && next == p.cursor {
		p.last = true
		return nil, errmodel.API(errmodel.KindTransport, "page cursor did not advance", res.Status,
			map[string]any{"path": req.Path, "cursor": next}, nil)
	}
	if len(items) == 0 && next != "" {
		p.empty++
		if p.empty >= MaxEmptyPages {
			p.last = true
			return nil, errmodel.API(errmodel.KindTransport, "too many empty pages", res.Status,
				map[string]any{"path": req.Path, "pages": p.empty}, nil)
		}
	} else {
		p.empty = 0
	}
	if next == "" {
		p.last = true
	}
	p.cursor = next
	return items, nil
}

func decodePage(res *Response) ([]json.RawMessage, string, error) {
	body := bytes.TrimSpace(res.Body)
	if len(body) == 0 {
		return nil, "", nil
	}
	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, "", errmodel.API(errmodel.KindTransport, "malformed page", res.Status, nil, err)
		}
		return items, "", nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, "", errmodel.API(errmodel.KindTransport, "malformed page", res.Status, nil, err)
	}
	next := ""
	if env.NextCursor != nil {
		next = *env.NextCursor
	}
	return env.Items, next, nil
}
