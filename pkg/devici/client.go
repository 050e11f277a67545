package devici

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
	"github.com/wilhg/devici-mcp/pkg/platform"
)

// DefaultMaxItems caps ListAll when ListOptions.MaxItems is zero. The cap is
// checked between pages, so a listing may overshoot it by less than a page.
const DefaultMaxItems = 500

// ListOptions controls a listing.
type ListOptions struct {
	Limit    int
	Cursor   string
	MaxItems int
}

// Page is a slice of a listing. NextCursor is empty on the last page.
type Page struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
}

// Client is the Devici API facade. It is safe for concurrent use.
type Client struct {
	exec   *platform.Client
	logger *zap.Logger
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(exec *platform.Client, opts ...Option) *Client {
	c := &Client{exec: exec, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns one page of a resource.
func (c *Client) List(ctx context.Context, r Resource, opts ListOptions) (Page, error) {
	return c.page(ctx, r.Path, opts)
}

// ListAll walks pages of a resource until opts.MaxItems is reached.
func (c *Client) ListAll(ctx context.Context, r Resource, opts ListOptions) (Page, error) {
	return c.collect(ctx, r.Path, opts)
}

// ListChildren returns one page of a sub-listing, or every page when all is set.
func (c *Client) ListChildren(ctx context.Context, s SubListing, parentID string, opts ListOptions, all bool) (Page, error) {
	if parentID == "" {
		return Page{}, errmodel.Validation("missing_argument", s.Param+" is required", nil)
	}
	if all {
		return c.collect(ctx, s.path(parentID), opts)
	}
	return c.page(ctx, s.path(parentID), opts)
}

func (c *Client) page(ctx context.Context, path string, opts ListOptions) (Page, error) {
	p := c.exec.Paginate(listRequest(path, opts))
	items, err := p.Next(ctx)
	if err != nil && !errors.Is(err, platform.ErrNoMorePages) {
		return Page{}, err
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return Page{Items: items, NextCursor: p.Cursor()}, nil
}

// collect reads whole pages until at least max items are held, so NextCursor
// resumes exactly after the returned items.
func (c *Client) collect(ctx context.Context, path string, opts ListOptions) (Page, error) {
	max := opts.MaxItems
	if max <= 0 {
		max = DefaultMaxItems
	}
	p := c.exec.Paginate(listRequest(path, opts))
	out := Page{Items: []json.RawMessage{}}
	for len(out.Items) < max {
		items, err := p.Next(ctx)
		if errors.Is(err, platform.ErrNoMorePages) {
			break
		}
		if err != nil {
			return Page{}, err
		}
		out.Items = append(out.Items, items...)
	}
	if !p.Done() {
		out.Truncated = true
		out.NextCursor = p.Cursor()
		c.logger.Debug("listing truncated", zap.String("path", path), zap.Int("items", len(out.Items)), zap.Int("pages", p.Pages()))
	}
	return out, nil
}

func listRequest(path string, opts ListOptions) platform.Request {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set(platform.CursorParam, opts.Cursor)
	}
	return platform.Request{Method: http.MethodGet, Path: path, Query: q}
}

// Get fetches one object by id.
func (c *Client) Get(ctx context.Context, r Resource, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, errmodel.Validation("missing_argument", "id is required", nil)
	}
	return c.call(ctx, platform.Request{Method: http.MethodGet, Path: r.item(id)})
}

// Create posts a new object. body is a JSON object, or for wrapped resources
// an object or array of objects.
func (c *Client) Create(ctx context.Context, r Resource, body json.RawMessage) (json.RawMessage, error) {
	if !r.Creatable {
		return nil, errmodel.Validation("not_creatable", r.Title+" cannot be created", nil)
	}
	payload, err := requestBody(r, body)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, platform.Request{Method: http.MethodPost, Path: r.Path, Body: payload})
}

// Update replaces an object. Wrapped resources are updated in bulk and ignore id.
func (c *Client) Update(ctx context.Context, r Resource, id string, body json.RawMessage) (json.RawMessage, error) {
	payload, err := requestBody(r, body)
	if err != nil {
		return nil, err
	}
	path := r.Path
	if !r.Wrapped {
		if id == "" {
			return nil, errmodel.Validation("missing_argument", "id is required", nil)
		}
		path = r.item(id)
	}
	return c.call(ctx, platform.Request{Method: http.MethodPut, Path: path, Body: payload})
}

func requestBody(r Resource, body json.RawMessage) (any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || (body[0] != '{' && body[0] != '[') {
		return nil, errmodel.Validation("invalid_body", "body must be a JSON object", nil)
	}
	if !json.Valid(body) {
		return nil, errmodel.Validation("invalid_body", "body is not valid JSON", nil)
	}
	if !r.Wrapped {
		if body[0] != '{' {
			return nil, errmodel.Validation("invalid_body", "body must be a JSON object", nil)
		}
		return body, nil
	}
	if body[0] == '{' {
		return map[string]any{"payload": []json.RawMessage{body}}, nil
	}
	return map[string]any{"payload": body}, nil
}

func (c *Client) call(ctx context.Context, req platform.Request) (json.RawMessage, error) {
	res, err := c.exec.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(res.Body)
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, errmodel.API(errmodel.KindTransport, "malformed platform response", res.Status, map[string]any{"path": req.Path}, nil)
	}
	return json.RawMessage(body), nil
}
