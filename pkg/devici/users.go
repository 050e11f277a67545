package devici

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
	"github.com/wilhg/devici-mcp/pkg/platform"
)

// Invitation is the body of a user invitation.
type Invitation struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// SearchUsers finds users whose field matches text. The platform takes both
// as a single path segment, /users/search/field=<field>&text=<text>.
func (c *Client) SearchUsers(ctx context.Context, field, text string) (json.RawMessage, error) {
	if field == "" || text == "" {
		return nil, errmodel.Validation("missing_argument", "field and text are required", nil)
	}
	seg := "field=" + searchEscape(field) + "&text=" + searchEscape(text)
	return c.call(ctx, platform.Request{Method: http.MethodGet, Path: "/users/search/" + seg})
}

func searchEscape(s string) string {
	return strings.NewReplacer("&", "%26", "=", "%3D").Replace(url.PathEscape(s))
}

// InviteUser sends an invitation to join the platform.
func (c *Client) InviteUser(ctx context.Context, inv Invitation) (json.RawMessage, error) {
	if inv.Email == "" || !strings.Contains(inv.Email, "@") {
		return nil, errmodel.Validation("invalid_argument", "email must be an address", nil)
	}
	if inv.Role == "" {
		return nil, errmodel.Validation("missing_argument", "role is required", nil)
	}
	return c.call(ctx, platform.Request{Method: http.MethodPost, Path: "/users/invite", Body: inv})
}
