package devici

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
	"github.com/wilhg/devici-mcp/pkg/platform"
)

// DashboardQuery selects one dashboard chart. Start and End are dates as the
// platform accepts them, e.g. 2024-01-31.
type DashboardQuery struct {
	ChartType string
	Limit     int
	Page      int
	Start     string
	End       string
	ProjectID string
}

// DashboardTypes lists the chart types DashboardData accepts.
func (c *Client) DashboardTypes(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, platform.Request{Method: http.MethodGet, Path: "/dashboard/types"})
}

// DashboardData returns the data behind one chart.
func (c *Client) DashboardData(ctx context.Context, q DashboardQuery) (json.RawMessage, error) {
	if q.ChartType == "" {
		return nil, errmodel.Validation("missing_argument", "chart_type is required", nil)
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	v := url.Values{}
	v.Set("type", q.ChartType)
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("page", strconv.Itoa(max(q.Page, 0)))
	setIf(v, "start", q.Start)
	setIf(v, "end", q.End)
	setIf(v, "projectId", q.ProjectID)
	return c.call(ctx, platform.Request{Method: http.MethodGet, Path: "/dashboard/", Query: v})
}

// ThreatModelsReport returns the threat model report for an optional date range.
func (c *Client) ThreatModelsReport(ctx context.Context, start, end string) (json.RawMessage, error) {
	v := url.Values{}
	setIf(v, "start", start)
	setIf(v, "end", end)
	return c.call(ctx, platform.Request{Method: http.MethodGet, Path: "/reports/threat-models", Query: v})
}

func setIf(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}
