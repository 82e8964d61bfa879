package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/fjod/go_storefront/internal/backend"
)

// Select runs a PostgREST query. Conditions are equality filters.
func (c *Client) Select(ctx context.Context, table string, f backend.Filter) (backend.Rows, error) {
	params := url.Values{}
	columns := f.Columns
	if columns == "" {
		columns = "*"
	}
	params.Set("select", columns)
	for _, cond := range f.Conditions {
		params.Add(cond.Column, "eq."+formatValue(cond.Value))
	}
	if f.OrderBy != "" {
		dir := "asc"
		if f.Descending {
			dir = "desc"
		}
		params.Set("order", f.OrderBy+"."+dir)
	}
	if f.Limit > 0 {
		params.Set("limit", strconv.Itoa(f.Limit))
	}

	reqURL := fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, url.PathEscape(table), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(ctx, req)

	resp, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	var rows backend.Rows
	if err := resp.JSON(&rows); err != nil {
		return nil, fmt.Errorf("unmarshal %s rows: %w", table, err)
	}
	return rows, nil
}

// Insert posts rows (a struct, map or slice of them) and returns the stored representation.
func (c *Client) Insert(ctx context.Context, table string, rows any) (backend.Rows, error) {
	body, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	reqURL := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(ctx, req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	var out backend.Rows
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("unmarshal %s rows: %w", table, err)
	}
	return out, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
