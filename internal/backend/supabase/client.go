// Package supabase talks to a Supabase project over its REST, auth, storage and
// realtime endpoints.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client is a Supabase API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Config struct {
	URL    string
	APIKey string
	// HTTPClient overrides the default client, whose transport is traced and
	// guarded by a circuit breaker.
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(NewBreakerTransport("supabase", http.DefaultTransport)),
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

func (c *Client) URL() string { return c.baseURL }

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Err maps a failed response onto the backend error sentinels.
func (r *Response) Err() error {
	if r.StatusCode < 400 {
		return nil
	}

	var body struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Code             string `json:"code"`
	}
	msg := fmt.Sprintf("status %d", r.StatusCode)
	if err := json.Unmarshal(r.Body, &body); err == nil {
		for _, m := range []string{body.Message, body.Msg, body.ErrorDescription, body.Error} {
			if m != "" {
				msg = m
				break
			}
		}
	}

	var kind error
	switch {
	case r.StatusCode == http.StatusNotFound || body.Code == "PGRST116":
		kind = backend.ErrNotFound
	case r.StatusCode == http.StatusConflict || body.Code == "23505":
		kind = backend.ErrConflict
	case body.Error == "invalid_grant" || body.Code == "invalid_credentials":
		kind = backend.ErrInvalidCredentials
	case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
		kind = backend.ErrUnauthorized
	case r.StatusCode == http.StatusBadRequest || r.StatusCode == http.StatusUnprocessableEntity:
		kind = backend.ErrInvalidInput
	case r.StatusCode >= 500:
		kind = backend.ErrUnavailable
	default:
		return fmt.Errorf("supabase error: %s", msg)
	}
	return fmt.Errorf("supabase error: %s: %w", msg, kind)
}

// setHeaders authenticates as the anon/service key, or as the user whose token is
// carried by ctx.
func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	bearer := c.apiKey
	if t := backend.AccessToken(ctx); t != "" {
		bearer = t
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, backend.ErrUnavailable) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("http request: %v: %w", err, backend.ErrUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}

// send performs req and returns the response only when it succeeded.
func (c *Client) send(req *http.Request) (*Response, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}
