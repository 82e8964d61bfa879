package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Bucket adapts one storage bucket to backend.ObjectStorage.
type Bucket struct {
	client *Client
	name   string
}

func (c *Client) Bucket(name string) *Bucket {
	return &Bucket{client: c, name: name}
}

func (b *Bucket) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", b.client.baseURL, b.name, strings.TrimPrefix(path, "/"))
}

// Upload writes the object, replacing any existing one.
func (b *Bucket) Upload(ctx context.Context, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(path), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(ctx, req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if _, err := b.client.send(req); err != nil {
		return fmt.Errorf("upload %s/%s: %w", b.name, path, err)
	}
	return nil
}

func (b *Bucket) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(ctx, req)
	req.Header.Set("Accept", "*/*")

	resp, err := b.client.send(req)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", b.name, path, err)
	}
	return resp.Body, nil
}

func (b *Bucket) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/storage/v1/object/%s", b.client.baseURL, b.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	b.client.setHeaders(ctx, req)
	req.Header.Set("Content-Type", "application/json")

	if _, err := b.client.send(req); err != nil {
		return fmt.Errorf("remove from %s: %w", b.name, err)
	}
	return nil
}

// PublicURL is the unauthenticated address of an object in a public bucket.
func (b *Bucket) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", b.client.baseURL, b.name, strings.TrimPrefix(path, "/"))
}
