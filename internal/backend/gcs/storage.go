// Package gcs stores product imagery in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/fjod/go_storefront/internal/backend"
	"google.golang.org/api/option"
)

const defaultPublicBaseURL = "https://storage.googleapis.com"

// Bucket implements backend.ObjectStorage. Objects are expected to be publicly
// readable through bucket IAM, so PublicURL needs no signing.
type Bucket struct {
	client        *storage.Client
	name          string
	publicBaseURL string
}

type Config struct {
	Bucket          string
	CredentialsFile string
	// PublicBaseURL defaults to https://storage.googleapis.com.
	PublicBaseURL string
}

// Open creates a storage client. Without a credentials file, application default
// credentials are used.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Bucket, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs: bucket is empty")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: storage.NewClient failed: %w", err)
	}
	return New(client, cfg.Bucket, cfg.PublicBaseURL), nil
}

func New(client *storage.Client, bucket, publicBaseURL string) *Bucket {
	if publicBaseURL == "" {
		publicBaseURL = defaultPublicBaseURL
	}
	return &Bucket{
		client:        client,
		name:          strings.TrimSpace(bucket),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (b *Bucket) Upload(ctx context.Context, path string, body io.Reader, contentType string) error {
	obj := objectName(path)
	if obj == "" {
		return fmt.Errorf("gcs: object path is empty: %w", backend.ErrInvalidInput)
	}
	w := b.client.Bucket(b.name).Object(obj).NewWriter(ctx)
	if ct := strings.TrimSpace(contentType); ct != "" {
		w.ContentType = ct
	}
	w.ChunkSize = 0
	w.Metadata = map[string]string{
		"uploadedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", obj, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: upload %s: %w", obj, err)
	}
	return nil
}

func (b *Bucket) Download(ctx context.Context, path string) ([]byte, error) {
	obj := objectName(path)
	r, err := b.client.Bucket(b.name).Object(obj).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gcs: %s: %w", obj, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs: open %s: %w", obj, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs: read %s: %w", obj, err)
	}
	return data, nil
}

// Remove deletes objects, stopping at the first failure. Missing objects are skipped.
func (b *Bucket) Remove(ctx context.Context, paths ...string) error {
	bh := b.client.Bucket(b.name)
	for _, p := range paths {
		obj := objectName(p)
		if obj == "" {
			continue
		}
		if err := bh.Object(obj).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gcs: delete %s: %w", obj, err)
		}
	}
	return nil
}

func (b *Bucket) PublicURL(path string) string {
	segments := strings.Split(objectName(path), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return b.publicBaseURL + "/" + url.PathEscape(b.name) + "/" + strings.Join(segments, "/")
}

func (b *Bucket) Close() error {
	return b.client.Close()
}

func objectName(path string) string {
	return strings.TrimLeft(strings.TrimSpace(path), "/")
}
