// Package catalog reads and writes products in the data backend.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/fjod/go_storefront/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

type Repository interface {
	// ListProducts returns products newest first. An empty or "All" category
	// disables filtering.
	ListProducts(ctx context.Context, category string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (domain.Product, error)
	ListSlugs(ctx context.Context) ([]string, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
}

func filtersCategory(category string) bool {
	return category != "" && !strings.EqualFold(category, domain.AllCategories)
}

// Slugify derives a URL slug from a product name.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
