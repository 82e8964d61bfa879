// Package cache holds catalog reads in Redis so product pages skip the backend.
package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_storefront/internal/domain"
)

type CatalogCache interface {
	GetProducts(ctx context.Context, category string) ([]domain.Product, error)
	SetProducts(ctx context.Context, category string, products []domain.Product) error
	GetProduct(ctx context.Context, ref string) (*domain.Product, error)
	SetProduct(ctx context.Context, ref string, product *domain.Product) error
	// Invalidate drops every catalog entry.
	Invalidate(ctx context.Context) error
}

var ErrCacheMiss = errors.New("cache miss")
