package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const productsTable = "products"

// BackendRepository reads products through the hosted backend's row API.
type BackendRepository struct {
	q backend.Querier
}

func NewBackendRepository(q backend.Querier) *BackendRepository {
	return &BackendRepository{q: q}
}

type productInsert struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `json:"price"`
	ImageURL    string           `json:"image_url"`
	Images      []string         `json:"images"`
	Category    string           `json:"category"`
	Stock       int              `json:"stock"`
	IsFeatured  bool             `json:"is_featured"`
	Slug        string           `json:"slug"`
	Variants    []domain.Variant `json:"variants"`
	CreatedAt   *time.Time       `json:"created_at,omitempty"`
}

func (r *BackendRepository) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	f := backend.Filter{}.Order("created_at", true)
	if filtersCategory(category) {
		f = f.Eq("category", category)
	}
	return r.selectProducts(ctx, f)
}

func (r *BackendRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return r.selectOne(ctx, backend.Filter{}.Eq("id", id).Take(1))
}

func (r *BackendRepository) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	return r.selectOne(ctx, backend.Filter{}.Eq("slug", slug).Take(1))
}

func (r *BackendRepository) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := r.q.Select(ctx, productsTable, backend.Filter{}.Select("slug").Order("created_at", true))
	if err != nil {
		return nil, fmt.Errorf("failed to query slugs: %w", err)
	}
	type slugRow struct {
		Slug string `json:"slug"`
	}
	decoded, err := backend.DecodeRows[slugRow](rows)
	if err != nil {
		return nil, err
	}
	slugs := make([]string, 0, len(decoded))
	for _, s := range decoded {
		slugs = append(slugs, s.Slug)
	}
	return slugs, nil
}

func (r *BackendRepository) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.Slug == "" {
		p.Slug = Slugify(p.Name)
	}
	in := productInsert{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		ImageURL:    p.ImageURL,
		Images:      nonNil(p.Images),
		Category:    p.Category,
		Stock:       p.Stock,
		IsFeatured:  p.IsFeatured,
		Slug:        p.Slug,
		Variants:    nonNilVariants(p.Variants),
	}
	if !p.CreatedAt.IsZero() {
		in.CreatedAt = &p.CreatedAt
	}

	rows, err := r.q.Insert(ctx, productsTable, in)
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	created, err := backend.DecodeRows[domain.Product](rows)
	if err != nil {
		return domain.Product{}, err
	}
	if len(created) == 0 {
		return domain.Product{}, fmt.Errorf("insert returned no rows")
	}
	return created[0], nil
}

func (r *BackendRepository) selectProducts(ctx context.Context, f backend.Filter) ([]domain.Product, error) {
	rows, err := r.q.Select(ctx, productsTable, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return backend.DecodeRows[domain.Product](rows)
}

func (r *BackendRepository) selectOne(ctx context.Context, f backend.Filter) (domain.Product, error) {
	products, err := r.selectProducts(ctx, f)
	if errors.Is(err, backend.ErrNotFound) {
		return domain.Product{}, ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	if len(products) == 0 {
		return domain.Product{}, ErrProductNotFound
	}
	return products[0], nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilVariants(v []domain.Variant) []domain.Variant {
	if v == nil {
		return []domain.Variant{}
	}
	return v
}
