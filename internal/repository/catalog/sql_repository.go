package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/backend/sqlbackend"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
)

const productColumns = `id, name, description, price, image_url, images, category, stock, is_featured, slug, variants, created_at`

// SQLRepository stores products in SQLite or Postgres.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sqlbackend.DB) *SQLRepository {
	return &SQLRepository{db: db.DB}
}

func (r *SQLRepository) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC`
	var args []any
	if filtersCategory(category) {
		query = `SELECT ` + productColumns + ` FROM products WHERE category = $1 ORDER BY created_at DESC`
		args = append(args, category)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

func (r *SQLRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Product{}, ErrProductNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return r.one(row)
}

func (r *SQLRepository) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
	return r.one(row)
}

func (r *SQLRepository) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT slug FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query slugs: %w", err)
	}
	defer rows.Close()

	slugs := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan slug: %w", err)
		}
		slugs = append(slugs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return slugs, nil
}

func (r *SQLRepository) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Name)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to marshal images: %w", err)
	}
	variants, err := json.Marshal(nonNilVariants(p.Variants))
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to marshal variants: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Name, p.Description, p.Price.StringFixed(2), p.ImageURL, string(images),
		p.Category, p.Stock, p.IsFeatured, p.Slug, string(variants), p.CreatedAt,
	)
	if err != nil {
		if sqlbackend.IsUniqueViolation(err) {
			return domain.Product{}, fmt.Errorf("product slug %q: %w", p.Slug, ErrDuplicateSlug)
		}
		return domain.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

var ErrDuplicateSlug = errors.New("slug already in use")

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) one(row *sql.Row) (domain.Product, error) {
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, ErrProductNotFound
	}
	return p, err
}

func scanProduct(s scanner) (domain.Product, error) {
	var p domain.Product
	var images, variants []byte
	err := s.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.ImageURL,
		&images,
		&p.Category,
		&p.Stock,
		&p.IsFeatured,
		&p.Slug,
		&variants,
		&p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan product: %w", err)
	}

	if err := json.Unmarshal(images, &p.Images); err != nil {
		return p, fmt.Errorf("failed to unmarshal images: %w", err)
	}
	if err := json.Unmarshal(variants, &p.Variants); err != nil {
		return p, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	return p, nil
}
