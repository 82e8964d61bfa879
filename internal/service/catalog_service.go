package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/cache"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/repository/catalog"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultLoadTimeout bounds a shared catalog load independently of the callers waiting on it.
const DefaultLoadTimeout = 10 * time.Second

type CatalogService struct {
	repo        catalog.Repository
	cache       cache.CatalogCache
	images      backend.ObjectStorage
	log         logrus.FieldLogger
	sfg         singleflight.Group // Prevents cache stampede
	loadTimeout time.Duration
}

// NewCatalogService builds the catalog read path. cache and images may be nil.
func NewCatalogService(repo catalog.Repository, c cache.CatalogCache, images backend.ObjectStorage, log logrus.FieldLogger) *CatalogService {
	return &CatalogService{
		repo:        repo,
		cache:       c,
		images:      images,
		log:         log.WithField("component", "catalog"),
		loadTimeout: DefaultLoadTimeout,
	}
}

func (s *CatalogService) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	if category == "" {
		category = domain.AllCategories
	}
	v, err := s.share(ctx, "list:"+category, func(ctx context.Context) (interface{}, error) {
		if s.cache != nil {
			products, err := s.cache.GetProducts(ctx, category)
			if err == nil {
				return products, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				s.log.WithError(err).Warn("cache get error")
			}
		}

		products, err := s.repo.ListProducts(ctx, category)
		if err != nil {
			return nil, err
		}
		for i := range products {
			products[i] = s.resolveImages(products[i])
		}

		s.cacheAsync(func(ctx context.Context) error {
			return s.cache.SetProducts(ctx, category, products)
		})
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Product), nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getOne(ctx, "id:"+id, func(ctx context.Context) (domain.Product, error) {
		return s.repo.GetProduct(ctx, id)
	})
}

func (s *CatalogService) GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	return s.getOne(ctx, "slug:"+slug, func(ctx context.Context) (domain.Product, error) {
		return s.repo.GetProductBySlug(ctx, slug)
	})
}

func (s *CatalogService) ListSlugs(ctx context.Context) ([]string, error) {
	return s.repo.ListSlugs(ctx)
}

// Categories returns "All" followed by the distinct categories in the catalog.
func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	products, err := s.ListProducts(ctx, domain.AllCategories)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		names = append(names, p.Category)
	}
	sort.Strings(names)
	return append([]string{domain.AllCategories}, names...), nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	created, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return domain.Product{}, err
	}
	s.Invalidate(ctx)
	return created, nil
}

// Invalidate drops cached catalog reads. Failures are logged only.
func (s *CatalogService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.WithError(err).Warn("cache invalidate error")
	}
}

// WatchChanges invalidates the cache whenever the products table changes.
func (s *CatalogService) WatchChanges(ctx context.Context, feed backend.ChangeFeed) (func(), error) {
	return feed.Subscribe(ctx, "products", backend.EventAll, func(ch backend.Change) {
		s.log.WithField("event", ch.Type).Info("products changed, invalidating catalog cache")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Invalidate(ctx)
	})
}

func (s *CatalogService) getOne(ctx context.Context, ref string, load func(context.Context) (domain.Product, error)) (*domain.Product, error) {
	v, err := s.share(ctx, ref, func(ctx context.Context) (interface{}, error) {
		if s.cache != nil {
			p, err := s.cache.GetProduct(ctx, ref)
			if err == nil {
				return p, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				s.log.WithError(err).Warn("cache get error")
			}
		}

		p, err := load(ctx)
		if err != nil {
			return nil, err
		}
		p = s.resolveImages(p)

		s.cacheAsync(func(ctx context.Context) error {
			return s.cache.SetProduct(ctx, ref, &p)
		})
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	// callers sharing a flight must not see each other's edits
	p := *v.(*domain.Product)
	return &p, nil
}

// share runs load once per key for all concurrent callers. The load keeps the
// first caller's values but not its cancellation, so one caller giving up does
// not fail the others; each caller still returns when its own ctx ends.
func (s *CatalogService) share(ctx context.Context, key string, load func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := s.sfg.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return load(ctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CatalogService) cacheAsync(set func(ctx context.Context) error) {
	if s.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := set(ctx); err != nil {
			s.log.WithError(err).Warn("cache set error")
		}
	}()
}

func (s *CatalogService) resolveImages(p domain.Product) domain.Product {
	if s.images == nil {
		return p
	}
	p.ImageURL = s.resolve(p.ImageURL)
	if len(p.Images) > 0 {
		images := make([]string, len(p.Images))
		for i, ref := range p.Images {
			images[i] = s.resolve(ref)
		}
		p.Images = images
	}
	return p
}

func (s *CatalogService) resolve(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "/") {
		return ref
	}
	return s.images.PublicURL(ref)
}
