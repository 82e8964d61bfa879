package service

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/cache"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/repository/catalog"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatalogRepo struct {
	m        sync.RWMutex
	products []domain.Product
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (m *mockCatalogRepo) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	m.calls.Add(1)
	time.Sleep(m.delay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Product
	for _, p := range m.products {
		if category == domain.AllCategories || p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalogRepo) GetProduct(_ context.Context, id string) (domain.Product, error) {
	return m.find(func(p domain.Product) bool { return p.ID == id })
}

func (m *mockCatalogRepo) GetProductBySlug(_ context.Context, slug string) (domain.Product, error) {
	return m.find(func(p domain.Product) bool { return p.Slug == slug })
}

func (m *mockCatalogRepo) find(match func(domain.Product) bool) (domain.Product, error) {
	m.calls.Add(1)
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return domain.Product{}, m.err
	}
	for _, p := range m.products {
		if match(p) {
			p.Images = slices.Clone(p.Images)
			return p, nil
		}
	}
	return domain.Product{}, catalog.ErrProductNotFound
}

func (m *mockCatalogRepo) ListSlugs(context.Context) ([]string, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	var slugs []string
	for _, p := range m.products {
		slugs = append(slugs, p.Slug)
	}
	return slugs, m.err
}

func (m *mockCatalogRepo) CreateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return domain.Product{}, m.err
	}
	p.ID = fmt.Sprintf("p%d", len(m.products)+1)
	m.products = append(m.products, p)
	return p, nil
}

type mockCatalogCache struct {
	m           sync.RWMutex
	lists       map[string][]domain.Product
	items       map[string]*domain.Product
	err         error
	invalidated int
}

func newMockCatalogCache() *mockCatalogCache {
	return &mockCatalogCache{
		lists: make(map[string][]domain.Product),
		items: make(map[string]*domain.Product),
	}
}

func (m *mockCatalogCache) GetProducts(_ context.Context, category string) ([]domain.Product, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.lists[category]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return p, nil
}

func (m *mockCatalogCache) SetProducts(_ context.Context, category string, products []domain.Product) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.lists[category] = products
	return m.err
}

func (m *mockCatalogCache) GetProduct(_ context.Context, ref string) (*domain.Product, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.items[ref]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return p, nil
}

func (m *mockCatalogCache) SetProduct(_ context.Context, ref string, p *domain.Product) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.items[ref] = p
	return m.err
}

func (m *mockCatalogCache) Invalidate(context.Context) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.lists = make(map[string][]domain.Product)
	m.items = make(map[string]*domain.Product)
	m.invalidated++
	return m.err
}

func (m *mockCatalogCache) hasList(category string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.lists[category]
	return ok
}

func (m *mockCatalogCache) hasItem(ref string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.items[ref]
	return ok
}

type mockImages struct{}

func (mockImages) Upload(context.Context, string, io.Reader, string) error { return nil }
func (mockImages) Download(context.Context, string) ([]byte, error)        { return nil, nil }
func (mockImages) Remove(context.Context, ...string) error                 { return nil }
func (mockImages) PublicURL(path string) string                            { return "https://cdn.test/products/" + path }

type mockFeed struct {
	m        sync.Mutex
	table    string
	handler  func(backend.Change)
	canceled bool
}

func (f *mockFeed) Subscribe(_ context.Context, table string, _ backend.ChangeEvent, handler func(backend.Change)) (func(), error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.table = table
	f.handler = handler
	return func() { f.canceled = true }, nil
}

func sampleProducts() []domain.Product {
	return []domain.Product{
		{ID: "p1", Name: "Raspberry Pi 4 Model B", Slug: "raspberry-pi-4-model-b", Category: "Single Board Computers",
			Price: decimal.RequireFromString("55.99"), Images: []string{"raspberry-pi-4.jpg", "https://example.com/pi-side.jpg"}},
		{ID: "p2", Name: "Arduino Uno Rev3", Slug: "arduino-uno-rev3", Category: "Microcontrollers",
			Price: decimal.RequireFromString("23.00"), ImageURL: "arduino-uno.jpg"},
		{ID: "p3", Name: "Sensor Kit V2.0", Slug: "sensor-kit-v2-0", Category: "Sensors",
			Price: decimal.RequireFromString("29.99")},
		{ID: "p4", Name: "Maker T-Shirt", Slug: "maker-t-shirt", Category: "Clothing",
			Price: decimal.RequireFromString("19.50"),
			Variants: []domain.Variant{
				{Name: "Size", Options: []string{"S", "M", "L", "XL"}},
				{Name: "Color", Options: []string{"Black", "White"}},
			}},
	}
}

func newCatalogSUT(repo catalog.Repository, c cache.CatalogCache) *CatalogService {
	log, _ := test.NewNullLogger()
	return NewCatalogService(repo, c, mockImages{}, log)
}

func TestListProducts_CacheMissFillsCache(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts()}
	mockC := newMockCatalogCache()

	sut := newCatalogSUT(repo, mockC)
	ret, err := sut.ListProducts(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, ret, 4)

	require.Eventually(t, func() bool {
		return mockC.hasList(domain.AllCategories)
	}, 100*time.Millisecond, 10*time.Millisecond, "products were not set in cache")
}

func TestListProducts_CacheHit(t *testing.T) {
	repo := &mockCatalogRepo{err: fmt.Errorf("repo should not be called")}
	mockC := newMockCatalogCache()
	mockC.lists["Sensors"] = sampleProducts()[2:3]

	sut := newCatalogSUT(repo, mockC)
	ret, err := sut.ListProducts(context.Background(), "Sensors")
	require.NoError(t, err)
	require.Len(t, ret, 1)
	assert.Equal(t, "sensor-kit-v2-0", ret[0].Slug)
	assert.Equal(t, int32(0), repo.calls.Load())
}

func TestListProducts_CacheErrorFallsBackToRepo(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts()}
	mockC := newMockCatalogCache()
	mockC.err = fmt.Errorf("redis down")

	sut := newCatalogSUT(repo, mockC)
	ret, err := sut.ListProducts(context.Background(), "Clothing")
	require.NoError(t, err)
	require.Len(t, ret, 1)
	assert.Equal(t, "Maker T-Shirt", ret[0].Name)
}

func TestListProducts_RepoError(t *testing.T) {
	repo := &mockCatalogRepo{err: fmt.Errorf("database error")}

	sut := newCatalogSUT(repo, nil)
	ret, err := sut.ListProducts(context.Background(), "All")
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, ret)
}

func TestListProducts_ConcurrentMissesShareOneLoad(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts(), delay: 50 * time.Millisecond}

	sut := newCatalogSUT(repo, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sut.ListProducts(context.Background(), "All")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, repo.calls.Load(), int32(10))
}

func TestListProducts_CanceledCallerDoesNotFailSharedLoad(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts(), delay: 100 * time.Millisecond}
	sut := newCatalogSUT(repo, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := sut.ListProducts(first, "All")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return repo.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		products []domain.Product
		err      error
	}
	second := make(chan result, 1)
	go func() {
		products, err := sut.ListProducts(context.Background(), "All")
		second <- result{products, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.products, len(sampleProducts()))
	assert.Equal(t, int32(1), repo.calls.Load())
}

func TestGetProduct_ResolvesRelativeImages(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts()}

	sut := newCatalogSUT(repo, nil)
	p, err := sut.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://cdn.test/products/raspberry-pi-4.jpg",
		"https://example.com/pi-side.jpg",
	}, p.Images)

	p, err = sut.GetProductBySlug(context.Background(), "arduino-uno-rev3")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/products/arduino-uno.jpg", p.ImageURL)
}

func TestGetProduct_NotFound(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts()}

	sut := newCatalogSUT(repo, newMockCatalogCache())
	p, err := sut.GetProductBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	assert.Nil(t, p)
}

func TestGetProduct_CachedBySlug(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts()}
	mockC := newMockCatalogCache()

	sut := newCatalogSUT(repo, mockC)
	_, err := sut.GetProductBySlug(context.Background(), "maker-t-shirt")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mockC.hasItem("slug:maker-t-shirt")
	}, 100*time.Millisecond, 10*time.Millisecond, "product was not set in cache")
}

func TestCategories(t *testing.T) {
	repo := &mockCatalogRepo{products: sampleProducts()}

	sut := newCatalogSUT(repo, nil)
	cats, err := sut.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"All", "Clothing", "Microcontrollers", "Sensors", "Single Board Computers"}, cats)
}

func TestCreateProduct_InvalidatesCache(t *testing.T) {
	repo := &mockCatalogRepo{}
	mockC := newMockCatalogCache()
	mockC.lists["All"] = sampleProducts()

	sut := newCatalogSUT(repo, mockC)
	created, err := sut.CreateProduct(context.Background(), domain.Product{Name: "Jumper Wires"})
	require.NoError(t, err)
	assert.Equal(t, "p1", created.ID)
	assert.False(t, mockC.hasList("All"))
}

func TestWatchChanges_InvalidatesOnProductEvents(t *testing.T) {
	mockC := newMockCatalogCache()
	mockC.items["id:p1"] = &domain.Product{ID: "p1"}
	feed := &mockFeed{}

	sut := newCatalogSUT(&mockCatalogRepo{}, mockC)
	cancel, err := sut.WatchChanges(context.Background(), feed)
	require.NoError(t, err)
	assert.Equal(t, "products", feed.table)

	feed.handler(backend.Change{Table: "products", Type: backend.EventUpdate})
	assert.False(t, mockC.hasItem("id:p1"))
	assert.Equal(t, 1, mockC.invalidated)

	cancel()
	assert.True(t, feed.canceled)
}
