package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_storefront/internal/auth"
	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/repository/catalog"
	"github.com/fjod/go_storefront/internal/service"
	"github.com/fjod/go_storefront/internal/variant"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

const testProfile = "7f0c2a51-3c1e-4a9e-9a57-2d4c1b0f6e11"

func sampleCatalog() map[string]domain.Product {
	return map[string]domain.Product{
		"p1": {
			ID: "p1", Slug: "canvas-tote", Name: "Canvas Tote", Category: "Bags",
			Price: decimal.RequireFromString("24.50"), Stock: 5,
			Images: []string{"https://cdn.test/tote-1.jpg", "https://cdn.test/tote-2.jpg"},
		},
		"p2": {
			ID: "p2", Slug: "field-tee", Name: "Field Tee", Category: "Apparel",
			Price: decimal.RequireFromString("18.00"), Stock: 3,
			ImageURL: "https://cdn.test/tee.jpg",
			Variants: []domain.Variant{
				{Name: "Size", Options: []string{"S", "M", "L"}},
				{Name: "Color", Options: []string{"Black", "White"}},
			},
		},
		"p3": {
			ID: "p3", Slug: "sold-out-cap", Name: "Cap", Category: "Apparel",
			Price: decimal.RequireFromString("12.00"), Stock: 0,
		},
	}
}

type mockCatalog struct {
	products map[string]domain.Product
	err      error
}

func (m *mockCatalog) ListProducts(ctx context.Context, category string) ([]domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Product
	for _, id := range []string{"p1", "p2", "p3"} {
		p, ok := m.products[id]
		if !ok {
			continue
		}
		if category == "" || category == domain.AllCategories || p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockCatalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (m *mockCatalog) GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.products {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, catalog.ErrProductNotFound
}

func (m *mockCatalog) ListSlugs(ctx context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []string{"canvas-tote", "field-tee", "sold-out-cap"}, nil
}

func (m *mockCatalog) Categories(ctx context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []string{domain.AllCategories, "Apparel", "Bags"}, nil
}

// mockCarts runs the real reducer over per-profile carts held in memory.
type mockCarts struct {
	mu       sync.Mutex
	carts    map[string]domain.Cart
	products map[string]domain.Product
	err      error
}

func newMockCarts() *mockCarts {
	return &mockCarts{carts: make(map[string]domain.Cart), products: sampleCatalog()}
}

func (m *mockCarts) GetCart(ctx context.Context, profileID string) domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[profileID]
}

func (m *mockCarts) AddLine(ctx context.Context, profileID, productID string, quantity int, choices map[string]string) (domain.Cart, error) {
	p, ok := m.products[productID]
	if !ok {
		return domain.Cart{}, catalog.ErrProductNotFound
	}
	sel := variant.NewSelection(p.Variants)
	if err := sel.SelectAll(choices); err != nil {
		return domain.Cart{}, err
	}
	chosen, err := sel.Complete()
	if err != nil {
		return domain.Cart{}, err
	}
	m.mu.Lock()
	current := m.carts[profileID]
	m.mu.Unlock()
	if i, ok := current.Find(domain.NewLineKey(p.ID, chosen)); ok && current.Lines[i].Quantity+quantity > service.MaxLineQuantity {
		return current, service.ErrQuantityLimit
	}
	return m.apply(profileID, cart.AddLine{
		Product:          cart.Snapshot{ProductID: p.ID, Name: p.Name, UnitPrice: p.Price, ImageRef: p.Thumbnail()},
		Quantity:         quantity,
		SelectedVariants: chosen,
	})
}

func (m *mockCarts) SetQuantity(ctx context.Context, profileID string, key domain.LineKey, quantity int) (domain.Cart, error) {
	return m.apply(profileID, cart.SetQuantity{Key: key, Quantity: quantity})
}

func (m *mockCarts) RemoveLine(ctx context.Context, profileID string, key domain.LineKey) (domain.Cart, error) {
	return m.apply(profileID, cart.RemoveLine{Key: key})
}

func (m *mockCarts) Clear(ctx context.Context, profileID string) (domain.Cart, error) {
	return m.apply(profileID, cart.Clear{})
}

func (m *mockCarts) apply(profileID string, a cart.Action) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.carts[profileID], m.err
	}
	next, err := cart.Apply(m.carts[profileID], a)
	if err != nil {
		return m.carts[profileID], err
	}
	m.carts[profileID] = next
	return next, nil
}

var testUser = domain.User{ID: "2b7e1c7a-5a54-4d63-9b8e-0a6b8f0e4c21", Email: "ada@example.com"}

// mockSessions understands a few fixed cookie values.
type mockSessions struct {
	mu          sync.Mutex
	signUpErr   error
	signInErr   error
	needConfirm bool
	updateErr   error
	signedOut   []string
	brokenErr   error
	user        domain.User
}

func newMockSessions() *mockSessions {
	return &mockSessions{user: testUser, brokenErr: backend.ErrUnavailable}
}

func (m *mockSessions) session(access string) domain.Session {
	return domain.Session{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         m.user,
	}
}

func (m *mockSessions) SignUp(ctx context.Context, profileID, email, password string) (domain.Session, error) {
	if m.signUpErr != nil {
		return domain.Session{}, m.signUpErr
	}
	if m.needConfirm {
		return domain.Session{User: domain.User{ID: "new", Email: email}}, nil
	}
	s := m.session("fresh")
	s.User.Email = email
	return s, nil
}

func (m *mockSessions) SignIn(ctx context.Context, profileID, email, password string) (domain.Session, error) {
	if m.signInErr != nil {
		return domain.Session{}, m.signInErr
	}
	return m.session("valid"), nil
}

func (m *mockSessions) SignOut(ctx context.Context, profileID, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signedOut = append(m.signedOut, accessToken)
	return nil
}

func (m *mockSessions) UpdateEmail(ctx context.Context, profileID, accessToken, email string) (domain.User, error) {
	if m.updateErr != nil {
		return domain.User{}, m.updateErr
	}
	if email == "" {
		return domain.User{}, auth.ErrEmailRequired
	}
	u := m.user
	u.Email = email
	return u, nil
}

func (m *mockSessions) UpdatePassword(ctx context.Context, profileID, accessToken, newPassword, confirmPassword string) (domain.User, error) {
	if m.updateErr != nil {
		return domain.User{}, m.updateErr
	}
	if newPassword != confirmPassword {
		return domain.User{}, auth.ErrPasswordMismatch
	}
	if len(newPassword) < auth.MinPasswordLength {
		return domain.User{}, auth.ErrPasswordTooShort
	}
	return m.user, nil
}

func (m *mockSessions) Session(ctx context.Context, profileID, accessToken, refreshToken string) (domain.Session, bool, error) {
	switch {
	case accessToken == "valid":
		return m.session("valid"), false, nil
	case accessToken == "broken":
		return domain.Session{}, false, m.brokenErr
	case accessToken == "revoked":
		return domain.Session{}, false, auth.ErrNoSession
	case refreshToken == "good-refresh":
		return m.session("rotated"), true, nil
	}
	return domain.Session{}, false, auth.ErrNoSession
}

type mockOrders struct {
	orders map[string][]domain.Order
	err    error
}

func (m *mockOrders) ListOrdersByUserID(ctx context.Context, userID string) ([]domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.orders[userID], nil
}

type testEnv struct {
	catalog  *mockCatalog
	carts    *mockCarts
	sessions *mockSessions
	broker   *auth.Broker
	orders   *mockOrders
	handler  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log, _ := test.NewNullLogger()
	env := &testEnv{
		catalog:  &mockCatalog{products: sampleCatalog()},
		carts:    newMockCarts(),
		sessions: newMockSessions(),
		broker:   auth.NewBroker(),
		orders:   &mockOrders{orders: map[string][]domain.Order{}},
	}
	env.handler = NewRouter(RouterConfig{
		RequestTimeout: 5 * time.Second,
		AuthRatePerSec: 100,
		AuthRateBurst:  100,
		DisableTracing: true,
	}, Deps{
		Catalog:  env.catalog,
		Carts:    env.carts,
		Sessions: env.sessions,
		Events:   env.broker,
		Orders:   env.orders,
		Log:      log,
	})
	return env
}

// do sends a request as the test profile, optionally signed in with access.
func (e *testEnv) do(method, target, body, access string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: ProfileCookie, Value: testProfile})
	if access != "" {
		req.AddCookie(&http.Cookie{Name: AccessCookie, Value: access})
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

var errBoom = errors.New("boom")
