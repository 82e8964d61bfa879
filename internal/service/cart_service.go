package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/variant"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

const DefaultSessionCapacity = 10_000

// MaxLineQuantity bounds a single line, including quantities reached by merging.
const MaxLineQuantity = 99

var (
	ErrQuantityLimit = errors.New("line quantity limit exceeded")
	// ErrCartUnavailable means the stored cart could not be read, so it is not
	// safe to write over it.
	ErrCartUnavailable = errors.New("cart storage unavailable")
)

// CartStore is the persistence side of a cart session. Load reports false when the
// slot could not be read; absent or unreadable values load as an empty cart.
type CartStore interface {
	Load(ctx context.Context, profileID string) (domain.Cart, bool)
	Save(ctx context.Context, profileID string, c domain.Cart)
}

type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// ActionRecorder counts reducer outcomes; err is nil for applied actions.
type ActionRecorder interface {
	ObserveCartAction(action string, err error)
}

type cartSession struct {
	mu     sync.Mutex
	cart   domain.Cart
	loaded bool

	refs int // guarded by CartService.mu
}

// CartService keeps one authoritative in-memory cart per browser profile. A
// session is loaded from the store on first touch and written back after every
// applied action. Sessions in use are pinned in active so LRU eviction never
// splits one profile across two sessions.
type CartService struct {
	store    CartStore
	products ProductLookup
	recorder ActionRecorder
	log      logrus.FieldLogger

	mu       sync.Mutex
	sessions *lru.Cache[string, *cartSession]
	active   map[string]*cartSession
}

func NewCartService(store CartStore, products ProductLookup, recorder ActionRecorder, capacity int, log logrus.FieldLogger) (*CartService, error) {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	sessions, err := lru.New[string, *cartSession](capacity)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	return &CartService{
		store:    store,
		products: products,
		recorder: recorder,
		log:      log.WithField("component", "cart"),
		sessions: sessions,
		active:   make(map[string]*cartSession),
	}, nil
}

// GetCart returns the profile's cart. When the store cannot be read the cart is
// shown empty and the load is retried on the next touch.
func (s *CartService) GetCart(ctx context.Context, profileID string) domain.Cart {
	sess := s.acquire(profileID)
	defer s.release(profileID, sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.ensureLoaded(ctx, profileID, sess)
	return sess.cart
}

// AddLine snapshots the product from the catalog and adds it with the chosen
// variants. Products that declare variants need a choice on every axis.
func (s *CartService) AddLine(ctx context.Context, profileID, productID string, quantity int, choices map[string]string) (domain.Cart, error) {
	if quantity < 1 {
		s.observe(cart.AddLine{}.Name(), cart.ErrInvalidQuantity)
		return s.GetCart(ctx, profileID), cart.ErrInvalidQuantity
	}
	if quantity > MaxLineQuantity {
		s.observe(cart.AddLine{}.Name(), ErrQuantityLimit)
		return s.GetCart(ctx, profileID), ErrQuantityLimit
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return domain.Cart{}, err
	}

	sel := variant.NewSelection(product.Variants)
	if err := sel.SelectAll(choices); err != nil {
		s.observe(cart.AddLine{}.Name(), err)
		return s.GetCart(ctx, profileID), err
	}
	selected, err := sel.Complete()
	if err != nil {
		s.observe(cart.AddLine{}.Name(), err)
		return s.GetCart(ctx, profileID), err
	}

	key := domain.NewLineKey(product.ID, selected)
	return s.dispatch(ctx, profileID, cart.AddLine{
		Product: cart.Snapshot{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			ImageRef:  product.Thumbnail(),
		},
		Quantity:         quantity,
		SelectedVariants: selected,
	}, func(c domain.Cart) error {
		if i, ok := c.Find(key); ok && c.Lines[i].Quantity+quantity > MaxLineQuantity {
			return ErrQuantityLimit
		}
		return nil
	})
}

func (s *CartService) SetQuantity(ctx context.Context, profileID string, key domain.LineKey, quantity int) (domain.Cart, error) {
	if quantity > MaxLineQuantity {
		s.observe(cart.SetQuantity{}.Name(), ErrQuantityLimit)
		return s.GetCart(ctx, profileID), ErrQuantityLimit
	}
	return s.dispatch(ctx, profileID, cart.SetQuantity{Key: key, Quantity: quantity}, nil)
}

func (s *CartService) RemoveLine(ctx context.Context, profileID string, key domain.LineKey) (domain.Cart, error) {
	return s.dispatch(ctx, profileID, cart.RemoveLine{Key: key}, nil)
}

func (s *CartService) Clear(ctx context.Context, profileID string) (domain.Cart, error) {
	return s.dispatch(ctx, profileID, cart.Clear{}, nil)
}

// dispatch applies a under the session lock after guard, if any, accepts the
// current cart. A rejected action leaves the cart untouched and skips the save.
func (s *CartService) dispatch(ctx context.Context, profileID string, a cart.Action, guard func(domain.Cart) error) (domain.Cart, error) {
	sess := s.acquire(profileID)
	defer s.release(profileID, sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !s.ensureLoaded(ctx, profileID, sess) {
		s.observe(a.Name(), ErrCartUnavailable)
		return sess.cart, ErrCartUnavailable
	}

	if guard != nil {
		if err := guard(sess.cart); err != nil {
			s.observe(a.Name(), err)
			return sess.cart, err
		}
	}

	next, err := cart.Apply(sess.cart, a)
	s.observe(a.Name(), err)
	if err != nil {
		return sess.cart, err
	}

	sess.cart = next
	s.store.Save(ctx, profileID, next)
	s.log.WithFields(logrus.Fields{
		"profile_id": profileID,
		"action":     a.Name(),
		"lines":      len(next.Lines),
	}).Debug("cart updated")
	return next, nil
}

// acquire returns the profile's session and pins it until release.
func (s *CartService) acquire(profileID string) *cartSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.active[profileID]
	if !ok {
		sess, ok = s.sessions.Get(profileID)
		if !ok {
			sess = &cartSession{}
		}
		s.active[profileID] = sess
	}
	sess.refs++
	// refresh recency; an evicted pinned session is re-added here
	s.sessions.Add(profileID, sess)
	return sess
}

func (s *CartService) release(profileID string, sess *cartSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.refs--
	if sess.refs == 0 {
		delete(s.active, profileID)
	}
}

// ensureLoaded reports whether the session holds the stored cart. A failed read
// leaves the session unloaded so the next touch retries.
func (s *CartService) ensureLoaded(ctx context.Context, profileID string, sess *cartSession) bool {
	if sess.loaded {
		return true
	}
	c, ok := s.store.Load(ctx, profileID)
	sess.cart = c
	sess.loaded = ok
	return ok
}

func (s *CartService) observe(action string, err error) {
	if s.recorder != nil {
		s.recorder.ObserveCartAction(action, err)
	}
}
