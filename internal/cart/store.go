package cart

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/kv"
	"github.com/sirupsen/logrus"
)

// StorageKey is the slot the cart occupies inside a profile's key-value namespace.
const StorageKey = "cart"

// SaveFailureHook is called after a save is dropped.
type SaveFailureHook func(err error)

// Store persists one cart per browser profile. Missing or unreadable values load as
// an empty cart, and a cart that cannot be written stays authoritative in memory.
type Store struct {
	kv        kv.Store
	log       logrus.FieldLogger
	onFailure SaveFailureHook
}

func NewStore(store kv.Store, log logrus.FieldLogger, onFailure SaveFailureHook) *Store {
	if onFailure == nil {
		onFailure = func(error) {}
	}
	return &Store{kv: store, log: log, onFailure: onFailure}
}

// Load returns the stored cart. ok is false only when the key-value store itself
// failed; the returned empty cart must then not be saved over the slot.
func (s *Store) Load(ctx context.Context, profileID string) (c domain.Cart, ok bool) {
	raw, err := s.kv.Get(ctx, storageKey(profileID))
	if errors.Is(err, kv.ErrNotFound) {
		return domain.Cart{}, true
	}
	if err != nil {
		s.log.WithError(err).WithField("profile_id", profileID).Warn("cart load failed")
		return domain.Cart{}, false
	}

	c, err = Decode(raw)
	if err != nil {
		s.log.WithError(err).WithField("profile_id", profileID).Warn("discarding unreadable cart")
		return domain.Cart{}, true
	}
	return c, true
}

func (s *Store) Save(ctx context.Context, profileID string, c domain.Cart) {
	raw, err := Encode(c)
	if err == nil {
		err = s.kv.Set(ctx, storageKey(profileID), raw)
	}
	if err != nil {
		s.log.WithError(err).WithField("profile_id", profileID).Warn("cart save dropped")
		s.onFailure(err)
	}
}

var errInvalidCart = errors.New("stored cart violates line invariants")

func Encode(c domain.Cart) (string, error) {
	if c.Lines == nil {
		c.Lines = []domain.CartLine{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a stored cart. Anything that is not a well-formed cart is an error.
func Decode(raw string) (domain.Cart, error) {
	var c domain.Cart
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return domain.Cart{}, err
	}
	if !c.Valid() {
		return domain.Cart{}, errInvalidCart
	}
	return c, nil
}

func storageKey(profileID string) string {
	return kv.Namespace(profileID, StorageKey)
}
