// Package cart holds the cart state machine and its persistence contract.
package cart

import (
	"errors"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("cart line not found")
	ErrInvalidProduct  = errors.New("product id is required")
)

// Action is a cart transition understood by Apply.
type Action interface {
	apply(c domain.Cart) (domain.Cart, error)
	Name() string
}

// Snapshot is the display data copied into a new line.
type Snapshot struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	ImageRef  string
}

type AddLine struct {
	Product          Snapshot
	Quantity         int
	SelectedVariants map[string]string
}

type SetQuantity struct {
	Key      domain.LineKey
	Quantity int
}

type RemoveLine struct {
	Key domain.LineKey
}

type Clear struct{}

func (AddLine) Name() string     { return "add_line" }
func (SetQuantity) Name() string { return "set_quantity" }
func (RemoveLine) Name() string  { return "remove_line" }
func (Clear) Name() string       { return "clear" }

// Apply returns the cart that results from a. A rejected action returns c unchanged
// together with the reason. The input cart is never modified.
func Apply(c domain.Cart, a Action) (domain.Cart, error) {
	next, err := a.apply(c)
	if err != nil {
		return c, err
	}
	return next, nil
}

func (a AddLine) apply(c domain.Cart) (domain.Cart, error) {
	if a.Quantity < 1 {
		return c, ErrInvalidQuantity
	}
	if a.Product.ProductID == "" {
		return c, ErrInvalidProduct
	}

	key := domain.NewLineKey(a.Product.ProductID, a.SelectedVariants)
	lines := cloneLines(c.Lines)
	if i, ok := c.Find(key); ok {
		lines[i].Quantity += a.Quantity
		return domain.Cart{Lines: lines}, nil
	}

	lines = append(lines, domain.CartLine{
		ProductID:        a.Product.ProductID,
		Name:             a.Product.Name,
		UnitPrice:        a.Product.UnitPrice,
		ImageRef:         a.Product.ImageRef,
		Quantity:         a.Quantity,
		SelectedVariants: domain.CloneVariants(a.SelectedVariants),
	})
	return domain.Cart{Lines: lines}, nil
}

func (a SetQuantity) apply(c domain.Cart) (domain.Cart, error) {
	if a.Quantity < 1 {
		return c, ErrInvalidQuantity
	}
	i, ok := c.Find(a.Key)
	if !ok {
		return c, ErrLineNotFound
	}

	lines := cloneLines(c.Lines)
	lines[i].Quantity = a.Quantity
	return domain.Cart{Lines: lines}, nil
}

func (a RemoveLine) apply(c domain.Cart) (domain.Cart, error) {
	i, ok := c.Find(a.Key)
	if !ok {
		return c, nil
	}

	lines := make([]domain.CartLine, 0, len(c.Lines)-1)
	lines = append(lines, c.Lines[:i]...)
	lines = append(lines, c.Lines[i+1:]...)
	return domain.Cart{Lines: lines}, nil
}

func (Clear) apply(domain.Cart) (domain.Cart, error) {
	return domain.Cart{Lines: []domain.CartLine{}}, nil
}

func cloneLines(src []domain.CartLine) []domain.CartLine {
	dst := make([]domain.CartLine, len(src), len(src)+1)
	copy(dst, src)
	return dst
}
