package domain

import (
	"net/url"
	"sort"

	"github.com/shopspring/decimal"
)

// CartLine is one distinct product and variant combination in a cart.
// Name, UnitPrice and ImageRef are a snapshot taken when the line was first added.
type CartLine struct {
	ProductID        string            `json:"productId" bson:"product_id"`
	Name             string            `json:"name" bson:"name"`
	UnitPrice        decimal.Decimal   `json:"unitPrice" bson:"unit_price"`
	ImageRef         string            `json:"imageRef,omitempty" bson:"image_ref,omitempty"`
	Quantity         int               `json:"quantity" bson:"quantity"`
	SelectedVariants map[string]string `json:"selectedVariants,omitempty" bson:"selected_variants,omitempty"`
}

// Key returns the line's identity within a cart.
func (l CartLine) Key() LineKey {
	return NewLineKey(l.ProductID, l.SelectedVariants)
}

// Cart is an ordered list of lines; insertion order is display order.
type Cart struct {
	Lines []CartLine `json:"lines" bson:"lines"`
}

// LineKey identifies a cart line by product and variant selection.
// Variant maps with the same pairs produce the same key regardless of insertion order.
type LineKey string

func NewLineKey(productID string, variants map[string]string) LineKey {
	if len(variants) == 0 {
		return LineKey(url.PathEscape(productID))
	}
	v := make(url.Values, len(variants))
	for axis, option := range variants {
		v.Set(axis, option)
	}
	// url.Values.Encode sorts by key
	return LineKey(url.PathEscape(productID) + "?" + v.Encode())
}

// VariantsEqual reports whether two selections have identical axes and options.
// A nil map equals an empty one.
func VariantsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for axis, option := range a {
		other, ok := b[axis]
		if !ok || other != option {
			return false
		}
	}
	return true
}

// CloneVariants returns an independent copy, or nil for an empty selection.
func CloneVariants(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// SortedAxes returns the selection's axis names in lexical order.
func SortedAxes(variants map[string]string) []string {
	axes := make([]string, 0, len(variants))
	for axis := range variants {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	return axes
}

func (c Cart) Find(key LineKey) (int, bool) {
	for i, l := range c.Lines {
		if l.Key() == key {
			return i, true
		}
	}
	return -1, false
}

func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// ItemCount is the total quantity across lines.
func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// Valid reports whether every line has a positive quantity and no two lines share a key.
func (c Cart) Valid() bool {
	seen := make(map[LineKey]struct{}, len(c.Lines))
	for _, l := range c.Lines {
		if l.Quantity < 1 || l.ProductID == "" {
			return false
		}
		k := l.Key()
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
	}
	return true
}

// Equal compares carts line by line. Prices compare by value, so 10 equals 10.00.
func (c Cart) Equal(o Cart) bool {
	if len(c.Lines) != len(o.Lines) {
		return false
	}
	for i := range c.Lines {
		a, b := c.Lines[i], o.Lines[i]
		if a.ProductID != b.ProductID || a.Name != b.Name || a.ImageRef != b.ImageRef ||
			a.Quantity != b.Quantity || !a.UnitPrice.Equal(b.UnitPrice) ||
			!VariantsEqual(a.SelectedVariants, b.SelectedVariants) {
			return false
		}
	}
	return true
}
