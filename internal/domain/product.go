package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllCategories is the category filter value that disables filtering.
const AllCategories = "All"

// Variant is a named option axis such as "Size" with its selectable values.
type Variant struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	Images      []string        `json:"images,omitempty"`
	Category    string          `json:"category"`
	Stock       int             `json:"stock"`
	IsFeatured  bool            `json:"is_featured"`
	Slug        string          `json:"slug"`
	Variants    []Variant       `json:"variants,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Gallery returns the images to display, falling back to the primary image.
func (p Product) Gallery() []string {
	if len(p.Images) > 0 {
		return p.Images
	}
	if p.ImageURL != "" {
		return []string{p.ImageURL}
	}
	return nil
}

// Thumbnail is the image captured in cart snapshots.
func (p Product) Thumbnail() string {
	if p.ImageURL != "" {
		return p.ImageURL
	}
	if len(p.Images) > 0 {
		return p.Images[0]
	}
	return ""
}

func (p Product) InStock() bool {
	return p.Stock > 0
}
