package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/gallery"
	"github.com/fjod/go_storefront/internal/variant"
	"github.com/go-chi/chi/v5"
)

type Catalog interface {
	ListProducts(ctx context.Context, category string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error)
	ListSlugs(ctx context.Context) ([]string, error)
	Categories(ctx context.Context) ([]string, error)
}

type ProductHandler struct {
	catalog Catalog
	timeout time.Duration
}

func NewProductHandler(catalog Catalog, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		timeout: timeout,
	}
}

type GalleryDTO struct {
	Images      []string      `json:"images"`
	ActiveIndex int           `json:"activeIndex"`
	Active      string        `json:"active,omitempty"`
	Zoomed      bool          `json:"zoomed"`
	Focus       gallery.Focus `json:"focus"`
}

type VariantStateDTO struct {
	Selected map[string]string `json:"selected"`
	Missing  []string          `json:"missing"`
	Complete bool              `json:"complete"`
	// Rejected echoes selections the product does not offer.
	Rejected []string `json:"rejected,omitempty"`
}

type ProductDetailDTO struct {
	Product      domain.Product  `json:"product"`
	Gallery      GalleryDTO      `json:"gallery"`
	Variants     VariantStateDTO `json:"variants"`
	InStock      bool            `json:"inStock"`
	CanAddToCart bool            `json:"canAddToCart"`
}

func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.catalog.ListProducts(ctx, r.URL.Query().Get("category"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

// GetProduct renders the detail view. Query parameters drive the widgets:
// image=N selects a gallery image, zoom=X,Y zooms with focus at X%,Y%, and each
// variant=Axis:Option picks an option.
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	h.detail(w, r, func(ctx context.Context) (*domain.Product, error) {
		return h.catalog.GetProductBySlug(ctx, chi.URLParam(r, "slug"))
	})
}

func (h *ProductHandler) GetProductByID(w http.ResponseWriter, r *http.Request) {
	h.detail(w, r, func(ctx context.Context) (*domain.Product, error) {
		return h.catalog.GetProduct(ctx, chi.URLParam(r, "id"))
	})
}

func (h *ProductHandler) detail(w http.ResponseWriter, r *http.Request, load func(context.Context) (*domain.Product, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := load(ctx)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	g := gallery.New(p.Gallery())
	if idx, err := strconv.Atoi(q.Get("image")); err == nil {
		g.Select(idx)
	}
	if x, y, ok := parseFocus(q.Get("zoom")); ok {
		g.ToggleZoom()
		g.MoveFocus(x, y)
	}

	sel := variant.NewSelection(p.Variants)
	var rejected []string
	for _, raw := range q["variant"] {
		axis, option, found := strings.Cut(raw, ":")
		if !found || sel.SelectOption(axis, option) != nil {
			rejected = append(rejected, raw)
		}
	}
	missing := sel.Missing()
	if missing == nil {
		missing = []string{}
	}
	selected := sel.Selected()
	if selected == nil {
		selected = map[string]string{}
	}

	images := g.Images()
	if images == nil {
		images = []string{}
	}
	respondJSON(w, http.StatusOK, ProductDetailDTO{
		Product: *p,
		Gallery: GalleryDTO{
			Images:      images,
			ActiveIndex: g.ActiveIndex(),
			Active:      g.Active(),
			Zoomed:      g.Zoomed(),
			Focus:       g.Focus(),
		},
		Variants: VariantStateDTO{
			Selected: selected,
			Missing:  missing,
			Complete: sel.IsComplete(),
			Rejected: rejected,
		},
		InStock:      p.InStock(),
		CanAddToCart: sel.IsComplete() && p.InStock(),
	})
}

func (h *ProductHandler) ListSlugs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	slugs, err := h.catalog.ListSlugs(ctx)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if slugs == nil {
		slugs = []string{}
	}
	respondJSON(w, http.StatusOK, slugs)
}

func (h *ProductHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	categories, err := h.catalog.Categories(ctx)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

func parseFocus(raw string) (float64, float64, bool) {
	xs, ys, found := strings.Cut(raw, ",")
	if !found {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}
