package http

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Carts interface {
	GetCart(ctx context.Context, profileID string) domain.Cart
	AddLine(ctx context.Context, profileID, productID string, quantity int, choices map[string]string) (domain.Cart, error)
	SetQuantity(ctx context.Context, profileID string, key domain.LineKey, quantity int) (domain.Cart, error)
	RemoveLine(ctx context.Context, profileID string, key domain.LineKey) (domain.Cart, error)
	Clear(ctx context.Context, profileID string) (domain.Cart, error)
}

type CartHandler struct {
	carts   Carts
	timeout time.Duration
}

func NewCartHandler(carts Carts, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddLineRequestDTO struct {
	ProductID        string            `json:"productId"`
	Quantity         int               `json:"quantity"`
	SelectedVariants map[string]string `json:"selectedVariants,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartLineDTO struct {
	// Key addresses the line in PUT and DELETE /cart/lines/{key}.
	Key              string            `json:"key"`
	ProductID        string            `json:"productId"`
	Name             string            `json:"name"`
	UnitPrice        decimal.Decimal   `json:"unitPrice"`
	ImageRef         string            `json:"imageRef,omitempty"`
	Quantity         int               `json:"quantity"`
	SelectedVariants map[string]string `json:"selectedVariants,omitempty"`
	LineTotal        decimal.Decimal   `json:"lineTotal"`
}

type CartDTO struct {
	Lines     []CartLineDTO   `json:"lines"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

func toCartDTO(c domain.Cart) CartDTO {
	lines := make([]CartLineDTO, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, CartLineDTO{
			Key:              encodeLineKey(l.Key()),
			ProductID:        l.ProductID,
			Name:             l.Name,
			UnitPrice:        l.UnitPrice,
			ImageRef:         l.ImageRef,
			Quantity:         l.Quantity,
			SelectedVariants: l.SelectedVariants,
			LineTotal:        l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))),
		})
	}
	return CartDTO{
		Lines:     lines,
		ItemCount: c.ItemCount(),
		Subtotal:  c.Subtotal(),
	}
}

func encodeLineKey(k domain.LineKey) string {
	return base64.RawURLEncoding.EncodeToString([]byte(k))
}

func decodeLineKey(s string) (domain.LineKey, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return domain.LineKey(raw), true
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	respondJSON(w, http.StatusOK, toCartDTO(h.carts.GetCart(ctx, profileFrom(r.Context()))))
}

func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	// Parse request body
	var req AddLineRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	// Validate request
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId is required")
		return
	}
	if req.Quantity <= 0 || req.Quantity > service.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	c, err := h.carts.AddLine(ctx, profileFrom(r.Context()), req.ProductID, req.Quantity, req.SelectedVariants)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartDTO(c))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := decodeLineKey(chi.URLParam(r, "key"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_line_key", "line key is malformed")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity <= 0 || req.Quantity > service.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	c, err := h.carts.SetQuantity(ctx, profileFrom(r.Context()), key, req.Quantity)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key, ok := decodeLineKey(chi.URLParam(r, "key"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_line_key", "line key is malformed")
		return
	}

	c, err := h.carts.RemoveLine(ctx, profileFrom(r.Context()), key)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	c, err := h.carts.Clear(ctx, profileFrom(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}
