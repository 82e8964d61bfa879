package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
)

type Orders interface {
	ListOrdersByUserID(ctx context.Context, userID string) ([]domain.Order, error)
}

type OrdersHandler struct {
	orders  Orders
	timeout time.Duration
}

func NewOrdersHandler(orders Orders, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{orders: orders, timeout: timeout}
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := sessionFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	list, err := h.orders.ListOrdersByUserID(ctx, s.User.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Order{}
	}
	respondJSON(w, http.StatusOK, list)
}
