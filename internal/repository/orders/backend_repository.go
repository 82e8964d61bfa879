package orders

import (
	"context"
	"fmt"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/domain"
)

// BackendRepository reads orders through the hosted backend. Row-level security
// limits results to the user whose access token is on ctx.
type BackendRepository struct {
	q backend.Querier
}

func NewBackendRepository(q backend.Querier) *BackendRepository {
	return &BackendRepository{q: q}
}

func (r *BackendRepository) ListOrdersByUserID(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := r.q.Select(ctx, "orders", backend.Filter{}.Eq("user_id", userID).Order("created_at", true))
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	return backend.DecodeRows[domain.Order](rows)
}

func (r *BackendRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if _, err := r.q.Insert(ctx, "orders", order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
