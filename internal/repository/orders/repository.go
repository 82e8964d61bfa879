// Package orders lists a signed-in user's past orders.
package orders

import (
	"context"
	"errors"

	"github.com/fjod/go_storefront/internal/domain"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository interface {
	ListOrdersByUserID(ctx context.Context, userID string) ([]domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) error
}
