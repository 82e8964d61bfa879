package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type OrderItem struct {
	ProductID        string            `json:"product_id"`
	Name             string            `json:"name"`
	Quantity         int               `json:"quantity"`
	Price            decimal.Decimal   `json:"price"`
	SelectedVariants map[string]string `json:"selected_variants,omitempty"`
}

type Order struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"user_id"`
	Items     []OrderItem     `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
