package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fjod/go_storefront/internal/backend/sqlbackend"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
)

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sqlbackend.DB) *SQLRepository {
	return &SQLRepository{db: db.DB}
}

func (r *SQLRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	query := `INSERT INTO orders (id, user_id, items, total, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`

	_, err = r.db.ExecContext(ctx, query,
		order.ID.String(),
		order.UserID,
		string(itemsJSON),
		order.Total.StringFixed(2),
		string(order.Status))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListOrdersByUserID(ctx context.Context, userID string) ([]domain.Order, error) {
	query := `SELECT id, user_id, items, total, status, created_at, updated_at
	          FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		var order domain.Order
		var id string
		var itemsJSON []byte
		var status string
		if err := rows.Scan(
			&id,
			&order.UserID,
			&itemsJSON,
			&order.Total,
			&status,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		if order.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse order id: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, nil
}
