package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

func (r *pgRepo) InsertOrder(ctx context.Context, order *models.Order) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, total_amount, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, created_at`,
		order.UserID, order.OrderNumber, order.TotalAmount).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return apperr.NotFound("user %d not found", order.UserID)
		}
		if database.IsUniqueViolation(err, "orders_order_number_key") {
			return apperr.Conflict("order number %s already exists", order.OrderNumber)
		}
		return fmt.Errorf("create order: %w", err)
	}

	return nil
}

func (r *pgRepo) InsertOrderLine(ctx context.Context, line *models.OrderLine) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO order_lines (order_id, product_id, quantity, unit_price, subtotal)
		 VALUES ($1, $2, $3, $4, $5)`,
		line.OrderID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return apperr.Conflict("order %d already has a line for product %d", line.OrderID, line.ProductID)
		}
		if database.IsForeignKeyViolation(err) {
			return apperr.NotFound("product %d not found", line.ProductID)
		}
		return fmt.Errorf("create order line: %w", err)
	}

	return nil
}

func (r *pgRepo) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, user_id, order_number, total_amount, created_at
		FROM orders
		WHERE id = $1`

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.TotalAmount,
		&order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("order %d not found", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	linesQuery := `
		SELECT ol.order_id, ol.product_id, p.name, ol.quantity, ol.unit_price, ol.subtotal
		FROM order_lines ol
		JOIN products p ON p.id = ol.product_id
		WHERE ol.order_id = $1
		ORDER BY ol.product_id`

	rows, err := r.q.QueryContext(ctx, linesQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	lines := []models.OrderLine{}
	for rows.Next() {
		var line models.OrderLine
		err := rows.Scan(
			&line.OrderID,
			&line.ProductID,
			&line.ProductName,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	order.Lines = lines

	return order, nil
}

func (r *pgRepo) ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	_, limit = NormalizePage(1, limit)

	query := `
		SELECT id, user_id, order_number, total_amount, created_at
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := r.q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.OrderNumber,
			&order.TotalAmount,
			&order.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newCursorPage(orders, limit), nil
}

func (r *pgRepo) HasPurchased(ctx context.Context, userID, productID int64) (bool, error) {
	var purchased bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1
			FROM order_lines ol
			JOIN orders o ON o.id = ol.order_id
			WHERE o.user_id = $1 AND ol.product_id = $2
		)`,
		userID, productID).Scan(&purchased)
	if err != nil {
		return false, fmt.Errorf("check purchase: %w", err)
	}

	return purchased, nil
}

// newCursorPage trims a limit+1 result set and derives the next cursor
// from the last order kept.
func newCursorPage(orders []models.Order, limit int) *CursorPage {
	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}
}
