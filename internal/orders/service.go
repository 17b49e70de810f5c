package orders

import (
	"context"
	"fmt"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
)

type Reader interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error)
}

type Service struct {
	orders Reader
}

func NewService(orders Reader) *Service {
	return &Service{orders: orders}
}

// GetOrder returns an order with its lines. Orders belonging to another
// user are reported as not found.
func (s *Service) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("get order: %w", apperr.NotFound("order %d not found", orderID))
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error) {
	page, err := s.orders.ListOrdersCursor(ctx, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return page, nil
}
