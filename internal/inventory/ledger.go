// Package inventory owns every write to product stock.
package inventory

import (
	"context"
	"fmt"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"go.uber.org/zap"
)

type Ledger struct {
	store             store.Store
	lowStockThreshold int
	logger            *zap.Logger
}

func NewLedger(s store.Store, lowStockThreshold int, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:             s,
		lowStockThreshold: lowStockThreshold,
		logger:            logger,
	}
}

// AdjustStock applies delta in its own unit of work. A delta that would
// take stock below zero fails with apperr.ErrStockViolation and leaves the
// stock unchanged.
func (l *Ledger) AdjustStock(ctx context.Context, productID int64, delta int) (*models.Product, error) {
	if delta == 0 {
		return nil, apperr.InvalidInput("stock adjustment must be non-zero")
	}

	var product *models.Product
	err := l.store.InTx(ctx, store.TxOptions{}, func(repo store.Repository) error {
		var err error
		product, err = l.apply(ctx, repo, productID, delta)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	return product, nil
}

func (l *Ledger) Restock(ctx context.Context, productID int64, quantity int) (*models.Product, error) {
	if quantity < 1 {
		return nil, apperr.InvalidInput("restock quantity must be at least 1, got %d", quantity)
	}
	return l.AdjustStock(ctx, productID, quantity)
}

// Debit removes quantity units inside the caller's unit of work, so the
// decrement commits or rolls back together with whatever else repo wrote.
func (l *Ledger) Debit(ctx context.Context, repo store.Repository, productID int64, quantity int) (*models.Product, error) {
	if quantity < 1 {
		return nil, apperr.InvalidInput("debit quantity must be at least 1, got %d", quantity)
	}
	return l.apply(ctx, repo, productID, -quantity)
}

func (l *Ledger) apply(ctx context.Context, repo store.Repository, productID int64, delta int) (*models.Product, error) {
	product, err := repo.AdjustStock(ctx, productID, delta)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindStockViolation {
			l.logger.Info("stock floor rejected adjustment",
				zap.Int64("product_id", productID),
				zap.Int("delta", delta))
		}
		return nil, err
	}

	if delta < 0 && product.Stock < l.lowStockThreshold {
		l.logger.Warn("product stock is low",
			zap.Int64("product_id", product.ID),
			zap.String("product", product.Name),
			zap.Int("stock", product.Stock),
			zap.Int("threshold", l.lowStockThreshold))
	}

	return product, nil
}
