// Package cart holds per-session shopping carts. Adding an item checks the
// requested quantity against current stock but reserves nothing; the
// checkout debits stock authoritatively.
package cart

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductByName(ctx context.Context, name string) (*models.Product, error)
}

type ViewLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type View struct {
	Lines []ViewLine      `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

const lockStripes = 64

type Service struct {
	store    Store
	products ProductReader
	logger   *zap.Logger

	// Read-modify-write of one session's cart is serialized by a striped
	// lock keyed on the session ID.
	locks [lockStripes]sync.Mutex
}

func NewService(store Store, products ProductReader, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		products: products,
		logger:   logger,
	}
}

func (s *Service) lock(sessionID string) func() {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// AddItem merges quantity into the cart line for productID. The merged
// quantity must not exceed the product's current stock.
func (s *Service) AddItem(ctx context.Context, sess Session, productID int64, quantity int) (models.CartLine, error) {
	if quantity < 1 {
		return models.CartLine{}, apperr.InvalidInput("quantity must be at least 1, got %d", quantity)
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return models.CartLine{}, fmt.Errorf("add item: %w", err)
	}

	return s.addProduct(ctx, sess, product, quantity)
}

func (s *Service) AddItemByName(ctx context.Context, sess Session, productName string, quantity int) (models.CartLine, error) {
	if quantity < 1 {
		return models.CartLine{}, apperr.InvalidInput("quantity must be at least 1, got %d", quantity)
	}
	if strings.TrimSpace(productName) == "" {
		return models.CartLine{}, apperr.InvalidInput("product name is required")
	}

	product, err := s.products.GetProductByName(ctx, productName)
	if err != nil {
		return models.CartLine{}, fmt.Errorf("add item: %w", err)
	}

	return s.addProduct(ctx, sess, product, quantity)
}

func (s *Service) addProduct(ctx context.Context, sess Session, product *models.Product, quantity int) (models.CartLine, error) {
	unlock := s.lock(sess.Key())
	defer unlock()

	lines, err := s.store.Get(ctx, sess.Key())
	if err != nil {
		return models.CartLine{}, fmt.Errorf("load cart: %w", err)
	}

	idx := -1
	merged := quantity
	for i, line := range lines {
		if line.ProductID == product.ID {
			idx = i
			merged += line.Quantity
			break
		}
	}

	if merged > product.Stock {
		return models.CartLine{}, apperr.Newf(apperr.KindInsufficientStock,
			"not enough stock for %s: requested %d, available %d", product.Name, merged, product.Stock)
	}

	line := models.CartLine{ProductID: product.ID, Quantity: merged}
	if idx >= 0 {
		lines[idx] = line
	} else {
		lines = append(lines, line)
	}

	if err := s.store.Put(ctx, sess.Key(), lines); err != nil {
		return models.CartLine{}, fmt.Errorf("save cart: %w", err)
	}

	s.logger.Debug("cart item added",
		zap.String("session_id", sess.ID),
		zap.Int64("product_id", product.ID),
		zap.Int("quantity", merged))

	return line, nil
}

func (s *Service) RemoveItem(ctx context.Context, sess Session, productID int64) error {
	unlock := s.lock(sess.Key())
	defer unlock()

	lines, err := s.store.Get(ctx, sess.Key())
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}

	kept := lines[:0]
	found := false
	for _, line := range lines {
		if line.ProductID == productID {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return apperr.NotFound("product %d is not in the cart", productID)
	}

	if len(kept) == 0 {
		err = s.store.Delete(ctx, sess.Key())
	} else {
		err = s.store.Put(ctx, sess.Key(), kept)
	}
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}

	return nil
}

// ViewCart returns the cart lines priced at the products' current prices.
func (s *Service) ViewCart(ctx context.Context, sess Session) (*View, error) {
	lines, err := s.store.Get(ctx, sess.Key())
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	view := &View{Lines: make([]ViewLine, 0, len(lines)), Total: decimal.Zero}
	for _, line := range lines {
		product, err := s.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("view cart: %w", err)
		}

		subtotal := models.LineSubtotal(product.Price, line.Quantity)
		view.Lines = append(view.Lines, ViewLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  line.Quantity,
			Subtotal:  subtotal,
		})
		view.Total = view.Total.Add(subtotal)
	}

	return view, nil
}

func (s *Service) ClearCart(ctx context.Context, sess Session) error {
	unlock := s.lock(sess.Key())
	defer unlock()

	if err := s.store.Delete(ctx, sess.Key()); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *Service) Lines(ctx context.Context, sess Session) ([]models.CartLine, error) {
	lines, err := s.store.Get(ctx, sess.Key())
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return lines, nil
}
