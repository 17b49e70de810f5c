// Package checkout turns a session's cart into a durable order.
//
// Stock is first checked against a snapshot of every product in the cart.
// That check only produces early, readable failures: the authoritative
// guard is the ledger debit inside the unit of work, which also inserts
// the order and its lines. Either all of it commits or none of it does,
// and the cart is only cleared after a commit.
package checkout

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/inventory"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Carts interface {
	Lines(ctx context.Context, sess cart.Session) ([]models.CartLine, error)
	ClearCart(ctx context.Context, sess cart.Session) error
}

type Coordinator struct {
	store       store.Store
	carts       Carts
	ledger      *inventory.Ledger
	concurrency int
	logger      *zap.Logger

	// Cart keys with a checkout in progress. A cart is read once and
	// cleared after commit, so two overlapping checkouts of one cart
	// would both place an order.
	inflight sync.Map
}

func NewCoordinator(s store.Store, carts Carts, ledger *inventory.Ledger, concurrency int, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		store:       s,
		carts:       carts,
		ledger:      ledger,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (c *Coordinator) Checkout(ctx context.Context, sess cart.Session) (*models.Order, []models.OrderLine, error) {
	order, lines, err := c.checkout(ctx, sess)
	if err != nil {
		c.logger.Info("checkout failed",
			zap.String("session_id", sess.ID),
			zap.Int64("user_id", sess.UserID),
			zap.String("kind", apperr.KindOf(err).String()),
			zap.Error(err))
		return nil, nil, fmt.Errorf("checkout: %w", err)
	}
	return order, lines, nil
}

func (c *Coordinator) checkout(ctx context.Context, sess cart.Session) (*models.Order, []models.OrderLine, error) {
	if sess.UserID <= 0 {
		return nil, nil, apperr.New(apperr.KindUnauthorized, "checkout requires a known user")
	}

	key := sess.Key()
	if _, busy := c.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil, nil, apperr.Conflict("a checkout of this cart is already in progress")
	}
	defer c.inflight.Delete(key)

	cartLines, err := c.carts.Lines(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	if len(cartLines) == 0 {
		return nil, nil, apperr.New(apperr.KindEmptyCart, "cart is empty")
	}

	products, err := c.validate(ctx, cartLines)
	if err != nil {
		return nil, nil, err
	}

	total := decimal.Zero
	for _, line := range cartLines {
		total = total.Add(models.LineSubtotal(products[line.ProductID].Price, line.Quantity))
	}

	// Debit in ascending product id so concurrent checkouts sharing
	// products acquire row locks in the same order.
	ordered := make([]models.CartLine, len(cartLines))
	copy(ordered, cartLines)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })

	order := &models.Order{
		UserID:      sess.UserID,
		OrderNumber: "ORD-" + uuid.NewString(),
		TotalAmount: total,
	}
	var orderLines []models.OrderLine

	err = c.store.InTx(ctx, store.TxOptions{}, func(repo store.Repository) error {
		orderLines = orderLines[:0]

		if err := repo.InsertOrder(ctx, order); err != nil {
			return err
		}

		for _, line := range ordered {
			product := products[line.ProductID]

			if _, err := c.ledger.Debit(ctx, repo, line.ProductID, line.Quantity); err != nil {
				if apperr.KindOf(err) == apperr.KindStockViolation {
					return apperr.Wrap(apperr.KindStockViolation, err,
						fmt.Sprintf("%s sold out while checking out", product.Name))
				}
				return err
			}

			orderLine := models.OrderLine{
				OrderID:     order.ID,
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				UnitPrice:   product.Price,
				Subtotal:    models.LineSubtotal(product.Price, line.Quantity),
			}
			if err := repo.InsertOrderLine(ctx, &orderLine); err != nil {
				return err
			}
			orderLines = append(orderLines, orderLine)
		}

		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	order.Lines = orderLines

	if err := c.carts.ClearCart(ctx, sess); err != nil {
		c.logger.Error("clear cart after checkout",
			zap.String("session_id", sess.ID),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	c.logger.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(orderLines)))

	return order, orderLines, nil
}

// validate fetches every cart product concurrently and then judges the
// lines in cart order, so the reported failure is always the first
// offending line.
func (c *Coordinator) validate(ctx context.Context, lines []models.CartLine) (map[int64]*models.Product, error) {
	snapshots := make([]*models.Product, len(lines))
	errs := make([]error, len(lines))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, line := range lines {
		g.Go(func() error {
			snapshots[i], errs[i] = c.store.GetProduct(ctx, line.ProductID)
			return nil
		})
	}
	_ = g.Wait()

	products := make(map[int64]*models.Product, len(lines))
	for i, line := range lines {
		if errs[i] != nil {
			return nil, errs[i]
		}
		product := snapshots[i]
		if line.Quantity > product.Stock {
			return nil, apperr.Newf(apperr.KindInsufficientStock,
				"not enough stock for %s: requested %d, available %d", product.Name, line.Quantity, product.Stock)
		}
		products[line.ProductID] = product
	}

	return products, nil
}
