package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/inventory"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	db          *store.Memory
	carts       *cart.MemoryStore
	cartSvc     *cart.Service
	coordinator *Coordinator
	user        *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := store.NewMemory()
	require.NoError(t, err)

	user, err := db.CreateUser(context.Background(), "shopper@example.com", "Shopper")
	require.NoError(t, err)

	carts := cart.NewMemoryStore(time.Hour, time.Hour)
	t.Cleanup(func() { carts.Close() })

	cartSvc := cart.NewService(carts, db, nil)
	ledger := inventory.NewLedger(db, 0, nil)

	return &harness{
		db:          db,
		carts:       carts,
		cartSvc:     cartSvc,
		coordinator: NewCoordinator(db, cartSvc, ledger, 4, nil),
		user:        user,
	}
}

func (h *harness) product(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()
	p, err := h.db.CreateProduct(context.Background(), store.NewProduct{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) session() cart.Session {
	return cart.NewSession(h.user.ID, time.Hour)
}

// putCart writes lines straight to the cart store, bypassing the add-time
// stock check.
func (h *harness) putCart(t *testing.T, sess cart.Session, lines ...models.CartLine) {
	t.Helper()
	require.NoError(t, h.carts.Put(context.Background(), sess.Key(), lines))
}

func (h *harness) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := h.db.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (h *harness) orderCount(t *testing.T) int {
	t.Helper()
	page, err := h.db.ListOrdersCursor(context.Background(), h.user.ID, "", store.MaxPageSize)
	require.NoError(t, err)
	return len(page.Items.([]models.Order))
}

func TestCheckoutSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	widget := h.product(t, "Widget", "10.00", 5)
	sess := h.session()

	_, err := h.cartSvc.AddItem(ctx, sess, widget.ID, 3)
	require.NoError(t, err)

	order, lines, err := h.coordinator.Checkout(ctx, sess)
	require.NoError(t, err)

	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("30.00")))
	assert.Regexp(t, `^ORD-[0-9a-f-]{36}$`, order.OrderNumber)
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, order.ID, lines[0].OrderID)
	assert.Equal(t, 2, h.stock(t, widget.ID))

	remaining, err := h.cartSvc.Lines(ctx, sess)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	stored, err := h.db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1)
}

func TestCheckoutLineSubtotalsSumToTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.product(t, "A", "0.10", 100)
	b := h.product(t, "B", "0.20", 100)
	c := h.product(t, "C", "19.99", 100)
	sess := h.session()

	h.putCart(t, sess,
		models.CartLine{ProductID: c.ID, Quantity: 3},
		models.CartLine{ProductID: a.ID, Quantity: 7},
		models.CartLine{ProductID: b.ID, Quantity: 11},
	)

	order, lines, err := h.coordinator.Checkout(ctx, sess)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Subtotal)
	}
	assert.True(t, sum.Equal(order.TotalAmount), "sum %s != total %s", sum, order.TotalAmount)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("62.87")))

	require.Len(t, lines, 3)
	assert.Equal(t, a.ID, lines[0].ProductID)
	assert.Equal(t, b.ID, lines[1].ProductID)
	assert.Equal(t, c.ID, lines[2].ProductID)
}

func TestCheckoutEmptyCart(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.coordinator.Checkout(context.Background(), h.session())
	assert.ErrorIs(t, err, apperr.ErrEmptyCart)
	assert.Zero(t, h.orderCount(t))
}

func TestCheckoutRequiresUser(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.coordinator.Checkout(context.Background(), cart.Session{ID: "anon"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCheckoutInsufficientStockKeepsCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	widget := h.product(t, "Widget", "10.00", 5)
	sess := h.session()

	h.putCart(t, sess, models.CartLine{ProductID: widget.ID, Quantity: 10})

	_, _, err := h.coordinator.Checkout(ctx, sess)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Widget")

	assert.Equal(t, 5, h.stock(t, widget.ID))
	assert.Zero(t, h.orderCount(t))

	lines, err := h.cartSvc.Lines(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: widget.ID, Quantity: 10}}, lines)
}

func TestCheckoutReportsFirstOffendingLineInCartOrder(t *testing.T) {
	h := newHarness(t)
	a := h.product(t, "A", "1", 1)
	b := h.product(t, "B", "1", 1)
	sess := h.session()

	h.putCart(t, sess,
		models.CartLine{ProductID: b.ID, Quantity: 2},
		models.CartLine{ProductID: a.ID, Quantity: 2},
	)

	_, _, err := h.coordinator.Checkout(context.Background(), sess)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Contains(t, apperr.ReasonOf(err), "for B")
}

func TestCheckoutUnknownProduct(t *testing.T) {
	h := newHarness(t)
	sess := h.session()

	h.putCart(t, sess, models.CartLine{ProductID: 404, Quantity: 1})

	_, _, err := h.coordinator.Checkout(context.Background(), sess)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// racingStore drains a product's stock between validation and the unit of
// work, simulating a competing checkout that commits in between.
type racingStore struct {
	*store.Memory
	once    sync.Once
	drainID int64
}

func (r *racingStore) InTx(ctx context.Context, opts store.TxOptions, fn func(store.Repository) error) error {
	r.once.Do(func() {
		_, _ = r.Memory.AdjustStock(ctx, r.drainID, -1)
	})
	return r.Memory.InTx(ctx, opts, fn)
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.product(t, "First", "5.00", 10)
	second := h.product(t, "Second", "5.00", 1)
	sess := h.session()

	h.putCart(t, sess,
		models.CartLine{ProductID: first.ID, Quantity: 4},
		models.CartLine{ProductID: second.ID, Quantity: 1},
	)

	racing := &racingStore{Memory: h.db, drainID: second.ID}
	coordinator := NewCoordinator(racing, h.cartSvc, inventory.NewLedger(racing, 0, nil), 2, nil)

	_, _, err := coordinator.Checkout(ctx, sess)
	require.ErrorIs(t, err, apperr.ErrStockViolation)
	assert.Contains(t, err.Error(), "Second")

	assert.Equal(t, 10, h.stock(t, first.ID), "debit of the first line must roll back")
	assert.Equal(t, 0, h.stock(t, second.ID))
	assert.Zero(t, h.orderCount(t))

	purchased, err := h.db.HasPurchased(ctx, h.user.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, purchased)

	lines, err := h.cartSvc.Lines(ctx, sess)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	widget := h.product(t, "Widget", "10.00", 5)

	const shoppers = 2
	sessions := make([]cart.Session, shoppers)
	for i := range sessions {
		sessions[i] = h.session()
		h.putCart(t, sessions[i], models.CartLine{ProductID: widget.ID, Quantity: 3})
	}

	var wg sync.WaitGroup
	errs := make([]error, shoppers)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = h.coordinator.Checkout(ctx, sessions[i])
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.IsStockError(err), "unexpected error: %v", err)
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, h.stock(t, widget.ID))
	assert.Equal(t, 1, h.orderCount(t))
}

type failingClear struct {
	*cart.Service
}

func (f failingClear) ClearCart(context.Context, cart.Session) error {
	return errors.New("cart backend down")
}

func TestCheckoutSurvivesCartClearFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	widget := h.product(t, "Widget", "10.00", 5)
	sess := h.session()
	h.putCart(t, sess, models.CartLine{ProductID: widget.ID, Quantity: 1})

	coordinator := NewCoordinator(h.db, failingClear{h.cartSvc}, inventory.NewLedger(h.db, 0, nil), 1, nil)

	order, _, err := coordinator.Checkout(ctx, sess)
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, 4, h.stock(t, widget.ID))
}

// blockingCarts holds Lines open until released, keeping a checkout in
// flight.
type blockingCarts struct {
	Carts
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCarts) Lines(ctx context.Context, sess cart.Session) ([]models.CartLine, error) {
	close(b.entered)
	<-b.release
	return b.Carts.Lines(ctx, sess)
}

func TestOverlappingCheckoutOfSameCartIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	widget := h.product(t, "Widget", "10.00", 10)
	sess := h.session()
	h.putCart(t, sess, models.CartLine{ProductID: widget.ID, Quantity: 3})

	carts := &blockingCarts{Carts: h.cartSvc, entered: make(chan struct{}), release: make(chan struct{})}
	coordinator := NewCoordinator(h.db, carts, inventory.NewLedger(h.db, 0, nil), 1, nil)

	done := make(chan error, 1)
	go func() {
		_, _, err := coordinator.Checkout(ctx, sess)
		done <- err
	}()
	<-carts.entered

	_, _, err := coordinator.Checkout(ctx, sess)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	close(carts.release)
	require.NoError(t, <-done)

	assert.Equal(t, 7, h.stock(t, widget.ID))
	assert.Equal(t, 1, h.orderCount(t))
}

func TestConcurrentCheckoutsOfOneCartPlaceOneOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	widget := h.product(t, "Widget", "10.00", 10)
	sess := h.session()
	h.putCart(t, sess, models.CartLine{ProductID: widget.ID, Quantity: 3})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.coordinator.Checkout(ctx, sess)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successCount := 0
	for err := range errs {
		if err == nil {
			successCount++
			continue
		}
		assert.True(t, errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrEmptyCart), "unexpected error: %v", err)
	}

	assert.Equal(t, 1, successCount)
	assert.Equal(t, 7, h.stock(t, widget.ID))
	assert.Equal(t, 1, h.orderCount(t))
}
