package review

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *store.Memory
	svc     *Service
	product *models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := store.NewMemory()
	require.NoError(t, err)

	product, err := db.CreateProduct(context.Background(), store.NewProduct{
		Name:  "Widget",
		Price: decimal.NewFromInt(10),
		Stock: 100,
	})
	require.NoError(t, err)

	return &fixture{db: db, svc: NewService(db, nil), product: product}
}

// buyer creates a user holding an order line for the fixture product.
func (f *fixture) buyer(t *testing.T, email string) int64 {
	t.Helper()
	ctx := context.Background()

	user, err := f.db.CreateUser(ctx, email, "Buyer")
	require.NoError(t, err)

	err = f.db.InTx(ctx, store.TxOptions{}, func(repo store.Repository) error {
		order := &models.Order{UserID: user.ID, OrderNumber: "ORD-" + email, TotalAmount: f.product.Price}
		if err := repo.InsertOrder(ctx, order); err != nil {
			return err
		}
		return repo.InsertOrderLine(ctx, &models.OrderLine{
			OrderID:   order.ID,
			ProductID: f.product.ID,
			Quantity:  1,
			UnitPrice: f.product.Price,
			Subtotal:  f.product.Price,
		})
	})
	require.NoError(t, err)

	return user.ID
}

func (f *fixture) rating(t *testing.T) decimal.NullDecimal {
	t.Helper()
	p, err := f.db.GetProduct(context.Background(), f.product.ID)
	require.NoError(t, err)
	return p.Rating
}

func TestFirstReviewSetsRating(t *testing.T) {
	f := newFixture(t)
	userID := f.buyer(t, "a@example.com")

	review, err := f.svc.AddReview(context.Background(), userID, Input{ProductName: "Widget", Rating: 4, Comment: "solid"})
	require.NoError(t, err)
	assert.NotZero(t, review.ID)
	assert.Equal(t, "solid", review.Comment)

	rating := f.rating(t)
	require.True(t, rating.Valid)
	assert.True(t, rating.Decimal.Equal(decimal.NewFromInt(4)))
}

func TestRatingIsRoundedMean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, r := range []int{5, 4, 4} {
		userID := f.buyer(t, string(rune('a'+i))+"@example.com")
		_, err := f.svc.AddReview(ctx, userID, Input{ProductName: "Widget", Rating: r})
		require.NoError(t, err)
	}

	rating := f.rating(t)
	require.True(t, rating.Valid)
	assert.Equal(t, "4.33", rating.Decimal.StringFixed(2))
}

func TestDeletingLastReviewUnsetsRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.buyer(t, "a@example.com")

	_, err := f.svc.AddReview(ctx, userID, Input{ProductName: "Widget", Rating: 2})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteReview(ctx, userID, "Widget"))

	assert.False(t, f.rating(t).Valid)

	err = f.svc.DeleteReview(ctx, userID, "Widget")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateReviewRecomputes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.buyer(t, "a@example.com")
	b := f.buyer(t, "b@example.com")

	_, err := f.svc.AddReview(ctx, a, Input{ProductName: "Widget", Rating: 5})
	require.NoError(t, err)
	_, err = f.svc.AddReview(ctx, b, Input{ProductName: "Widget", Rating: 4})
	require.NoError(t, err)

	updated, err := f.svc.UpdateReview(ctx, b, Input{ProductName: "Widget", Rating: 2, Comment: "broke"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Rating)
	assert.Equal(t, "broke", updated.Comment)

	assert.Equal(t, "3.50", f.rating(t).Decimal.StringFixed(2))
}

func TestUpdateWithoutReviewIsNotFound(t *testing.T) {
	f := newFixture(t)
	userID := f.buyer(t, "a@example.com")

	_, err := f.svc.UpdateReview(context.Background(), userID, Input{ProductName: "Widget", Rating: 3})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDuplicateReviewIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.buyer(t, "a@example.com")

	_, err := f.svc.AddReview(ctx, userID, Input{ProductName: "Widget", Rating: 3})
	require.NoError(t, err)

	_, err = f.svc.AddReview(ctx, userID, Input{ProductName: "Widget", Rating: 1})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.Equal(t, "3.00", f.rating(t).Decimal.StringFixed(2))
}

func TestReviewRequiresPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.db.CreateUser(ctx, "window@example.com", "Window Shopper")
	require.NoError(t, err)

	_, err = f.svc.AddReview(ctx, user.ID, Input{ProductName: "Widget", Rating: 5, Comment: "looks nice"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.svc.UpdateReview(ctx, user.ID, Input{ProductName: "Widget", Rating: 5})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	assert.False(t, f.rating(t).Valid)
}

func TestReviewValidationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.buyer(t, "a@example.com")

	tests := []struct {
		name  string
		input Input
		want  error
	}{
		{"rating too low", Input{ProductName: "", Rating: 0}, apperr.ErrInvalidInput},
		{"rating too high", Input{ProductName: "Widget", Rating: 6}, apperr.ErrInvalidInput},
		{"blank product", Input{ProductName: "  ", Rating: 3}, apperr.ErrInvalidInput},
		{"comment too long", Input{ProductName: "Nope", Rating: 3, Comment: strings.Repeat("x", models.MaxCommentLength+1)}, apperr.ErrInvalidInput},
		{"unknown product", Input{ProductName: "Nope", Rating: 3}, apperr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddReview(ctx, userID, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.svc.AddReview(ctx, userID+100, Input{ProductName: "Widget", Rating: 3})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBlankCommentDefaults(t *testing.T) {
	f := newFixture(t)
	userID := f.buyer(t, "a@example.com")

	review, err := f.svc.AddReview(context.Background(), userID, Input{ProductName: "Widget", Rating: 3, Comment: "   "})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultComment, review.Comment)
}

func TestCommentAtLimitIsAccepted(t *testing.T) {
	f := newFixture(t)
	userID := f.buyer(t, "a@example.com")

	_, err := f.svc.AddReview(context.Background(), userID, Input{
		ProductName: "Widget",
		Rating:      3,
		Comment:     strings.Repeat("é", models.MaxCommentLength),
	})
	assert.NoError(t, err)
}

func TestConcurrentReviewsAggregateAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const reviewers = 10
	users := make([]int64, reviewers)
	for i := range users {
		users[i] = f.buyer(t, string(rune('a'+i))+"@example.com")
	}

	var wg sync.WaitGroup
	for i, userID := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddReview(ctx, userID, Input{ProductName: "Widget", Rating: i%5 + 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "3.00", f.rating(t).Decimal.StringFixed(2))
}

func TestReadSide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.buyer(t, "a@example.com")
	b := f.buyer(t, "b@example.com")

	_, err := f.svc.AddReview(ctx, a, Input{ProductName: "Widget", Rating: 5})
	require.NoError(t, err)
	_, err = f.svc.AddReview(ctx, b, Input{ProductName: "Widget", Rating: 1})
	require.NoError(t, err)

	page, err := f.svc.ProductReviews(ctx, "Widget", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)

	_, err = f.svc.ProductReviews(ctx, "Nope", 1, 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	reviews, err := f.svc.UserReviews(ctx, a)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 5, reviews[0].Rating)

	_, err = f.svc.UserReviews(ctx, 9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMeanRating(t *testing.T) {
	assert.False(t, MeanRating(0, 0).Valid)
	assert.Equal(t, "2.67", MeanRating(3, 8).Decimal.StringFixed(2))
	assert.Equal(t, "5.00", MeanRating(1, 5).Decimal.StringFixed(2))
}
