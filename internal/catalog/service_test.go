package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := store.NewMemory()
	require.NoError(t, err)
	return NewService(db, nil)
}

func TestCreateProduct(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, store.NewProduct{Name: "  Widget ", Price: decimal.RequireFromString("9.99"), Stock: 3})
	require.NoError(t, err)
	assert.Equal(t, "Widget", p.Name)
	assert.False(t, p.Rating.Valid)

	_, err = svc.CreateProduct(ctx, store.NewProduct{Name: "Widget", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateProductValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   store.NewProduct
	}{
		{"blank name", store.NewProduct{Name: " ", Price: decimal.NewFromInt(1)}},
		{"long name", store.NewProduct{Name: strings.Repeat("x", 51), Price: decimal.NewFromInt(1)}},
		{"zero price", store.NewProduct{Name: "A", Price: decimal.Zero}},
		{"negative stock", store.NewProduct{Name: "A", Price: decimal.NewFromInt(1), Stock: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateProduct(ctx, tt.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		})
	}
}

func TestUpdateProduct(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, store.NewProduct{Name: "Widget", Price: decimal.NewFromInt(5), Stock: 3})
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, store.NewProduct{Name: "Gadget", Price: decimal.NewFromInt(5)})
	require.NoError(t, err)

	desc := "shiny"
	updated, err := svc.UpdateProduct(ctx, p.ID, store.ProductUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "shiny", updated.Description)
	assert.Equal(t, 3, updated.Stock)

	taken := "Gadget"
	_, err = svc.UpdateProduct(ctx, p.ID, store.ProductUpdate{Name: &taken})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	zero := decimal.Zero
	_, err = svc.UpdateProduct(ctx, p.ID, store.ProductUpdate{Price: &zero})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.UpdateProduct(ctx, 999, store.ProductUpdate{Description: &desc})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProductLookups(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, store.NewProduct{Name: "Widget", Price: decimal.NewFromInt(5)})
	require.NoError(t, err)

	got, err := svc.GetProductByName(ctx, "Widget")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = svc.GetProduct(ctx, p.ID+1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	page, err := svc.ListProducts(ctx, store.ProductFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items.([]models.Product), 1)
}

func TestCreateUser(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, " Ada@Example.com ", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)

	_, err = svc.CreateUser(ctx, "ada@example.com", "Other Ada")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.CreateUser(ctx, "not-an-email", "Bob")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.CreateUser(ctx, "bob@example.com", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	got, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)

	page, err := svc.ListUsers(ctx, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
}

func TestListProductsFilter(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for _, name := range []string{"Widget", "Gadget", "Mini Widget"} {
		_, err := svc.CreateProduct(ctx, store.NewProduct{Name: name, Price: decimal.NewFromInt(5)})
		require.NoError(t, err)
	}

	page, err := svc.ListProducts(ctx, store.ProductFilter{Search: "  WIDGET "}, 1, 10)
	require.NoError(t, err)
	products := page.Items.([]models.Product)
	require.Len(t, products, 2)
	assert.Equal(t, "Mini Widget", products[0].Name)
	assert.Equal(t, "Widget", products[1].Name)

	low, high := decimal.NewFromInt(10), decimal.NewFromInt(1)
	_, err = svc.ListProducts(ctx, store.ProductFilter{MinPrice: &low, MaxPrice: &high}, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	negative := decimal.NewFromInt(-1)
	_, err = svc.ListProducts(ctx, store.ProductFilter{MinPrice: &negative}, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestProductPriceScale(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, store.NewProduct{Name: "Fine", Price: decimal.RequireFromString("1.005")})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	p, err := svc.CreateProduct(ctx, store.NewProduct{Name: "Coarse", Price: decimal.RequireFromString("1.500")})
	require.NoError(t, err)

	fine := decimal.RequireFromString("2.999")
	_, err = svc.UpdateProduct(ctx, p.ID, store.ProductUpdate{Price: &fine})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	ok := decimal.RequireFromString("2.99")
	updated, err := svc.UpdateProduct(ctx, p.ID, store.ProductUpdate{Price: &ok})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(ok))
}
