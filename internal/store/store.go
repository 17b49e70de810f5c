// Package store persists users, products, orders and reviews behind a
// Repository interface with two backends: Postgres and an in-memory
// go-memdb database. Store.InTx groups repository calls into one unit of
// work that commits or rolls back as a whole.
package store

import (
	"context"
	"strings"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type NewProduct struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

type ProductUpdate struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
}

// ProductFilter narrows a product listing. Search matches a
// case-insensitive substring of the name; a nil price bound is open.
type ProductFilter struct {
	Search   string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

func (f ProductFilter) matches(p *models.Product) bool {
	if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}

type Repository interface {
	CreateUser(ctx context.Context, email, name string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListUsers(ctx context.Context, page, pageSize int) (*OffsetPage, error)

	CreateProduct(ctx context.Context, p NewProduct) (*models.Product, error)
	UpdateProduct(ctx context.Context, id int64, u ProductUpdate) (*models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductByName(ctx context.Context, name string) (*models.Product, error)
	// LockProduct reads a product and holds its row lock until the
	// enclosing unit of work ends.
	LockProduct(ctx context.Context, id int64) (*models.Product, error)
	// ListProducts returns the products matching filter, ordered by name.
	ListProducts(ctx context.Context, filter ProductFilter, page, pageSize int) (*OffsetPage, error)
	// AdjustStock adds delta to the product's stock. It fails with
	// apperr.ErrStockViolation, leaving stock unchanged, when the result
	// would be negative.
	AdjustStock(ctx context.Context, id int64, delta int) (*models.Product, error)
	SetRating(ctx context.Context, id int64, rating decimal.NullDecimal) error

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderLine(ctx context.Context, line *models.OrderLine) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error)
	HasPurchased(ctx context.Context, userID, productID int64) (bool, error)

	CreateReview(ctx context.Context, review *models.Review) error
	UpdateReview(ctx context.Context, review *models.Review) error
	DeleteReview(ctx context.Context, id int64) error
	GetReview(ctx context.Context, userID, productID int64) (*models.Review, error)
	ListProductReviews(ctx context.Context, productID int64, page, pageSize int) (*OffsetPage, error)
	ListUserReviews(ctx context.Context, userID int64) ([]models.Review, error)
	ReviewStats(ctx context.Context, productID int64) (count int64, sum int64, err error)
}

type TxOptions struct {
	ReadOnly bool
	// MaxRetries re-runs the unit of work on deadlock or serialization
	// failures. Zero disables retries.
	MaxRetries int
}

type Store interface {
	Repository
	InTx(ctx context.Context, opts TxOptions, fn func(repo Repository) error) error
}
