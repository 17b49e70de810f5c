// Package catalog manages products and users. Stock and rating are not
// writable here: stock moves only through the inventory ledger and the
// rating only through review aggregation.
package catalog

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxNameLength = 50
	priceScale    = 2
)

type Service struct {
	repo   store.Repository
	logger *zap.Logger
}

func NewService(repo store.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger}
}

func validateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.InvalidInput("%s is required", field)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return apperr.InvalidInput("%s must be at most %d characters", field, maxNameLength)
	}
	return nil
}

func validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return apperr.InvalidInput("price must be greater than zero")
	}
	if !price.Equal(price.Round(priceScale)) {
		return apperr.InvalidInput("price %s has more than %d decimal places", price, priceScale)
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, p store.NewProduct) (*models.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := validateName("product name", p.Name); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	if err := validatePrice(p.Price); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	if p.Stock < 0 {
		return nil, fmt.Errorf("create product: %w", apperr.InvalidInput("stock cannot be negative"))
	}

	product, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.Info("product created",
		zap.Int64("product_id", product.ID),
		zap.String("name", product.Name),
		zap.Int("stock", product.Stock))

	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, u store.ProductUpdate) (*models.Product, error) {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if err := validateName("product name", name); err != nil {
			return nil, fmt.Errorf("update product: %w", err)
		}
		u.Name = &name
	}
	if u.Price != nil {
		if err := validatePrice(*u.Price); err != nil {
			return nil, fmt.Errorf("update product: %w", err)
		}
	}

	product, err := s.repo.UpdateProduct(ctx, id, u)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func (s *Service) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	product, err := s.repo.GetProductByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context, filter store.ProductFilter, page, pageSize int) (*store.OffsetPage, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.MinPrice != nil && filter.MinPrice.IsNegative() {
		return nil, fmt.Errorf("list products: %w", apperr.InvalidInput("minimum price cannot be negative"))
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return nil, fmt.Errorf("list products: %w",
			apperr.InvalidInput("minimum price %s is above maximum price %s", filter.MinPrice, filter.MaxPrice))
	}

	result, err := s.repo.ListProducts(ctx, filter, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return result, nil
}

func (s *Service) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("create user: %w", apperr.InvalidInput("invalid email address %q", email))
	}
	name = strings.TrimSpace(name)
	if err := validateName("name", name); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, email, name)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	result, err := s.repo.ListUsers(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return result, nil
}
