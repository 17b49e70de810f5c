package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, description, price, stock, rating, created_at, updated_at, version`

func scanProduct(row interface{ Scan(...any) error }, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.Rating,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func (r *pgRepo) CreateProduct(ctx context.Context, p NewProduct) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (name, description, price, stock, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(r.q.QueryRowContext(ctx, query, p.Name, p.Description, p.Price, p.Stock), product)
	if err != nil {
		return nil, translateProductError(err, p.Name, "create product")
	}

	return product, nil
}

func (r *pgRepo) UpdateProduct(ctx context.Context, id int64, u ProductUpdate) (*models.Product, error) {
	product := &models.Product{}

	query := `
		UPDATE products
		SET name = COALESCE($2, name),
		    description = COALESCE($3, description),
		    price = COALESCE($4, price),
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $1
		RETURNING ` + productColumns

	var price decimal.NullDecimal
	if u.Price != nil {
		price = decimal.NullDecimal{Decimal: *u.Price, Valid: true}
	}

	err := scanProduct(r.q.QueryRowContext(ctx, query, id, u.Name, u.Description, price), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product %d not found", id)
		}
		name := ""
		if u.Name != nil {
			name = *u.Name
		}
		return nil, translateProductError(err, name, "update product")
	}

	return product, nil
}

func (r *pgRepo) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return r.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (r *pgRepo) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	return r.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgRepo) getProduct(ctx context.Context, query string, id int64) (*models.Product, error) {
	product := &models.Product{}

	err := scanProduct(r.q.QueryRowContext(ctx, query, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product %d not found", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func (r *pgRepo) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE name = $1`

	err := scanProduct(r.q.QueryRowContext(ctx, query, name), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product %q not found", name)
		}
		return nil, fmt.Errorf("get product by name: %w", err)
	}

	return product, nil
}

// AdjustStock applies delta with a single guarded UPDATE so that two
// concurrent debits of the same row are serialized by the row lock and the
// loser re-evaluates the floor against the committed stock.
func (r *pgRepo) AdjustStock(ctx context.Context, id int64, delta int) (*models.Product, error) {
	product := &models.Product{}

	query := `
		UPDATE products
		SET stock = stock + $1,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $2
		  AND stock + $1 >= 0
		RETURNING ` + productColumns

	err := scanProduct(r.q.QueryRowContext(ctx, query, delta, id), product)
	if err == nil {
		return product, nil
	}

	if database.IsCheckViolation(err, "products_stock_non_negative") {
		return nil, apperr.Newf(apperr.KindStockViolation, "stock of product %d cannot go below zero", id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	var stock int
	err = r.q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("product %d not found", id)
		}
		return nil, fmt.Errorf("check product stock: %w", err)
	}

	return nil, apperr.Newf(apperr.KindStockViolation,
		"stock of product %d cannot go below zero (have %d, change %d)", id, stock, delta)
}

func (r *pgRepo) SetRating(ctx context.Context, id int64, rating decimal.NullDecimal) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE products
		 SET rating = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2`,
		rating, id)
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperr.NotFound("product %d not found", id)
	}

	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (f ProductFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(f.Search)+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if f.MinPrice != nil {
		args = append(args, *f.MinPrice)
		conds = append(conds, fmt.Sprintf("price >= $%d", len(args)))
	}
	if f.MaxPrice != nil {
		args = append(args, *f.MaxPrice)
		conds = append(conds, fmt.Sprintf("price <= $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *pgRepo) ListProducts(ctx context.Context, filter ProductFilter, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)
	where, args := filter.where()

	var total int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM products%s
		ORDER BY name, id
		LIMIT $%d OFFSET $%d`, productColumns, where, len(args)+1, len(args)+2)

	rows, err := r.q.QueryContext(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

func translateProductError(err error, name, op string) error {
	switch {
	case database.IsUniqueViolation(err, "products_name_key"):
		return apperr.Conflict("product %q already exists", name)
	case database.IsCheckViolation(err, "products_price_positive"):
		return apperr.InvalidInput("price must be greater than zero")
	case database.IsCheckViolation(err, "products_stock_non_negative"):
		return apperr.InvalidInput("stock cannot be negative")
	}
	return fmt.Errorf("%s: %w", op, err)
}
