package store

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const (
	tableUsers      = "users"
	tableProducts   = "products"
	tableOrders     = "orders"
	tableOrderLines = "order_lines"
	tableReviews    = "reviews"
)

func memSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableUsers: {
				Name: tableUsers,
				Indexes: map[string]*memdb.IndexSchema{
					"id":    {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"email": {Name: "email", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Email"}},
				},
			},
			tableProducts: {
				Name: tableProducts,
				Indexes: map[string]*memdb.IndexSchema{
					"id":   {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"name": {Name: "name", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "Name"}},
				},
			},
			tableOrders: {
				Name: tableOrders,
				Indexes: map[string]*memdb.IndexSchema{
					"id":     {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"user":   {Name: "user", Indexer: &memdb.IntFieldIndex{Field: "UserID"}},
					"number": {Name: "number", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "OrderNumber"}},
				},
			},
			tableOrderLines: {
				Name: tableOrderLines,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "OrderID"},
							&memdb.IntFieldIndex{Field: "ProductID"},
						},
					}},
					"order": {Name: "order", Indexer: &memdb.IntFieldIndex{Field: "OrderID"}},
				},
			},
			tableReviews: {
				Name: tableReviews,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"user_product": {Name: "user_product", Unique: true, Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.IntFieldIndex{Field: "UserID"},
							&memdb.IntFieldIndex{Field: "ProductID"},
						},
					}},
					"product": {Name: "product", Indexer: &memdb.IntFieldIndex{Field: "ProductID"}},
					"user":    {Name: "user", Indexer: &memdb.IntFieldIndex{Field: "UserID"}},
				},
			},
		},
	}
}

type sequences struct {
	users    atomic.Int64
	products atomic.Int64
	orders   atomic.Int64
	reviews  atomic.Int64
}

// Memory is a Store backed by go-memdb. Write transactions are serialized
// by memdb's single writer lock; an aborted transaction discards all of its
// staged changes and a committed one becomes visible atomically.
type Memory struct {
	*memRepo
}

func NewMemory() (*Memory, error) {
	db, err := memdb.NewMemDB(memSchema())
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}

	return &Memory{memRepo: &memRepo{db: db, seq: &sequences{}}}, nil
}

func (m *Memory) InTx(ctx context.Context, opts TxOptions, fn func(repo Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := m.db.Txn(!opts.ReadOnly)
	defer func() {
		if p := recover(); p != nil {
			txn.Abort()
			panic(p)
		}
	}()

	if err := fn(&memRepo{db: m.db, seq: m.seq, txn: txn}); err != nil {
		txn.Abort()
		return err
	}

	if opts.ReadOnly {
		txn.Abort()
		return nil
	}

	txn.Commit()
	return nil
}

// memRepo runs each call in its own transaction unless it is bound to the
// transaction of an enclosing InTx.
type memRepo struct {
	db  *memdb.MemDB
	seq *sequences
	txn *memdb.Txn
}

func (r *memRepo) read(fn func(txn *memdb.Txn) error) error {
	if r.txn != nil {
		return fn(r.txn)
	}
	txn := r.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

func (r *memRepo) write(fn func(txn *memdb.Txn) error) error {
	if r.txn != nil {
		return fn(r.txn)
	}
	txn := r.db.Txn(true)
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	return nil
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (r *memRepo) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	var user *models.User
	err := r.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableUsers, "email", email)
		if err != nil {
			return fmt.Errorf("lookup user email: %w", err)
		}
		if existing != nil {
			return apperr.Conflict("email %q is already registered", email)
		}

		ts := now()
		user = &models.User{
			ID:        r.seq.users.Add(1),
			Email:     email,
			Name:      name,
			CreatedAt: ts,
			UpdatedAt: ts,
			Version:   1,
		}
		if err := txn.Insert(tableUsers, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	u := *user
	return &u, nil
}

func (r *memRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.read(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableUsers, "id", id)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if raw == nil {
			return apperr.NotFound("user %d not found", id)
		}
		user = *raw.(*models.User)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *memRepo) ListUsers(ctx context.Context, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	users := []models.User{}
	err := r.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableUsers, "id")
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			users = append(users, *obj.(*models.User))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	start, end := pageBounds(len(users), page, pageSize)

	return newOffsetPage(users[start:end], int64(len(users)), page, pageSize), nil
}

func (r *memRepo) CreateProduct(ctx context.Context, p NewProduct) (*models.Product, error) {
	if !p.Price.IsPositive() {
		return nil, apperr.InvalidInput("price must be greater than zero")
	}
	if p.Stock < 0 {
		return nil, apperr.InvalidInput("stock cannot be negative")
	}

	var product *models.Product
	err := r.write(func(txn *memdb.Txn) error {
		if err := checkProductName(txn, p.Name, 0); err != nil {
			return err
		}

		ts := now()
		product = &models.Product{
			ID:          r.seq.products.Add(1),
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Stock:       p.Stock,
			CreatedAt:   ts,
			UpdatedAt:   ts,
			Version:     1,
		}
		if err := txn.Insert(tableProducts, product); err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := *product
	return &out, nil
}

func (r *memRepo) UpdateProduct(ctx context.Context, id int64, u ProductUpdate) (*models.Product, error) {
	if u.Price != nil && !u.Price.IsPositive() {
		return nil, apperr.InvalidInput("price must be greater than zero")
	}

	var product models.Product
	err := r.write(func(txn *memdb.Txn) error {
		current, err := productByID(txn, id)
		if err != nil {
			return err
		}

		product = *current
		if u.Name != nil {
			if err := checkProductName(txn, *u.Name, id); err != nil {
				return err
			}
			product.Name = *u.Name
		}
		if u.Description != nil {
			product.Description = *u.Description
		}
		if u.Price != nil {
			product.Price = *u.Price
		}
		return putProduct(txn, &product)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *memRepo) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product *models.Product
	err := r.read(func(txn *memdb.Txn) error {
		var err error
		product, err = productByID(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// LockProduct is a plain read: a write transaction already holds the
// store-wide writer lock.
func (r *memRepo) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	return r.GetProduct(ctx, id)
}

func (r *memRepo) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	var product models.Product
	err := r.read(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableProducts, "name", name)
		if err != nil {
			return fmt.Errorf("get product by name: %w", err)
		}
		if raw == nil {
			return apperr.NotFound("product %q not found", name)
		}
		product = *raw.(*models.Product)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *memRepo) ListProducts(ctx context.Context, filter ProductFilter, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	products := []models.Product{}
	err := r.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableProducts, "id")
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			if p := obj.(*models.Product); filter.matches(p) {
				products = append(products, *p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	start, end := pageBounds(len(products), page, pageSize)

	return newOffsetPage(products[start:end], int64(len(products)), page, pageSize), nil
}

func (r *memRepo) AdjustStock(ctx context.Context, id int64, delta int) (*models.Product, error) {
	var product models.Product
	err := r.write(func(txn *memdb.Txn) error {
		current, err := productByID(txn, id)
		if err != nil {
			return err
		}
		if current.Stock+delta < 0 {
			return apperr.Newf(apperr.KindStockViolation,
				"stock of product %d cannot go below zero (have %d, change %d)", id, current.Stock, delta)
		}

		product = *current
		product.Stock += delta
		return putProduct(txn, &product)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *memRepo) SetRating(ctx context.Context, id int64, rating decimal.NullDecimal) error {
	return r.write(func(txn *memdb.Txn) error {
		current, err := productByID(txn, id)
		if err != nil {
			return err
		}

		product := *current
		product.Rating = rating
		return putProduct(txn, &product)
	})
}

func productByID(txn *memdb.Txn, id int64) (*models.Product, error) {
	raw, err := txn.First(tableProducts, "id", id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if raw == nil {
		return nil, apperr.NotFound("product %d not found", id)
	}
	product := *raw.(*models.Product)
	return &product, nil
}

// putProduct stores a modified copy, bumping version and updated_at.
func putProduct(txn *memdb.Txn, product *models.Product) error {
	product.Version++
	product.UpdatedAt = now()
	stored := *product
	if err := txn.Insert(tableProducts, &stored); err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return nil
}

// memdb does not reject duplicate values on unique secondary indexes.
func checkProductName(txn *memdb.Txn, name string, selfID int64) error {
	existing, err := txn.First(tableProducts, "name", name)
	if err != nil {
		return fmt.Errorf("lookup product name: %w", err)
	}
	if existing != nil && existing.(*models.Product).ID != selfID {
		return apperr.Conflict("product %q already exists", name)
	}
	return nil
}

func (r *memRepo) InsertOrder(ctx context.Context, order *models.Order) error {
	return r.write(func(txn *memdb.Txn) error {
		user, err := txn.First(tableUsers, "id", order.UserID)
		if err != nil {
			return fmt.Errorf("lookup user: %w", err)
		}
		if user == nil {
			return apperr.NotFound("user %d not found", order.UserID)
		}
		existing, err := txn.First(tableOrders, "number", order.OrderNumber)
		if err != nil {
			return fmt.Errorf("lookup order number: %w", err)
		}
		if existing != nil {
			return apperr.Conflict("order number %s already exists", order.OrderNumber)
		}

		order.ID = r.seq.orders.Add(1)
		order.CreatedAt = now()

		stored := *order
		stored.Lines = nil
		if err := txn.Insert(tableOrders, &stored); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})
}

func (r *memRepo) InsertOrderLine(ctx context.Context, line *models.OrderLine) error {
	return r.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableOrderLines, "id", line.OrderID, line.ProductID)
		if err != nil {
			return fmt.Errorf("lookup order line: %w", err)
		}
		if existing != nil {
			return apperr.Conflict("order %d already has a line for product %d", line.OrderID, line.ProductID)
		}
		if _, err := productByID(txn, line.ProductID); err != nil {
			return err
		}

		stored := *line
		stored.ProductName = ""
		if err := txn.Insert(tableOrderLines, &stored); err != nil {
			return fmt.Errorf("create order line: %w", err)
		}
		return nil
	})
}

func (r *memRepo) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.read(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableOrders, "id", id)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
		if raw == nil {
			return apperr.NotFound("order %d not found", id)
		}
		order = *raw.(*models.Order)

		it, err := txn.Get(tableOrderLines, "order", id)
		if err != nil {
			return fmt.Errorf("get order lines: %w", err)
		}
		order.Lines = []models.OrderLine{}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			line := *obj.(*models.OrderLine)
			product, err := productByID(txn, line.ProductID)
			if err != nil {
				return err
			}
			line.ProductName = product.Name
			order.Lines = append(order.Lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(order.Lines, func(i, j int) bool { return order.Lines[i].ProductID < order.Lines[j].ProductID })
	return &order, nil
}

func (r *memRepo) ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	_, limit = NormalizePage(1, limit)

	orders := []models.Order{}
	err = r.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableOrders, "user", userID)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			order := *obj.(*models.Order)
			if cursorData.Before(order.CreatedAt, order.ID) {
				orders = append(orders, order)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if len(orders) > limit+1 {
		orders = orders[:limit+1]
	}

	return newCursorPage(orders, limit), nil
}

func (r *memRepo) HasPurchased(ctx context.Context, userID, productID int64) (bool, error) {
	var purchased bool
	err := r.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableOrders, "user", userID)
		if err != nil {
			return fmt.Errorf("check purchase: %w", err)
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			line, err := txn.First(tableOrderLines, "id", obj.(*models.Order).ID, productID)
			if err != nil {
				return fmt.Errorf("check purchase: %w", err)
			}
			if line != nil {
				purchased = true
				return nil
			}
		}
		return nil
	})
	return purchased, err
}

func (r *memRepo) CreateReview(ctx context.Context, review *models.Review) error {
	return r.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tableReviews, "user_product", review.UserID, review.ProductID)
		if err != nil {
			return fmt.Errorf("lookup review: %w", err)
		}
		if existing != nil {
			return apperr.Conflict("user %d already reviewed product %d", review.UserID, review.ProductID)
		}

		ts := now()
		review.ID = r.seq.reviews.Add(1)
		review.CreatedAt = ts
		review.UpdatedAt = ts

		stored := *review
		if err := txn.Insert(tableReviews, &stored); err != nil {
			return fmt.Errorf("create review: %w", err)
		}
		return nil
	})
}

func (r *memRepo) UpdateReview(ctx context.Context, review *models.Review) error {
	return r.write(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableReviews, "id", review.ID)
		if err != nil {
			return fmt.Errorf("lookup review: %w", err)
		}
		if raw == nil {
			return apperr.NotFound("review %d not found", review.ID)
		}

		stored := *raw.(*models.Review)
		stored.Rating = review.Rating
		stored.Comment = review.Comment
		stored.UpdatedAt = now()
		if err := txn.Insert(tableReviews, &stored); err != nil {
			return fmt.Errorf("update review: %w", err)
		}
		*review = stored
		return nil
	})
}

func (r *memRepo) DeleteReview(ctx context.Context, id int64) error {
	return r.write(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableReviews, "id", id)
		if err != nil {
			return fmt.Errorf("lookup review: %w", err)
		}
		if raw == nil {
			return apperr.NotFound("review %d not found", id)
		}
		if err := txn.Delete(tableReviews, raw); err != nil {
			return fmt.Errorf("delete review: %w", err)
		}
		return nil
	})
}

func (r *memRepo) GetReview(ctx context.Context, userID, productID int64) (*models.Review, error) {
	var review models.Review
	err := r.read(func(txn *memdb.Txn) error {
		raw, err := txn.First(tableReviews, "user_product", userID, productID)
		if err != nil {
			return fmt.Errorf("get review: %w", err)
		}
		if raw == nil {
			return apperr.NotFound("user %d has no review for product %d", userID, productID)
		}
		review = *raw.(*models.Review)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *memRepo) ListProductReviews(ctx context.Context, productID int64, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	reviews, err := r.reviewsBy("product", productID)
	if err != nil {
		return nil, fmt.Errorf("list product reviews: %w", err)
	}
	start, end := pageBounds(len(reviews), page, pageSize)

	return newOffsetPage(reviews[start:end], int64(len(reviews)), page, pageSize), nil
}

func (r *memRepo) ListUserReviews(ctx context.Context, userID int64) ([]models.Review, error) {
	reviews, err := r.reviewsBy("user", userID)
	if err != nil {
		return nil, fmt.Errorf("list user reviews: %w", err)
	}
	return reviews, nil
}

func (r *memRepo) ReviewStats(ctx context.Context, productID int64) (int64, int64, error) {
	reviews, err := r.reviewsBy("product", productID)
	if err != nil {
		return 0, 0, fmt.Errorf("review stats: %w", err)
	}

	var sum int64
	for _, review := range reviews {
		sum += int64(review.Rating)
	}
	return int64(len(reviews)), sum, nil
}

// reviewsBy returns reviews matching an index value, newest first.
func (r *memRepo) reviewsBy(index string, id int64) ([]models.Review, error) {
	reviews := []models.Review{}
	err := r.read(func(txn *memdb.Txn) error {
		it, err := txn.Get(tableReviews, index, id)
		if err != nil {
			return err
		}
		for obj := it.Next(); obj != nil; obj = it.Next() {
			reviews = append(reviews, *obj.(*models.Review))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(reviews, func(i, j int) bool {
		if reviews[i].CreatedAt.Equal(reviews[j].CreatedAt) {
			return reviews[i].ID > reviews[j].ID
		}
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews, nil
}
