package api

import (
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type CreateUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type CreateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type UpdateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
}

type AdjustStockRequest struct {
	Delta int `json:"delta"`
}

// AddCartItemRequest names the product by ID or by name; ID wins when both
// are set.
type AddCartItemRequest struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

type ReviewRequest struct {
	ProductName string `json:"product_name"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
}

type ProductResponse struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Price       decimal.Decimal     `json:"price"`
	Stock       int                 `json:"stock"`
	Rating      decimal.NullDecimal `json:"rating"`
}

func toProductResponse(p *models.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Rating:      p.Rating,
	}
}

type OrderLineResponse struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type OrderResponse struct {
	ID          int64               `json:"id"`
	OrderNumber string              `json:"order_number"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	CreatedAt   time.Time           `json:"created_at"`
	Lines       []OrderLineResponse `json:"lines"`
}

func toOrderResponse(o *models.Order, lines []models.OrderLine) OrderResponse {
	resp := OrderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
		Lines:       make([]OrderLineResponse, 0, len(lines)),
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Subtotal:    l.Subtotal,
		})
	}
	return resp
}

type ReviewResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toReviewResponse(r *models.Review) ReviewResponse {
	return ReviewResponse{
		ID:        r.ID,
		UserID:    r.UserID,
		ProductID: r.ProductID,
		Rating:    r.Rating,
		Comment:   r.Comment,
		UpdatedAt: r.UpdatedAt,
	}
}

func toReviewResponses(reviews []models.Review) []ReviewResponse {
	out := make([]ReviewResponse, 0, len(reviews))
	for i := range reviews {
		out = append(out, toReviewResponse(&reviews[i]))
	}
	return out
}
