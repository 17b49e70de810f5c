package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.catalog.CreateUser(r.Context(), req.Email, req.Name)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "userID")
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid user id")
		return
	}

	user, err := s.catalog.GetUser(r.Context(), id)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListUsers(r.Context(), queryInt(r, "page", 1), queryInt(r, "page_size", store.DefaultPageSize))
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	product, err := s.catalog.CreateProduct(r.Context(), store.NewProduct{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toProductResponse(product))
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "productID")
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid product id")
		return
	}

	var req UpdateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	product, err := s.catalog.UpdateProduct(r.Context(), id, store.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "productID")
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid product id")
		return
	}

	product, err := s.catalog.GetProduct(r.Context(), id)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) getProductByName(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.GetProductByName(r.Context(), nameParam(r, "name"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	filter := store.ProductFilter{Search: r.URL.Query().Get("search")}
	for key, dst := range map[string]**decimal.Decimal{"min_price": &filter.MinPrice, "max_price": &filter.MaxPrice} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid "+key)
			return
		}
		*dst = &v
	}

	page, err := s.catalog.ListProducts(r.Context(), filter, queryInt(r, "page", 1), queryInt(r, "page_size", store.DefaultPageSize))
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	if products, ok := page.Items.([]models.Product); ok {
		items := make([]ProductResponse, 0, len(products))
		for i := range products {
			items = append(items, toProductResponse(&products[i]))
		}
		page.Items = items
	}

	respondJSON(w, http.StatusOK, page)
}

// adjustStock is the operator restock path. Negative deltas are write-offs
// and obey the same non-negative floor as checkout debits.
func (s *Server) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "productID")
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid product id")
		return
	}

	var req AdjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	product, err := s.ledger.AdjustStock(r.Context(), id, req.Delta)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toProductResponse(product))
}

func nameParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}
