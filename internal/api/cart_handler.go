package api

import (
	"net/http"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/models"
)

func sessionOf(w http.ResponseWriter, r *http.Request) (cart.Session, bool) {
	sess, ok := cart.SessionFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusInternalServerError, apperr.KindInternal.String(), "no cart session")
	}
	return sess, ok
}

func (s *Server) viewCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOf(w, r)
	if !ok {
		return
	}

	view, err := s.carts.ViewCart(r.Context(), sess)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOf(w, r)
	if !ok {
		return
	}

	var req AddCartItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		line models.CartLine
		err  error
	)
	switch {
	case req.ProductID > 0:
		line, err = s.carts.AddItem(r.Context(), sess, req.ProductID, req.Quantity)
	case req.ProductName != "":
		line, err = s.carts.AddItemByName(r.Context(), sess, req.ProductName, req.Quantity)
	default:
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "product_id or product_name is required")
		return
	}
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, line)
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOf(w, r)
	if !ok {
		return
	}

	productID, ok := pathID(r, "productID")
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid product id")
		return
	}

	if err := s.carts.RemoveItem(r.Context(), sess, productID); err != nil {
		respondAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOf(w, r)
	if !ok {
		return
	}

	if err := s.carts.ClearCart(r.Context(), sess); err != nil {
		respondAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
