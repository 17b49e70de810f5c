package api

import (
	"net/http"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
)

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionOf(w, r)
	if !ok {
		return
	}

	order, lines, err := s.checkout.Checkout(r.Context(), sess)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toOrderResponse(order, lines))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r, "orderID")
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid order id")
		return
	}

	order, err := s.orders.GetOrder(r.Context(), userIDFromContext(r.Context()), orderID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toOrderResponse(order, order.Lines))
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := s.orders.ListOrders(r.Context(), userIDFromContext(r.Context()),
		r.URL.Query().Get("cursor"), queryInt(r, "limit", 20))
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	if list, ok := page.Items.([]models.Order); ok {
		items := make([]OrderResponse, 0, len(list))
		for i := range list {
			items = append(items, toOrderResponse(&list[i], list[i].Lines))
		}
		page.Items = items
	}

	respondJSON(w, http.StatusOK, page)
}
