package api

import (
	"context"
	"net/http"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/review"
	"github.com/safar/go-storefront/internal/store"
)

type reviewWriter func(ctx context.Context, userID int64, in review.Input) (*models.Review, error)

func (s *Server) addReview(w http.ResponseWriter, r *http.Request) {
	s.writeReview(w, r, http.StatusCreated, s.reviews.AddReview)
}

func (s *Server) updateReview(w http.ResponseWriter, r *http.Request) {
	s.writeReview(w, r, http.StatusOK, s.reviews.UpdateReview)
}

func (s *Server) writeReview(w http.ResponseWriter, r *http.Request, status int, write reviewWriter) {
	var req ReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rev, err := write(r.Context(), userIDFromContext(r.Context()), review.Input{
		ProductName: req.ProductName,
		Rating:      req.Rating,
		Comment:     req.Comment,
	})
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, status, toReviewResponse(rev))
}

func (s *Server) deleteReview(w http.ResponseWriter, r *http.Request) {
	err := s.reviews.DeleteReview(r.Context(), userIDFromContext(r.Context()), nameParam(r, "productName"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) productReviews(w http.ResponseWriter, r *http.Request) {
	page, err := s.reviews.ProductReviews(r.Context(), nameParam(r, "name"),
		queryInt(r, "page", 1), queryInt(r, "page_size", store.DefaultPageSize))
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	if list, ok := page.Items.([]models.Review); ok {
		page.Items = toReviewResponses(list)
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *Server) userReviews(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		respondError(w, http.StatusBadRequest, apperr.KindInvalidInput.String(), "invalid user id")
		return
	}
	s.listUserReviews(w, r, userID)
}

func (s *Server) myReviews(w http.ResponseWriter, r *http.Request) {
	s.listUserReviews(w, r, userIDFromContext(r.Context()))
}

func (s *Server) listUserReviews(w http.ResponseWriter, r *http.Request, userID int64) {
	reviews, err := s.reviews.UserReviews(r.Context(), userID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toReviewResponses(reviews))
}
