// Package review handles product reviews and keeps each product's rating
// equal to the mean of its live reviews.
package review

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
	"go.uber.org/zap"
)

const writeRetries = 3

type Input struct {
	ProductName string `json:"product_name"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
}

type Service struct {
	store  store.Store
	logger *zap.Logger
}

func NewService(s store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, logger: logger}
}

func validateInput(in *Input) error {
	if in.Rating < models.MinRating || in.Rating > models.MaxRating {
		return apperr.InvalidInput("rating must be from %d to %d, got %d", models.MinRating, models.MaxRating, in.Rating)
	}
	if strings.TrimSpace(in.ProductName) == "" {
		return apperr.InvalidInput("product name is required")
	}
	if n := utf8.RuneCountInString(in.Comment); n > models.MaxCommentLength {
		return apperr.InvalidInput("comment must be at most %d characters, got %d", models.MaxCommentLength, n)
	}
	if strings.TrimSpace(in.Comment) == "" {
		in.Comment = models.DefaultComment
	}
	return nil
}

// target resolves the user and product a review write refers to.
func target(ctx context.Context, repo store.Repository, userID int64, productName string) (*models.Product, error) {
	if _, err := repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return repo.GetProductByName(ctx, productName)
}

func requirePurchase(ctx context.Context, repo store.Repository, userID int64, product *models.Product) error {
	purchased, err := repo.HasPurchased(ctx, userID, product.ID)
	if err != nil {
		return err
	}
	if !purchased {
		return apperr.Newf(apperr.KindUnauthorized, "cannot review %s before purchasing it", product.Name)
	}
	return nil
}

func (s *Service) AddReview(ctx context.Context, userID int64, in Input) (*models.Review, error) {
	if err := validateInput(&in); err != nil {
		return nil, fmt.Errorf("add review: %w", err)
	}

	var review *models.Review
	err := s.store.InTx(ctx, store.TxOptions{MaxRetries: writeRetries}, func(repo store.Repository) error {
		product, err := target(ctx, repo, userID, in.ProductName)
		if err != nil {
			return err
		}
		if err := requirePurchase(ctx, repo, userID, product); err != nil {
			return err
		}

		if _, err := repo.GetReview(ctx, userID, product.ID); err == nil {
			return apperr.Conflict("user %d has already reviewed %s", userID, product.Name)
		} else if apperr.KindOf(err) != apperr.KindNotFound {
			return err
		}

		review = &models.Review{
			UserID:    userID,
			ProductID: product.ID,
			Rating:    in.Rating,
			Comment:   in.Comment,
		}
		if err := repo.CreateReview(ctx, review); err != nil {
			return err
		}

		return s.recompute(ctx, repo, product)
	})
	if err != nil {
		return nil, fmt.Errorf("add review: %w", err)
	}

	return review, nil
}

func (s *Service) UpdateReview(ctx context.Context, userID int64, in Input) (*models.Review, error) {
	if err := validateInput(&in); err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}

	var review *models.Review
	err := s.store.InTx(ctx, store.TxOptions{MaxRetries: writeRetries}, func(repo store.Repository) error {
		product, err := target(ctx, repo, userID, in.ProductName)
		if err != nil {
			return err
		}
		if err := requirePurchase(ctx, repo, userID, product); err != nil {
			return err
		}

		review, err = repo.GetReview(ctx, userID, product.ID)
		if err != nil {
			return err
		}

		review.Rating = in.Rating
		review.Comment = in.Comment
		if err := repo.UpdateReview(ctx, review); err != nil {
			return err
		}

		return s.recompute(ctx, repo, product)
	})
	if err != nil {
		return nil, fmt.Errorf("update review: %w", err)
	}

	return review, nil
}

func (s *Service) DeleteReview(ctx context.Context, userID int64, productName string) error {
	if strings.TrimSpace(productName) == "" {
		return fmt.Errorf("delete review: %w", apperr.InvalidInput("product name is required"))
	}

	err := s.store.InTx(ctx, store.TxOptions{MaxRetries: writeRetries}, func(repo store.Repository) error {
		product, err := target(ctx, repo, userID, productName)
		if err != nil {
			return err
		}

		review, err := repo.GetReview(ctx, userID, product.ID)
		if err != nil {
			return err
		}
		if err := repo.DeleteReview(ctx, review.ID); err != nil {
			return err
		}

		return s.recompute(ctx, repo, product)
	})
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}

	return nil
}

func (s *Service) recompute(ctx context.Context, repo store.Repository, product *models.Product) error {
	rating, err := Recompute(ctx, repo, product.ID)
	if err != nil {
		return fmt.Errorf("recompute rating: %w", err)
	}

	fields := []zap.Field{zap.Int64("product_id", product.ID)}
	if rating.Valid {
		fields = append(fields, zap.String("rating", rating.Decimal.StringFixed(RatingScale)))
	} else {
		fields = append(fields, zap.String("rating", "unset"))
	}
	s.logger.Debug("product rating recomputed", fields...)

	return nil
}

func (s *Service) ProductReviews(ctx context.Context, productName string, page, pageSize int) (*store.OffsetPage, error) {
	product, err := s.store.GetProductByName(ctx, productName)
	if err != nil {
		return nil, fmt.Errorf("product reviews: %w", err)
	}

	result, err := s.store.ListProductReviews(ctx, product.ID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("product reviews: %w", err)
	}
	return result, nil
}

func (s *Service) UserReviews(ctx context.Context, userID int64) ([]models.Review, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("user reviews: %w", err)
	}

	reviews, err := s.store.ListUserReviews(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user reviews: %w", err)
	}
	return reviews, nil
}
