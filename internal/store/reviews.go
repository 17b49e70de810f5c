package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-storefront/internal/apperr"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

const reviewColumns = `id, user_id, product_id, rating, comment, created_at, updated_at`

func scanReview(row interface{ Scan(...any) error }, review *models.Review) error {
	return row.Scan(
		&review.ID,
		&review.UserID,
		&review.ProductID,
		&review.Rating,
		&review.Comment,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
}

func (r *pgRepo) CreateReview(ctx context.Context, review *models.Review) error {
	query := `
		INSERT INTO reviews (user_id, product_id, rating, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + reviewColumns

	err := scanReview(r.q.QueryRowContext(ctx, query,
		review.UserID, review.ProductID, review.Rating, review.Comment), review)
	if err != nil {
		if database.IsUniqueViolation(err, "reviews_user_product_key") {
			return apperr.Conflict("user %d already reviewed product %d", review.UserID, review.ProductID)
		}
		return fmt.Errorf("create review: %w", err)
	}

	return nil
}

func (r *pgRepo) UpdateReview(ctx context.Context, review *models.Review) error {
	query := `
		UPDATE reviews
		SET rating = $2, comment = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + reviewColumns

	err := scanReview(r.q.QueryRowContext(ctx, query, review.ID, review.Rating, review.Comment), review)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("review %d not found", review.ID)
		}
		return fmt.Errorf("update review: %w", err)
	}

	return nil
}

func (r *pgRepo) DeleteReview(ctx context.Context, id int64) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperr.NotFound("review %d not found", id)
	}

	return nil
}

func (r *pgRepo) GetReview(ctx context.Context, userID, productID int64) (*models.Review, error) {
	review := &models.Review{}

	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE user_id = $1 AND product_id = $2`

	err := scanReview(r.q.QueryRowContext(ctx, query, userID, productID), review)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user %d has no review for product %d", userID, productID)
		}
		return nil, fmt.Errorf("get review: %w", err)
	}

	return review, nil
}

func (r *pgRepo) ListProductReviews(ctx context.Context, productID int64, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE product_id = $1`, productID).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}

	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	reviews, err := r.queryReviews(ctx, query, productID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list product reviews: %w", err)
	}

	return newOffsetPage(reviews, total, page, pageSize), nil
}

func (r *pgRepo) ListUserReviews(ctx context.Context, userID int64) ([]models.Review, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM reviews
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	reviews, err := r.queryReviews(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user reviews: %w", err)
	}

	return reviews, nil
}

func (r *pgRepo) ReviewStats(ctx context.Context, productID int64) (int64, int64, error) {
	var count, sum int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(rating), 0) FROM reviews WHERE product_id = $1`,
		productID).Scan(&count, &sum)
	if err != nil {
		return 0, 0, fmt.Errorf("review stats: %w", err)
	}

	return count, sum, nil
}

func (r *pgRepo) queryReviews(ctx context.Context, query string, args ...any) ([]models.Review, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var review models.Review
		if err := scanReview(rows, &review); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return reviews, nil
}
