package review

import (
	"context"
	"fmt"

	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

// RatingScale is the number of decimal places a product rating keeps.
const RatingScale = 2

// Recompute sets a product's rating to the mean of its current reviews,
// rounded to RatingScale places, or clears it when no reviews remain. It
// must run inside the unit of work that changed the reviews; the product
// row lock makes concurrent recomputes for one product take turns.
func Recompute(ctx context.Context, repo store.Repository, productID int64) (decimal.NullDecimal, error) {
	if _, err := repo.LockProduct(ctx, productID); err != nil {
		return decimal.NullDecimal{}, err
	}

	count, sum, err := repo.ReviewStats(ctx, productID)
	if err != nil {
		return decimal.NullDecimal{}, err
	}

	rating := MeanRating(count, sum)
	if err := repo.SetRating(ctx, productID, rating); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("store rating: %w", err)
	}

	return rating, nil
}

func MeanRating(count, sum int64) decimal.NullDecimal {
	if count == 0 {
		return decimal.NullDecimal{}
	}
	mean := decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(count), RatingScale)
	return decimal.NewNullDecimal(mean)
}
