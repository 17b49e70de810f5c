package cart

import (
	"context"

	"github.com/safar/go-storefront/internal/models"
)

// Store keeps cart lines per Session.Key. Lines are returned in the order they
// were first added. An unknown or expired key reads as an empty cart.
// Put replaces the whole cart and refreshes its TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]models.CartLine, error)
	Put(ctx context.Context, key string, lines []models.CartLine) error
	Delete(ctx context.Context, key string) error
}
