package cart

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Session identifies one shopper's cart. The user ID is the identity the
// checkout records on the order.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewSession(userID int64, ttl time.Duration) Session {
	return Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// Key addresses the session's cart in a Store. It includes the user ID, so
// a session ID presented by another user never reaches this cart.
func (s Session) Key() string {
	return strconv.FormatInt(s.UserID, 10) + ":" + s.ID
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
