package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/cart"
)

const (
	UserIDHeader    = "X-User-ID"
	SessionHeader   = "X-Session-ID"
	SessionCookie   = "storefront_session"
	unauthenticated = "unauthenticated"
)

var ErrNoIdentity = errors.New("no user identity on request")

// IdentityProvider resolves the caller's user ID. The result is trusted
// as-is.
type IdentityProvider interface {
	UserID(r *http.Request) (int64, error)
}

type HeaderIdentity struct {
	Header string
}

func (h HeaderIdentity) UserID(r *http.Request) (int64, error) {
	header := h.Header
	if header == "" {
		header = UserIDHeader
	}

	raw := r.Header.Get(header)
	if raw == "" {
		return 0, ErrNoIdentity
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrNoIdentity
	}
	return id, nil
}

type userIDKey struct{}

func userIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey{}).(int64)
	return id
}

// requireUser rejects requests without an identity and stores the user ID
// in the request context.
func requireUser(identity IdentityProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := identity.UserID(r)
			if err != nil {
				respondError(w, http.StatusUnauthorized, unauthenticated, "missing user identity")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withSession attaches the caller's cart session, issuing a new session ID
// when the request carries none. The cart itself is keyed by user and
// session, so a session ID presented by another user opens that user's own
// cart. The session ID is echoed back in a cookie and a response header.
func withSession(ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := cart.NewSession(userIDFromContext(r.Context()), ttl)
			if id := requestedSessionID(r); id != "" {
				sess.ID = id
			}

			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sess.ID,
				Path:     "/",
				Expires:  sess.ExpiresAt,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
			w.Header().Set(SessionHeader, sess.ID)

			next.ServeHTTP(w, r.WithContext(cart.WithSession(r.Context(), sess)))
		})
	}
}

// requestedSessionID returns the session ID the client presented, cookie
// first, or "" when it is missing or not a UUID.
func requestedSessionID(r *http.Request) string {
	id := r.Header.Get(SessionHeader)
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		id = c.Value
	}
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
