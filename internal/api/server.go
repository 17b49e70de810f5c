// Package api exposes the storefront over HTTP with a chi router.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/catalog"
	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/inventory"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/safar/go-storefront/internal/review"
)

type Deps struct {
	Catalog  *catalog.Service
	Carts    *cart.Service
	Checkout *checkout.Coordinator
	Orders   *orders.Service
	Reviews  *review.Service
	Ledger   *inventory.Ledger

	Identity       IdentityProvider
	SessionTTL     time.Duration
	RequestTimeout time.Duration
}

type Server struct {
	catalog  *catalog.Service
	carts    *cart.Service
	checkout *checkout.Coordinator
	orders   *orders.Service
	reviews  *review.Service
	ledger   *inventory.Ledger

	identity       IdentityProvider
	sessionTTL     time.Duration
	requestTimeout time.Duration
}

func NewServer(d Deps) *Server {
	s := &Server{
		catalog:        d.Catalog,
		carts:          d.Carts,
		checkout:       d.Checkout,
		orders:         d.Orders,
		reviews:        d.Reviews,
		ledger:         d.Ledger,
		identity:       d.Identity,
		sessionTTL:     d.SessionTTL,
		requestTimeout: d.RequestTimeout,
	}
	if s.identity == nil {
		s.identity = HeaderIdentity{}
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = 30 * time.Minute
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 30 * time.Second
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.createUser)
			r.Get("/", s.listUsers)
			r.Get("/{userID}", s.getUser)
			r.Get("/{userID}/reviews", s.userReviews)
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", s.createProduct)
			r.Get("/", s.listProducts)
			r.Get("/by-name/{name}", s.getProductByName)
			r.Get("/by-name/{name}/reviews", s.productReviews)
			r.Get("/{productID}", s.getProduct)
			r.Patch("/{productID}", s.updateProduct)
			r.Post("/{productID}/stock", s.adjustStock)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireUser(s.identity))
			r.Use(withSession(s.sessionTTL))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", s.viewCart)
				r.Post("/items", s.addCartItem)
				r.Delete("/items/{productID}", s.removeCartItem)
				r.Delete("/", s.clearCart)
			})

			r.Post("/checkout", s.placeOrder)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", s.listOrders)
				r.Get("/{orderID}", s.getOrder)
			})

			r.Route("/reviews", func(r chi.Router) {
				r.Post("/", s.addReview)
				r.Put("/", s.updateReview)
				r.Delete("/{productName}", s.deleteReview)
				r.Get("/mine", s.myReviews)
			})
		})
	})

	return r
}

func pathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return defaultValue
}
