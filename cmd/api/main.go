package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/api"
	"github.com/safar/go-storefront/internal/cart"
	"github.com/safar/go-storefront/internal/catalog"
	"github.com/safar/go-storefront/internal/checkout"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/inventory"
	"github.com/safar/go-storefront/internal/orders"
	"github.com/safar/go-storefront/internal/review"
	"github.com/safar/go-storefront/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	os.Exit(serve())
}

// serve returns the process exit code, so that deferred cleanup runs
// before main exits.
func serve() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, io.Closer, error) {
	if cfg.Store.Backend == config.BackendMemory {
		logger.Info("using in-memory store")
		mem, err := store.NewMemory()
		return mem, closerFunc(func() error { return nil }), err
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, database.Up); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("database migrations applied")
	}

	logger.Info("connected to database")
	return store.NewPostgres(db), db, nil
}

func openCartStore(ctx context.Context, cfg config.CartConfig, logger *zap.Logger) (cart.Store, io.Closer, error) {
	if cfg.Backend == config.BackendMemory {
		s := cart.NewMemoryStore(cfg.TTL, cfg.SweepInterval)
		return s, s, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	return cart.NewRedisStore(client, cfg.TTL, logger), client, nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, dbCloser, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer dbCloser.Close()

	cartStore, cartCloser, err := openCartStore(ctx, cfg.Cart, logger)
	if err != nil {
		return fmt.Errorf("open cart store: %w", err)
	}
	defer cartCloser.Close()

	catalogSvc := catalog.NewService(db, logger)
	carts := cart.NewService(cartStore, catalogSvc, logger)
	ledger := inventory.NewLedger(db, cfg.Inventory.LowStockThreshold, logger)

	srv := api.NewServer(api.Deps{
		Catalog:        catalogSvc,
		Carts:          carts,
		Checkout:       checkout.NewCoordinator(db, carts, ledger, cfg.Checkout.ValidationConcurrency, logger),
		Orders:         orders.NewService(db),
		Reviews:        review.NewService(db, logger),
		Ledger:         ledger,
		Identity:       api.HeaderIdentity{},
		SessionTTL:     cfg.Cart.TTL,
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
