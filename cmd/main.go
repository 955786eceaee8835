package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"food-ordering-kiosk/internal/api"
	"food-ordering-kiosk/internal/auth"
	"food-ordering-kiosk/internal/cart"
	"food-ordering-kiosk/internal/catalog"
	"food-ordering-kiosk/internal/changefeed"
	"food-ordering-kiosk/internal/config"
	"food-ordering-kiosk/internal/fallback"
	"food-ordering-kiosk/internal/mirror"
	"food-ordering-kiosk/internal/order"
	"food-ordering-kiosk/internal/receipt"
	"food-ordering-kiosk/internal/repository"
	"food-ordering-kiosk/internal/sharding"
	"food-ordering-kiosk/migrations"

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func connectDBEnv(db config.DBConfig, logger zerolog.Logger) (*sql.DB, error) {
	var conn *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		conn, err = sql.Open("mysql", db.DSN())
		if err == nil {
			err = conn.Ping()
			if err == nil {
				logger.Info().Msgf("Connected to DB %s", db.Name)
				return conn, nil
			}
			conn.Close()
		}
		logger.Warn().Err(err).Msgf("Retry %d: failed to connect to DB %s (%s:%s)", i+1, db.Name, db.Host, db.Port)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB %s at %s:%s after retries: %v", db.Name, db.Host, db.Port, err)
}

// stores holds the backends chosen for the configured mode. cart is nil in
// kiosk mode, where signed-in carts stay on the device.
type stores struct {
	cart    cart.Store
	orders  order.Store
	catalog catalog.Store
	health  api.HealthFunc
	authn   auth.Authenticator
	tokens  auth.TokenHolder
	closers []func() error
}

func openStores(cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.Mode == config.ModeKiosk {
		rest := repository.NewRESTStore(cfg.BackendURL, &http.Client{Timeout: cfg.RemoteTimeout})
		return &stores{
			orders:  rest,
			catalog: rest,
			health:  rest.Health,
			authn:   rest,
			tokens:  rest,
		}, nil
	}

	dbs := make([]*sql.DB, 0, len(cfg.DBShards))
	s := &stores{}
	for _, shard := range cfg.DBShards {
		db, err := connectDBEnv(shard, logger)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, db)
		s.closers = append(s.closers, db.Close)
	}
	if err := migrations.AutoMigrate(3, dbs...); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}

	mysqlStore := repository.NewMySQLStore(dbs, sharding.NewShardRouter(len(dbs)))
	s.cart = mysqlStore
	s.orders = mysqlStore
	s.catalog = mysqlStore
	s.health = mysqlStore.Ping
	return s, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	logger.Info().Str("mode", string(cfg.Mode)).Msg("Starting food-ordering-kiosk")

	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open stores")
	}
	defer func() {
		for _, closeFn := range st.closers {
			closeFn()
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	var cartEvents cart.Publisher
	var orderEvents order.EventPublisher
	var feedReader changefeed.MessageReader
	if len(cfg.KafkaBrokers) > 0 {
		changes := config.NewKafkaWriter(cfg.KafkaBrokers, changefeed.CartTopic)
		orders := config.NewKafkaWriter(cfg.KafkaBrokers, changefeed.OrderTopic)
		defer changes.Close()
		defer orders.Close()
		publisher := changefeed.NewPublisher(changes, orders)
		orderEvents = publisher
		if st.cart != nil {
			cartEvents = publisher
			reader := config.NewKafkaReader(cfg.KafkaBrokers, changefeed.CartTopic, "cart-sync-"+cfg.DeviceID)
			defer reader.Close()
			feedReader = reader
		}
	}

	cartMirror, err := mirror.New(cfg.MirrorSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create cart mirror")
	}

	cartCfg := cart.DefaultConfig()
	cartCfg.FallbackEnabled = cfg.FallbackEnabled
	cartCfg.DebounceWindow = cfg.DebounceWindow
	cartCfg.ReconcileWindow = cfg.ReconcileWindow
	cartCfg.RemoteTimeout = cfg.RemoteTimeout
	cartCfg.TaxRate = cfg.TaxRate

	var deviceCart cart.Fallback
	if cfg.FallbackEnabled {
		deviceCart = fallback.NewRedisStore(rdb, cfg.DeviceID, logger)
	}
	synchronizer := cart.NewSynchronizer(cartCfg, st.cart, cartMirror, deviceCart, cartEvents, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if feedReader != nil {
		feed := changefeed.NewFeed(feedReader, changefeed.ForUser(synchronizer.UserID), synchronizer.HandleChange, logger)
		go func() {
			if err := feed.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Change feed stopped")
			}
		}()
	}

	catalogService := catalog.NewService(st.catalog, rdb, cfg.CatalogTTL, cfg.RemoteTimeout, logger)
	go func() {
		if err := catalogService.PreWarmCache(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to pre-warm menu cache")
		}
	}()

	orderService := order.NewService(st.orders, synchronizer, rdb, orderEvents, cfg.TaxRate, cfg.RemoteTimeout, logger)
	session := auth.NewSession(cfg.JWTSecret, st.authn, st.tokens, auth.NewSessionStore(rdb, cfg.DeviceID), synchronizer, logger)
	if err := session.Restore(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to load cart")
	}

	handler := api.NewHandler(api.Deps{
		Cart:      synchronizer,
		Orders:    orderService,
		Catalog:   catalogService,
		Session:   session,
		Printer:   receipt.NewCommandPrinter(cfg.PrintCommand, logger),
		Health:    st.health,
		TaxRate:   cfg.TaxRate,
		JWTSecret: cfg.JWTSecret,
		Mode:      string(cfg.Mode),
		Logger:    logger,
	})

	e := echo.New()
	e.HideBanner = true

	limiterConfig := middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/cart/live" || c.Path() == "/health"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(10),
				Burst:     30,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(context echo.Context) (string, error) {
			return context.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info().Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RateLimiterWithConfig(limiterConfig))

	handler.Register(e)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	if err := synchronizer.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing cart")
	}
}
