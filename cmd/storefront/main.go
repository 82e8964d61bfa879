package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fjod/go_storefront/internal/auth"
	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/backend/gcs"
	"github.com/fjod/go_storefront/internal/backend/sqlbackend"
	"github.com/fjod/go_storefront/internal/backend/supabase"
	"github.com/fjod/go_storefront/internal/cache"
	"github.com/fjod/go_storefront/internal/cart"
	"github.com/fjod/go_storefront/internal/config"
	h "github.com/fjod/go_storefront/internal/http"
	"github.com/fjod/go_storefront/internal/kv"
	"github.com/fjod/go_storefront/internal/logging"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/fjod/go_storefront/internal/repository/catalog"
	"github.com/fjod/go_storefront/internal/repository/orders"
	"github.com/fjod/go_storefront/internal/service"
	"github.com/fjod/go_storefront/internal/telemetry"
)

const serviceName = "storefront"

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// backendDeps is what a data backend contributes to the app.
type backendDeps struct {
	products catalog.Repository
	orders   orders.Repository
	auth     backend.Authenticator
	lookup   auth.UserLookup
	feed     backend.ChangeFeed
	supabase *supabase.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("failed to set up logging: %v", err)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("storefront stopped")
	}
	log.Info("server exited")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	cleanup.add(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	})

	m := metrics.New()

	deps, err := openBackend(ctx, cfg, log, &cleanup)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cleanup.add(func() { _ = redisClient.Close() })
		log.WithField("addr", cfg.Redis.Addr).Info("connected to Redis")
	}

	cartKV, err := openCartStore(ctx, cfg, redisClient, log, &cleanup)
	if err != nil {
		return err
	}

	images, err := openImageStore(ctx, cfg, deps.supabase, &cleanup)
	if err != nil {
		return err
	}

	var catalogCache cache.CatalogCache
	if redisClient != nil {
		catalogCache = cache.NewRedisCache(redisClient, cfg.CatalogCacheTTL)
	}

	catalogSvc := service.NewCatalogService(deps.products, catalogCache, images, log)
	if deps.feed != nil {
		cancelWatch, err := catalogSvc.WatchChanges(ctx, deps.feed)
		if err != nil {
			// the cache still expires on its own
			log.WithError(err).Warn("catalog change feed unavailable")
		} else {
			cleanup.add(cancelWatch)
		}
	}

	cartSvc, err := service.NewCartService(
		cart.NewStore(cartKV, log, m.CartSaveFailed),
		catalogSvc,
		m,
		cfg.SessionCapacity,
		log,
	)
	if err != nil {
		return err
	}

	broker := auth.NewBroker()
	cleanup.add(auth.LogEvents(broker, log))
	sessions := auth.NewManager(deps.auth, auth.NewVerifier(cfg.TokenSecret(), deps.lookup), broker, log)

	router := h.NewRouter(h.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		MaxRequestBody: cfg.MaxRequestBody,
		AllowedOrigins: cfg.CORSOrigins,
		CookieSecure:   cfg.CookieSecure,
		AuthRatePerSec: cfg.AuthRateLimit,
		AuthRateBurst:  cfg.AuthRateBurst,
		ServiceName:    serviceName,
		DisableTracing: cfg.OTelEndpoint == "",
	}, h.Deps{
		Catalog:  catalogSvc,
		Carts:    cartSvc,
		Sessions: sessions,
		Events:   broker,
		Orders:   deps.orders,
		Metrics:  m,
		Log:      log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// the event stream clears its own write deadline
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":       cfg.HTTPPort,
			"backend":    cfg.Backend,
			"cart_store": cfg.CartStore,
		}).Info("storefront starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, cleanup *closers) (backendDeps, error) {
	switch cfg.Backend {
	case config.BackendSupabase:
		client, err := supabase.New(supabase.Config{
			URL:     cfg.Supabase.URL,
			APIKey:  cfg.Supabase.AnonKey,
			Timeout: cfg.RequestTimeout,
		})
		if err != nil {
			return backendDeps{}, fmt.Errorf("supabase client: %w", err)
		}
		a := client.Auth()
		deps := backendDeps{
			products: catalog.NewBackendRepository(client),
			orders:   orders.NewBackendRepository(client),
			auth:     a,
			lookup:   a,
			supabase: client,
		}
		if cfg.Supabase.Realtime {
			rt := client.Realtime(log)
			cleanup.add(func() { _ = rt.Close() })
			deps.feed = rt
		}
		log.WithField("url", client.URL()).Info("using Supabase backend")
		return deps, nil

	case config.BackendSQLite, config.BackendPostgres:
		var (
			db  *sqlbackend.DB
			err error
		)
		if cfg.Backend == config.BackendSQLite {
			db, err = sqlbackend.OpenSQLite(cfg.SQLite.Path)
		} else {
			db, err = sqlbackend.OpenPostgres(sqlbackend.Credentials{
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				DBName:   cfg.Postgres.DBName,
				SSLMode:  cfg.Postgres.SSLMode,
			})
		}
		if err != nil {
			return backendDeps{}, err
		}
		cleanup.add(func() { _ = db.Close() })

		if err := db.PingContext(ctx); err != nil {
			return backendDeps{}, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := db.RunMigrations(); err != nil {
			return backendDeps{}, err
		}

		local := auth.NewLocalAuthenticator(db, auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL), cfg.RefreshTokenTTL)
		log.WithField("driver", db.Driver).Info("using SQL backend")
		return backendDeps{
			products: catalog.NewSQLRepository(db),
			orders:   orders.NewSQLRepository(db),
			auth:     local,
			lookup:   local,
		}, nil
	}
	return backendDeps{}, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func openCartStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, log logrus.FieldLogger, cleanup *closers) (kv.Store, error) {
	switch cfg.CartStore {
	case config.CartStoreRedis:
		return kv.NewRedisStore(rdb, cfg.CartTTL), nil

	case config.CartStoreMongo:
		db, err := kv.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(dctx)
		})
		store := kv.NewMongoStore(db)
		if err := store.CreateIndexes(ctx); err != nil {
			log.WithError(err).Warn("failed to create cart indexes")
		}
		log.WithField("database", cfg.Mongo.Database).Info("connected to MongoDB")
		return store, nil
	}
	return kv.NewMemoryStore(), nil
}

func openImageStore(ctx context.Context, cfg *config.Config, client *supabase.Client, cleanup *closers) (backend.ObjectStorage, error) {
	switch cfg.ImageStore {
	case config.ImageStoreGCS:
		b, err := gcs.Open(ctx, gcs.Config{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
			PublicBaseURL:   cfg.GCS.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = b.Close() })
		return b, nil

	case config.ImageStoreSupabase:
		if client == nil {
			c, err := supabase.New(supabase.Config{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.AnonKey})
			if err != nil {
				return nil, fmt.Errorf("supabase client: %w", err)
			}
			client = c
		}
		return client.Bucket(cfg.Supabase.ImageBucket), nil
	}
	return nil, nil
}
