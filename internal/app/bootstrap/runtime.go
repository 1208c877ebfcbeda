package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mediguard/mediguard-platform/internal/calendar"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// Document store backends selected by DOCSTORE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

const redisKeyPrefix = "mediguard"

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// ConnectPostgresPool opens a pool, or returns nil for an empty URL or an
// unreachable database.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// DocStore is the selected backend plus whatever it holds open.
type DocStore struct {
	Store   docstore.Store
	Backend string
	closers []func()
}

// Close releases backend connections in reverse order.
func (d *DocStore) Close() {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// BuildDocStore opens the configured document store. The postgres backend
// also starts a LISTEN loop on its own connection so live queries wake on
// commits from any process; the loop stops with ctx.
func BuildDocStore(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (*DocStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.DocStoreBackend))
	if backend == "" {
		backend = BackendMemory
	}
	out := &DocStore{Backend: backend}

	switch backend {
	case BackendMemory:
		out.Store = docstore.NewMemoryStore()

	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: redis docstore needs REDIS_ADDR")
		}
		out.Store = docstore.NewRedisStore(redisClient, redisKeyPrefix, logger)

	case BackendPostgres:
		pool := ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: postgres docstore needs a reachable DATABASE_URL")
		}
		out.closers = append(out.closers, pool.Close)
		store := docstore.NewPostgresStore(pool, logger)
		out.Store = store

		conn, err := pool.Acquire(ctx)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("bootstrap: acquire listen connection: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+docstore.NotifyChannel); err != nil {
			conn.Release()
			out.Close()
			return nil, fmt.Errorf("bootstrap: listen %s: %w", docstore.NotifyChannel, err)
		}
		listenCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := store.Listen(listenCtx, conn.Conn()); err != nil && listenCtx.Err() == nil {
				logger.Warn("docstore listener stopped; falling back to polling", "error", err)
			}
		}()
		out.closers = append(out.closers, func() {
			cancel()
			<-done
			conn.Release()
		})

	case BackendFirestore:
		if strings.TrimSpace(cfg.FirestoreProjectID) == "" {
			return nil, fmt.Errorf("bootstrap: firestore docstore needs FIRESTORE_PROJECT_ID")
		}
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: firestore client: %w", err)
		}
		out.closers = append(out.closers, func() { _ = client.Close() })
		out.Store = docstore.NewFirestoreStore(client, logger)

	default:
		return nil, fmt.Errorf("bootstrap: unknown docstore backend %q", backend)
	}

	logger.Info("document store ready", "backend", backend)
	return out, nil
}

// BuildCredentialStore keeps calendar credentials in Redis when available.
func BuildCredentialStore(redisClient *redis.Client) calendar.CredentialStore {
	if redisClient == nil {
		return calendar.NewMemoryCredentialStore()
	}
	return calendar.NewRedisCredentialStore(redisClient)
}
