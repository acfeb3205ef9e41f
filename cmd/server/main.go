package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vn.io.arda/identity/internal/accountcache"
	"vn.io.arda/identity/internal/application"
	"vn.io.arda/identity/internal/config"
	"vn.io.arda/identity/internal/domain"
	"vn.io.arda/identity/internal/identity"
	"vn.io.arda/identity/internal/infrastructure/memory"
	"vn.io.arda/identity/internal/infrastructure/postgres"
	redisstore "vn.io.arda/identity/internal/infrastructure/redis"
	"vn.io.arda/identity/internal/kafka"
	"vn.io.arda/identity/internal/metrics"
	transporthttp "vn.io.arda/identity/internal/transport/http"
)

const sessionPurgeInterval = time.Hour

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.Server.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("env", cfg.Server.Env).
		Str("port", cfg.Server.Port).
		Str("provider", string(cfg.ProviderType())).
		Msg("starting identity service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Identity backend ─────────────────────────────────────────────────────
	m := metrics.New()
	cache := accountcache.New(cfg.Cache.Capacity, cfg.Cache.TTL, m)
	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}

	provider, err := identity.New(cfg, httpClient, cache, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create identity provider")
	}

	// ── Session store ────────────────────────────────────────────────────────
	sessions, closeSessions := openSessionStore(ctx, cfg)
	defer closeSessions()

	// ── Kafka producer ───────────────────────────────────────────────────────
	var (
		events   domain.EventPublisher        = kafka.Noop{}
		commands domain.CacheCommandPublisher = kafka.Noop{}
		producer *kafka.Producer
	)
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.CommandsTopic, cfg.Kafka.TenantKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		events, commands = producer, producer
	}

	// ── Application Service ──────────────────────────────────────────────────
	svc := application.NewService(provider, sessions, cache, events, commands, cfg.SessionTTL())

	// ── Kafka consumer ───────────────────────────────────────────────────────
	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(
			cfg.Kafka.Brokers,
			cfg.Kafka.ConsumerGroupID,
			cfg.Kafka.EventsTopic,
			cfg.Kafka.CommandsTopic,
			svc,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}
		go consumer.Start(ctx)
		log.Info().
			Strs("topics", []string{cfg.Kafka.EventsTopic, cfg.Kafka.CommandsTopic}).
			Msg("kafka consumer started")
	} else {
		log.Info().Msg("kafka disabled, cache coherence is local only")
	}

	// ── HTTP Server ──────────────────────────────────────────────────────────
	handler := transporthttp.NewHandler(svc, transporthttp.CookieConfig{
		Name:   cfg.Cookie.Name,
		Domain: cfg.Cookie.Domain,
		MaxAge: cfg.Cookie.MaxAge,
		Secure: cfg.Cookie.Secure,
	}, string(cfg.ProviderType()))
	router := transporthttp.NewRouter(handler, m, transporthttp.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		BasicAuth: transporthttp.BasicAuth{
			Enabled:  cfg.Security.BasicAuth.Enabled,
			Username: cfg.Security.BasicAuth.Username,
			Password: cfg.Security.BasicAuth.Password,
		},
	})
	if cfg.Security.BasicAuth.Enabled {
		log.Info().Msg("basic auth enabled for non-public endpoints")
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server stopped")
			stop()
		}
	}()

	// ── Graceful Shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if producer != nil {
		producer.Close(shutdownCtx)
	}

	log.Info().Msg("identity service stopped")
}

// openSessionStore builds the configured store. The returned func releases its connections.
func openSessionStore(ctx context.Context, cfg *config.Config) (domain.SessionStore, func()) {
	switch cfg.Session.Store {
	case config.SessionStorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")

		store := postgres.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create session schema")
		}
		go purgeExpiredSessions(ctx, store)
		return store, pool.Close

	case config.SessionStoreRedis:
		store, err := redisstore.New(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
		return store, closer(store)

	default:
		log.Info().Int("capacity", cfg.Session.Capacity).Msg("sessions kept in memory")
		return memory.New(cfg.Session.Capacity, cfg.SessionTTL()), func() {}
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("close session store")
		}
	}
}

// purgeExpiredSessions deletes expired rows until ctx is cancelled.
func purgeExpiredSessions(ctx context.Context, store *postgres.SessionStore) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("session purge failed")
				continue
			}
			log.Info().Int64("purged", n).Msg("expired sessions purged")
		case <-ctx.Done():
			return
		}
	}
}
