package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"keyregistry/internal/identity"
	"keyregistry/internal/keyregistry/authz"
	"keyregistry/internal/keyregistry/metrics"
	"keyregistry/internal/keyregistry/migration"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/keyregistry/service"
	"keyregistry/internal/keyregistry/store"
	"keyregistry/internal/keyregistry/validator"
	"keyregistry/internal/mirror"
	"keyregistry/internal/outbox"
	"keyregistry/internal/platform/config"
	platformredis "keyregistry/internal/platform/redis"
	"keyregistry/internal/ratelimit"
	"keyregistry/internal/signer"
)

// journal is what the process needs from storage beyond transactions: the
// outbox source and the mirror feed.
type journal interface {
	outbox.Source
	mirror.Feed
}

type storage struct {
	tx      store.Tx
	journal journal
	close   func() error
}

// openStorage selects PostgreSQL when a DSN is configured and the in-memory
// store otherwise.
func openStorage(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*storage, error) {
	if cfg.DSN == "" {
		logger.Warn("no database configured, state is kept in memory")
		mem := store.NewInMemory()
		return &storage{tx: mem, journal: mem, close: func() error { return nil }}, nil
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &storage{tx: store.NewPostgresRunner(db), journal: store.NewPostgres(db), close: db.Close}, nil
}

func signingDomain(cfg config.Registry) signer.Domain {
	return signer.Domain{
		Name:              cfg.DomainName,
		Version:           cfg.DomainVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.VerifyingContract,
	}
}

// buildService assembles the registry and applies the configured initial
// governance state.
func buildService(ctx context.Context, cfg config.Registry, tx store.Tx, reg prometheus.Registerer, logger *slog.Logger) (*service.Service, error) {
	verifier := signer.NewAccountVerifier(signer.NewAccountBook())
	identities := identity.NewInMemory(verifier)
	seed, err := identity.ParseSeed(cfg.IdentitySeed)
	if err != nil {
		return nil, err
	}
	if err := identities.Seed(ctx, seed); err != nil {
		return nil, err
	}

	domain := signingDomain(cfg)
	catalog := validator.NewCatalog()
	if err := catalog.Register(validator.AllowAllName, validator.AllowAll{}); err != nil {
		return nil, err
	}
	if err := catalog.Register(validator.SignedKeyRequestName, validator.NewSignedKeyRequest(identities, domain)); err != nil {
		return nil, err
	}

	svc := service.New(tx,
		authz.New(identities, verifier, domain),
		catalog,
		migration.New(cfg.GracePeriod),
		service.WithLogger(logger),
		service.WithMetrics(metrics.New(reg)),
	)

	initial := models.Settings{
		Owner:              cfg.Owner,
		Migrator:           cfg.Migrator,
		Gateway:            cfg.Gateway,
		Guardians:          cfg.Guardians,
		MaxKeysPerIdentity: cfg.MaxKeysPerIdentity,
	}
	defaults := map[models.ValidatorSlot]string{
		{KeyType: 1, MetadataType: 1}: validator.SignedKeyRequestName,
	}
	if err := svc.Bootstrap(ctx, initial, defaults); err != nil {
		return nil, fmt.Errorf("bootstrap registry: %w", err)
	}
	return svc, nil
}

// openMirror backs the projection with Redis when configured.
func openMirror(client *platformredis.Client, cfg config.RedisConfig, grace time.Duration) *mirror.Mirror {
	if client == nil {
		return mirror.New(mirror.NewInMemory(), grace)
	}
	return mirror.New(mirror.NewRedis(client.Client, mirror.WithKeyPrefix(cfg.MirrorPrefix)), grace)
}

// newRateLimiter shares counts through Redis when configured.
func newRateLimiter(client *platformredis.Client, cfg config.RateLimitConfig, reg prometheus.Registerer, logger *slog.Logger) *ratelimit.Middleware {
	var st ratelimit.Store = ratelimit.NewInMemory()
	if client != nil {
		st = ratelimit.NewRedis(client.Client, cfg.Prefix)
	}
	return ratelimit.New(st, cfg.Requests, cfg.Window, logger, ratelimit.WithRegisterer(reg))
}
