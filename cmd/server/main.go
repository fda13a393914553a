package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "keyregistry/internal/jwt_token"
	"keyregistry/internal/keyregistry/handler"
	"keyregistry/internal/mirror"
	"keyregistry/internal/outbox"
	"keyregistry/internal/platform/config"
	"keyregistry/internal/platform/httpserver"
	"keyregistry/internal/platform/kafka"
	"keyregistry/internal/platform/logger"
	platformmetrics "keyregistry/internal/platform/metrics"
	"keyregistry/internal/platform/middleware"
	platformredis "keyregistry/internal/platform/redis"
	"keyregistry/internal/platform/tracing"
	"keyregistry/pkg/platform/httputil"
	adminmw "keyregistry/pkg/platform/middleware/admin"
	authmw "keyregistry/pkg/platform/middleware/auth"
	"keyregistry/pkg/platform/middleware/metadata"
	requestmw "keyregistry/pkg/platform/middleware/request"
	"keyregistry/pkg/platform/middleware/requesttime"
)

const serviceName = "keyregistry"

// main wires storage, the registry service, the outbox relay and the mirror,
// then serves the HTTP API until SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("keyregistry exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Otel, serviceName)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := openStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.close()

	svc, err := buildService(ctx, cfg.Registry, st.tx, reg, log)
	if err != nil {
		return err
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	view := openMirror(redisClient, cfg.Redis, cfg.Registry.GracePeriod)
	limiter := newRateLimiter(redisClient, cfg.RateLimit, reg, log)

	router := chi.NewRouter()
	router.Use(requestmw.RequestID)
	router.Use(requesttime.Middleware)
	router.Use(metadata.ClientIP(cfg.Server.TrustProxy))
	router.Use(middleware.Recover(log))
	router.Use(middleware.AccessLog(log))
	router.Use(platformmetrics.New(reg).Middleware)
	router.Use(limiter.Handler)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	authenticate := authmw.RequireCaller(jwttoken.NewCallerAdapter(jwtService), log)
	// Authenticated routes are limited per caller as well as per IP.
	requireCaller := func(next http.Handler) http.Handler {
		return authenticate(limiter.Handler(next))
	}
	requireAdmin := adminmw.RequireAdminToken(cfg.Server.AdminToken, log)
	handler.New(svc, log).Register(router, requireCaller, requireAdmin)

	srv := httpserver.New(cfg.Server, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting keyregistry", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		if err := startKafka(gctx, g, cfg.Kafka, st.journal, view, reg, log); err != nil {
			return err
		}
	} else {
		log.Info("no kafka brokers configured, mirror follows the journal directly")
		g.Go(func() error {
			// A halted mirror is logged by Follow and leaves the API serving.
			_ = view.Follow(gctx, st.journal, cfg.Kafka.PollInterval, log)
			return nil
		})
	}

	return g.Wait()
}

// startKafka runs the outbox relay and feeds the mirror from the topic.
func startKafka(ctx context.Context, g *errgroup.Group, cfg config.KafkaConfig, source outbox.Source, view *mirror.Mirror, reg prometheus.Registerer, log *slog.Logger) error {
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return err
	}
	if err := kafka.EnsureTopic(ctx, producer, cfg.Topic, 1); err != nil {
		producer.Close()
		return err
	}
	consumer, err := kafka.NewConsumer(cfg)
	if err != nil {
		producer.Close()
		return err
	}

	relay := outbox.NewRelay(source, outbox.NewKafkaPublisher(producer, cfg.Topic),
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithPollInterval(cfg.PollInterval),
		outbox.WithLogger(log),
		outbox.WithRegisterer(reg),
	)
	g.Go(func() error {
		defer producer.Close()
		return relay.Run(ctx)
	})
	g.Go(func() error {
		defer consumer.Close()
		_ = view.Consume(ctx, consumer, log)
		return nil
	})
	return nil
}
