// Command server runs the security governance gatekeeper: role policy
// resolution, sliding-window rate limiting, role-conditional PII redaction,
// and audit emission in front of demo AI routes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit/publisher"
	auditmemory "github.com/mercmorandi/security-governance-gatekeeper/internal/audit/store/memory"
	auditpostgres "github.com/mercmorandi/security-governance-gatekeeper/internal/audit/store/postgres"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/gatekeeper"
	gatekeepermetrics "github.com/mercmorandi/security-governance-gatekeeper/internal/gatekeeper/metrics"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/platform/config"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/platform/httpserver"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/platform/kafka"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/platform/logger"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/platform/postgres"
	platformredis "github.com/mercmorandi/security-governance-gatekeeper/internal/platform/redis"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/policy"
	ratelimitmetrics "github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/metrics"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/service"
	ratememory "github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/store/memory"
	rateredis "github.com/mercmorandi/security-governance-gatekeeper/internal/ratelimit/store/redis"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/redaction"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/redaction/detector"
	httptransport "github.com/mercmorandi/security-governance-gatekeeper/internal/transport/http"
	"github.com/mercmorandi/security-governance-gatekeeper/pkg/platform/middleware/identity"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Counter store: Redis when configured, otherwise per-process memory.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	var counters service.CounterStore
	if redisClient != nil {
		defer redisClient.Close()
		counters = rateredis.New(redisClient.Client)
		log.Info("rate limit counters in redis")
	} else {
		counters = ratememory.New()
		log.Info("rate limit counters in memory")
	}

	// Audit sink: Postgres when configured, otherwise memory.
	db, err := postgres.Open(cfg.Postgres.URL)
	if err != nil {
		return err
	}
	var sink audit.Sink
	if db != nil {
		defer db.Close()
		pg := auditpostgres.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		sink = pg
		log.Info("audit records in postgres")
	} else {
		sink = auditmemory.New()
		log.Info("audit records in memory")
	}

	emitterOpts := []audit.EmitterOption{audit.WithLogger(log)}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		emitterOpts = append(emitterOpts,
			audit.WithPublisher(publisher.NewKafka(producer, publisher.WithLogger(log))))
		log.Info("audit fan-out to kafka", "topic", cfg.Kafka.Topic)
	}

	emitter, err := audit.NewEmitter(sink, cfg.Gatekeeper.AuditBuffer, emitterOpts...)
	if err != nil {
		return err
	}

	registry, err := policy.Load(cfg.Gatekeeper.PolicyPath)
	if err != nil {
		return err
	}
	normalizer := policy.NewNormalizer(cfg.Gatekeeper.RoleAliases, policy.Role(cfg.Gatekeeper.DefaultRole))

	limiter, err := service.New(counters,
		service.WithLogger(log),
		service.WithMetrics(ratelimitmetrics.New()),
	)
	if err != nil {
		return err
	}

	orchestrator, err := redaction.New(detector.NewEngine(), redaction.WithLogger(log))
	if err != nil {
		return err
	}

	pipeline, err := gatekeeper.New(
		registry,
		normalizer,
		limiter,
		orchestrator,
		audit.NewAssembler(),
		emitter,
		gatekeeper.WithLogger(log),
		gatekeeper.WithMetrics(gatekeepermetrics.New()),
		gatekeeper.WithStoreTimeout(cfg.Gatekeeper.StoreTimeout),
		gatekeeper.WithFailOpen(cfg.Gatekeeper.FailOpen),
	)
	if err != nil {
		return err
	}

	identityOpts := []identity.Option{identity.WithLogger(log)}
	if cfg.Gatekeeper.TokenSecret != "" {
		identityOpts = append(identityOpts, identity.WithTokenSecret([]byte(cfg.Gatekeeper.TokenSecret)))
	}

	router, err := httptransport.NewRouter(httptransport.RouterDeps{
		Logger:   log,
		Pipeline: pipeline,
		Identity: identity.New(identityOpts...),
		Sink:     sink,
	})
	if err != nil {
		return err
	}

	server := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return emitter.Run(gctx)
	})
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
