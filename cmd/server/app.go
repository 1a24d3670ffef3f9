package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"medgate/internal/audit"
	"medgate/internal/auth"
	"medgate/internal/authz"
	"medgate/internal/gateway"
	"medgate/internal/gateway/sanitize"
	"medgate/internal/health"
	"medgate/internal/platform/config"
	"medgate/internal/platform/kafka"
	"medgate/internal/platform/metrics"
	"medgate/internal/platform/postgres"
	redisplatform "medgate/internal/platform/redis"
	ratelimitmetrics "medgate/internal/ratelimit/metrics"
	ratelimit "medgate/internal/ratelimit/middleware"
	"medgate/internal/ratelimit/ports"
	"medgate/internal/ratelimit/service"
	"medgate/internal/ratelimit/store/counter"
	"medgate/internal/records"
	"medgate/internal/securityconfig"
	httptransport "medgate/internal/transport/http"
	"medgate/internal/version"
	auditlog "medgate/pkg/platform/audit"
	auditmetrics "medgate/pkg/platform/audit/metrics"
	"medgate/pkg/platform/audit/publishers/compliance"
	"medgate/pkg/platform/audit/publishers/security"
	"medgate/pkg/platform/audit/sink"
	"medgate/pkg/platform/audit/store/memory"
	pgstore "medgate/pkg/platform/audit/store/postgres"
	"medgate/pkg/platform/circuit"
	"medgate/pkg/platform/middleware/metadata"
)

// infra holds the external connections. Each is nil when not configured.
type infra struct {
	db    *postgres.DB
	redis *redisplatform.Client
	kafka *kgo.Client
}

func openInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	in := &infra{}
	var err error
	if in.db, err = postgres.Open(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if in.redis, err = redisplatform.New(ctx, cfg.Redis); err != nil {
		in.close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	if in.kafka, err = kafka.New(cfg.Kafka); err != nil {
		in.close()
		return nil, fmt.Errorf("kafka: %w", err)
	}
	return in, nil
}

func (in *infra) close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	in.db.Close()
}

// healthDeps keeps nil connections as untyped nils so checks see them as
// unconfigured.
func (in *infra) healthDeps(errors *health.ErrorTracker) health.Deps {
	deps := health.Deps{Errors: errors}
	if in.db != nil {
		deps.DB = in.db
	}
	if in.redis != nil {
		deps.Cache = in.redis
	}
	return deps
}

// app is the assembled gateway.
type app struct {
	router    http.Handler
	counters  *counter.MemoryStore
	monitor   *gateway.Monitor
	security  *security.Publisher
	snapshots *securityconfig.Provider
	matrices  *authz.Provider
}

func buildApp(cfg *config.Config, load func() (*config.Config, error), in *infra, logger *slog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	auditMetrics := auditmetrics.New(reg)

	// Security events: Kafka when configured, structured logs otherwise.
	var eventWriter security.Writer = sink.NewLog(logger)
	var primary auditlog.Sink = sink.NewLog(logger)
	primaryName := "log"
	if in.kafka != nil {
		k := sink.NewKafka(in.kafka, cfg.Kafka.AuditTopic, cfg.Kafka.SecurityTopic)
		eventWriter, primary, primaryName = k, k, "kafka"
	}
	publisher := security.NewPublisher(eventWriter, logger,
		security.WithMetrics(auditMetrics),
		security.WithSampler(security.NewSampler(1)),
	)

	gatewayMetrics := metrics.New(reg)
	errorTracker := health.NewErrorTracker(time.Hour)
	monitor := gateway.NewMonitor(publisher, logger,
		gateway.WithErrorRecorder(errorTracker),
		gateway.WithMonitorMetrics(gatewayMetrics),
		gateway.WithSlowThreshold(cfg.Gateway.SlowRequestThreshold),
		gateway.WithAuthFailureThreshold(cfg.Gateway.AuthFailureThreshold, cfg.Gateway.AuthFailureWindow),
	)

	// The activity log is the queryable copy of the audit trail.
	var activity audit.ActivityReader
	var secondary auditlog.Sink
	if in.db != nil && cfg.Database.ActivityLog {
		store := pgstore.New(in.db.SQL)
		activity, secondary = store, store
	} else {
		store := memory.NewStore()
		activity, secondary = store, store
	}
	trail := compliance.New(primaryName, primary,
		compliance.WithLogger(logger),
		compliance.WithMetrics(auditMetrics),
		compliance.WithSecondary("activity_log", secondary),
	)

	snapshots := securityconfig.New(securityconfig.LoaderSource(load), logger)
	local := counter.NewMemoryStore()
	limiter, err := newLimiter(cfg, in, local, snapshots, monitor, reg, logger)
	if err != nil {
		return nil, err
	}

	matrixSource := authz.DefaultSource()
	if cfg.Authz.PolicyFile != "" {
		matrixSource = authz.FileSource(cfg.Authz.PolicyFile)
	}
	matrices := authz.NewProvider(matrixSource, logger, authz.WithTTL(cfg.Authz.CacheTTL))

	store := records.NewStore()
	recorder := audit.New(trail, audit.NewExtractor(store, logger), logger,
		audit.WithBodyCap(cfg.Gateway.AuditBodyCap),
		audit.WithEmitter(monitor),
		audit.WithErrorRecorder(monitor),
	)
	negotiator := version.New(cfg.Gateway.Product, logger)

	pipeline := gateway.New(logger,
		gateway.WithPrincipalResolver(auth.NewResolver(auth.NewTokenService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer))),
		gateway.WithMonitor(monitor),
		gateway.WithMetrics(gatewayMetrics),
		gateway.WithStages(
			sanitize.New(logger,
				sanitize.WithMaxBodyBytes(cfg.Gateway.MaxBodyBytes),
				sanitize.WithAllowedOrigins(cfg.Gateway.AllowedOrigins...),
				sanitize.WithEmitter(monitor),
			),
			ratelimit.New(limiter, logger,
				ratelimit.WithDisabled(cfg.RateLimit.Disabled),
				ratelimit.WithEmitter(monitor),
			),
			negotiator,
			recorder,
			authz.NewGate(matrices, logger),
		),
		gateway.WithPostStages(recorder),
		gateway.WithDecorators(negotiator, gateway.SecurityHeaders{}),
	)

	probe := health.NewProbe(health.StandardChecks(cfg.Health, in.healthDeps(errorTracker)),
		health.WithCheckTimeout(cfg.Health.CheckTimeout),
		health.WithLogger(logger),
	)
	var healthOpts []health.HandlerOption
	if in.db != nil {
		healthOpts = append(healthOpts, health.WithPoolStats(in.db))
	}

	proxies, err := metadata.ParseTrustedProxies(cfg.Gateway.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Pipeline:       pipeline,
		Records:        records.NewHandler(store, logger),
		AuditQuery:     audit.NewQueryHandler(activity, logger),
		Health:         health.NewHandler(probe, errorTracker, cfg.Server.ServiceName, cfg.Server.Version, healthOpts...),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Versions:       negotiator,
		TrustedProxies: proxies,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	return &app{
		router:    router,
		counters:  local,
		monitor:   monitor,
		security:  publisher,
		snapshots: snapshots,
		matrices:  matrices,
	}, nil
}

// newLimiter uses Redis as the shared counter store when configured, with
// local serving the local fail mode. Without Redis, local is the shared store.
func newLimiter(cfg *config.Config, in *infra, local *counter.MemoryStore, snapshots *securityconfig.Provider, monitor *gateway.Monitor, reg prometheus.Registerer, logger *slog.Logger) (*service.Service, error) {
	var shared ports.CounterStore = local
	if in.redis != nil {
		shared = counter.NewRedisStore(in.redis, cfg.RateLimit.KeyPrefix)
	} else {
		logger.Warn("redis not configured, rate-limit counters are process-local")
	}
	return service.New(shared, snapshots,
		service.WithLogger(logger),
		service.WithFallbackStore(local),
		service.WithEmitter(monitor),
		service.WithMetrics(ratelimitmetrics.New(reg)),
		service.WithBreaker(circuit.New("counter-store")),
	)
}
