package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"SigRelay/internal/broker"
	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/handler/api"
	"SigRelay/internal/queue"
	internalrepo "SigRelay/internal/repository"
	"SigRelay/internal/scheduler"
	"SigRelay/internal/service/ratelimit"
	"SigRelay/internal/usecase"
	pkgch "SigRelay/pkg/clickhouse"
	"SigRelay/pkg/config"
	apphttp "SigRelay/pkg/http"
	pkgkafka "SigRelay/pkg/kafka"
	"SigRelay/pkg/logger"
	"SigRelay/pkg/metrics"
	"SigRelay/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideSignalStore opens the SQLite signal store.
func ProvideSignalStore(lgr *logger.Logger, cfg *config.Config) (drepo.SignalStore, error) {
	store, err := internalrepo.NewSQLiteStore(lgr, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("signal store: %w", err)
	}
	return store, nil
}

// ProvideJobQueue selects the configured queue backend.
func ProvideJobQueue(lgr *logger.Logger, cfg *config.Config) (drepo.JobQueue, error) {
	qcfg := queue.Config{
		MaxAttempts:        cfg.Queue.MaxAttempts,
		UnknownMaxAttempts: cfg.Queue.UnknownRetryBudget,
		BackoffBase:        cfg.Queue.BackoffBase,
		BackoffMax:         cfg.Queue.BackoffMax,
	}
	switch cfg.Queue.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
		})
		return queue.NewRedisQueue(lgr, qcfg, client, cfg.Queue.Redis.KeyPrefix)
	default:
		return queue.NewMemoryQueue(lgr, qcfg), nil
	}
}

// ProvideEventSink selects the configured status-event backend.
func ProvideEventSink(lgr *logger.Logger, cfg *config.Config) (drepo.EventSink, error) {
	if cfg.Events.Backend != "kafka" {
		return internalrepo.NewMemorySink(lgr), nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Events.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Events.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Events.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Events.Kafka.MaxAttempts),
		pkgkafka.WithTimeouts(cfg.Events.Kafka.WriteTimeout, cfg.Events.Kafka.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaSink(lgr, producer, cfg.Events.Kafka.Topic), nil
}

// ProvideAuditSink mirrors audit records to ClickHouse when enabled.
func ProvideAuditSink(lgr *logger.Logger, cfg *config.Config) (drepo.AuditSink, error) {
	ch := cfg.Audit.ClickHouse
	if !ch.Enabled {
		return internalrepo.NopAudit{}, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(ch.Host),
		pkgch.WithPort(ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithDialTimeout(ch.DialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sink, err := internalrepo.NewClickHouseAudit(ctx, lgr, client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return sink, nil
}

// ProvideBrokerRouter builds the account-to-adapter routing table.
func ProvideBrokerRouter(lgr *logger.Logger, cfg *config.Config) (*broker.Router, error) {
	return broker.NewRouter(lgr, cfg.Brokers)
}

// ProvideReconciler creates the reconciliation use case.
func ProvideReconciler(
	lgr *logger.Logger,
	store drepo.SignalStore,
	events drepo.EventSink,
	audit drepo.AuditSink,
	m drepo.Metrics,
) *usecase.Reconciler {
	return usecase.NewReconciler(lgr, store, events, audit, m)
}

// ProvideIntake creates the intake use case.
func ProvideIntake(
	lgr *logger.Logger,
	cfg *config.Config,
	store drepo.SignalStore,
	q drepo.JobQueue,
	rec *usecase.Reconciler,
	m drepo.Metrics,
) *usecase.Intake {
	return usecase.NewIntake(lgr, cfg.Intake.WebhookSecret, store, q, rec, m)
}

// ProvideOrchestrator creates the execution worker pool.
func ProvideOrchestrator(
	lgr *logger.Logger,
	cfg *config.Config,
	q drepo.JobQueue,
	store drepo.SignalStore,
	router *broker.Router,
	rec *usecase.Reconciler,
	m drepo.Metrics,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(lgr, usecase.OrchestratorConfig{
		Workers:      cfg.Queue.Workers,
		Lease:        cfg.Queue.LeaseDuration,
		OrderTimeout: cfg.Execution.OrderTimeout,
		SignalTTL:    cfg.Intake.SignalTTL,
	}, q, store, router, rec, m)
}

// ProvideNodeRegistry creates the in-memory node registry.
func ProvideNodeRegistry() drepo.NodeRegistry {
	return scheduler.NewRegistry()
}

// ProvideScheduler creates the node scheduler and binds the built-in
// runners: fill reconciliation and queue draining.
func ProvideScheduler(
	lgr *logger.Logger,
	cfg *config.Config,
	registry drepo.NodeRegistry,
	rec *usecase.Reconciler,
	router *broker.Router,
	m drepo.Metrics,
) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(lgr, registry, m, cfg.Scheduler.FreshnessWindow)

	sched.RegisterRunner("fill-sync", func(ctx context.Context) error {
		return rec.PollFills(ctx, router.Pollers())
	})

	for _, seed := range cfg.Scheduler.Nodes {
		node := &models.NodeConfig{
			NodeID:       seed.NodeID,
			Type:         models.NodeType(seed.Type),
			Enabled:      seed.Enabled,
			IntervalSec:  seed.IntervalSec,
			Dependencies: seed.Dependencies,
			Outputs:      seed.Outputs,
		}
		if err := sched.Upsert(context.Background(), node); err != nil {
			return nil, fmt.Errorf("seed node %q: %w", seed.NodeID, err)
		}
	}
	return sched, nil
}

// ProvideRateLimiter creates the per-source intake limiter.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Intake.RateLimit.Capacity, cfg.Intake.RateLimit.RefillPerSec)
}

// ProvideHandlers composes the HTTP surface.
func ProvideHandlers(
	lgr *logger.Logger,
	intake *usecase.Intake,
	store drepo.SignalStore,
	q drepo.JobQueue,
	rl *ratelimit.Limiter,
	sched *scheduler.Scheduler,
	registry drepo.NodeRegistry,
) apphttp.Handler {
	return apphttp.Handlers{
		api.NewAlertsHandler(lgr, intake, store, q, rl),
		api.NewNodesHandler(lgr, sched, registry),
	}
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	store drepo.SignalStore,
	q drepo.JobQueue,
	events drepo.EventSink,
	audit drepo.AuditSink,
	router *broker.Router,
	intake *usecase.Intake,
	orch *usecase.Orchestrator,
	rec *usecase.Reconciler,
	sched *scheduler.Scheduler,
	handler apphttp.Handler,
) *server.App {
	return server.New(cfg, lgr, store, q, events, audit, router, intake, orch, rec, sched, handler)
}
