package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"SigRelay/internal/broker"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/scheduler"
	"SigRelay/internal/usecase"
	"SigRelay/pkg/config"
	xhttp "SigRelay/pkg/http"
	applogger "SigRelay/pkg/logger"
)

// App encapsulates the entire application lifecycle: HTTP server,
// execution workers, the node scheduler, and their ordered shutdown.
type App struct {
	cfg     *config.Config
	log     *applogger.Logger
	store   drepo.SignalStore
	queue   drepo.JobQueue
	events  drepo.EventSink
	audit   drepo.AuditSink
	router  *broker.Router
	intake  *usecase.Intake
	orch    *usecase.Orchestrator
	rec     *usecase.Reconciler
	sched   *scheduler.Scheduler
	handler xhttp.Handler

	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	store drepo.SignalStore,
	queue drepo.JobQueue,
	events drepo.EventSink,
	audit drepo.AuditSink,
	router *broker.Router,
	intake *usecase.Intake,
	orch *usecase.Orchestrator,
	rec *usecase.Reconciler,
	sched *scheduler.Scheduler,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:     cfg,
		log:     lgr,
		store:   store,
		queue:   queue,
		events:  events,
		audit:   audit,
		router:  router,
		intake:  intake,
		orch:    orch,
		rec:     rec,
		sched:   sched,
		handler: handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.store.Init(ctx); err != nil {
		return err
	}
	if err := a.router.Connect(ctx); err != nil {
		// broker bridges reconnect on their own; a dead endpoint at boot
		// should not keep intake from accepting alerts
		a.log.Warn("broker connect", applogger.Error(err))
	}

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.orch.Run(ctx)
	}()
	a.log.Info("execution workers started", applogger.Int("workers", a.cfg.Queue.Workers))

	a.sched.Start(ctx)

	a.httpServer = xhttp.NewServer(a.log, a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(a.cfg.Metrics.Path),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.log.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		a.reloadSecret()
	}
	a.log.Info("shutdown signal received")

	cancel()
	<-workersDone
	return a.shutdown()
}

// reloadSecret re-reads the config file and rotates the webhook secret.
// Everything else in the snapshot stays as loaded at startup.
func (a *App) reloadSecret() {
	fresh, err := config.LoadWithEnv(a.cfg.SourcePath)
	if err != nil {
		a.log.Error("config reload", applogger.Error(err))
		return
	}
	version := a.intake.ReloadSecret(fresh.Intake.WebhookSecret)
	a.log.Info("secret rotation applied", applogger.Int64("version", int64(version)))
}

// shutdown stops components in dependency order: no new HTTP work, then
// scheduler, then the data planes.
func (a *App) shutdown() error {
	a.sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown", applogger.Error(err))
		}
	}

	if err := a.router.Close(); err != nil {
		a.log.Warn("broker close", applogger.Error(err))
	}
	if err := a.queue.Close(); err != nil {
		a.log.Warn("queue close", applogger.Error(err))
	}
	if err := a.events.Close(); err != nil {
		a.log.Warn("event sink close", applogger.Error(err))
	}
	if err := a.audit.Close(); err != nil {
		a.log.Warn("audit sink close", applogger.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
