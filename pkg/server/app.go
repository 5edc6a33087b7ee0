package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mid "CatalystPull/internal/middleware"
	"CatalystPull/internal/service/scheduler"
	"CatalystPull/pkg/config"
	xhttp "CatalystPull/pkg/http"
	pkgkafka "CatalystPull/pkg/kafka"
	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	notifier    *mid.ChangeNotifier
	consumer    *pkgkafka.Consumer
	queue       *queue.RedisQueue
	scheduler   *scheduler.Scheduler
	sweeper     func()
	cleanup     func()
}

// New creates a new App instance with all dependencies. consumer, queue and
// scheduler may be nil when the matching feature is disabled.
func New(
	cfg *config.Config,
	logger *applogger.Logger,
	handler xhttp.Handler,
	notifier *mid.ChangeNotifier,
	consumer *pkgkafka.Consumer,
	q *queue.RedisQueue,
	sched *scheduler.Scheduler,
) *App {
	return &App{
		cfg:         cfg,
		logger:      logger,
		httpHandler: handler,
		notifier:    notifier,
		consumer:    consumer,
		queue:       q,
		scheduler:   sched,
	}
}

// SetCleanup registers the release func of infrastructure clients.
func (a *App) SetCleanup(fn func()) { a.cleanup = fn }

// SetSweeper registers a periodic housekeeping func run every minute.
func (a *App) SetSweeper(fn func()) { a.sweeper = fn }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := a.logger

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		xhttp.WithLogger(l),
	)

	a.notifier.Start(ctx)

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			l.Error("kafka consumer error", applogger.Error(err))
		} else {
			l.Info("change consumer started", applogger.String("topic", a.cfg.Kafka.ChangeTopic))
		}
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			l.Error("queue start error", applogger.Error(err))
		}
	}

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	if a.sweeper != nil {
		go func() {
			t := time.NewTicker(time.Minute)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					a.sweeper()
				}
			}
		}()
	}

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	cancel()
	return a.shutdown()
}

// shutdown gracefully stops all services.
func (a *App) shutdown() error {
	l := a.logger
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			l.Warn("scheduler stop error", applogger.Error(err))
		}
	}

	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			l.Warn("queue stop error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	a.notifier.Stop()

	if a.cleanup != nil {
		a.cleanup()
	}

	l.Info("shutdown complete")
	return nil
}
