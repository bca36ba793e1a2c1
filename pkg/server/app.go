package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/usecase"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/config"
	xhttp "github.com/wijnaldum-eth/price-dashboard-ml/pkg/http"
	pkgkafka "github.com/wijnaldum-eth/price-dashboard-ml/pkg/kafka"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
	"github.com/wijnaldum-eth/price-dashboard-ml/pkg/queue"
)

// App encapsulates the application lifecycle: HTTP API, price
// ingestion, background monitoring, and graceful shutdown.
type App struct {
	cfg         *config.Config
	l           *applogger.Logger
	collector   *usecase.QuoteCollector
	monitor     *usecase.ModelMonitor
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	jobQueue    *queue.RedisQueue
	httpHandler xhttp.Handler
	httpServer  *xhttp.Server
	closers     []io.Closer
}

// New creates an App; optional components may be nil and are skipped.
func New(cfg *config.Config, l *applogger.Logger, handler xhttp.Handler) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, l: l, httpHandler: handler}
}

// SetCollector attaches the live feed collector.
func (a *App) SetCollector(c *usecase.QuoteCollector) { a.collector = c }

// SetMonitor attaches the model monitor maintenance loop.
func (a *App) SetMonitor(m *usecase.ModelMonitor) { a.monitor = m }

// SetConsumer attaches the Kafka ingestion consumer and its handler.
func (a *App) SetConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = kh
}

// SetJobQueue attaches the background training queue.
func (a *App) SetJobQueue(q *queue.RedisQueue) { a.jobQueue = q }

// AddCloser registers a resource closed on shutdown, last added first.
func (a *App) AddCloser(c io.Closer) { a.closers = append(a.closers, c) }

// Run starts all components and blocks until a termination signal.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.l),
	)

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.l.Error("collector error", applogger.Error(err))
			}
		}()
		a.l.Info("collector started", applogger.Strings("assets", a.cfg.Feed.Assets))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.jobQueue != nil {
		if err := a.jobQueue.Start(); err != nil {
			a.l.Error("job queue start error", applogger.Error(err))
			return err
		}
		a.l.Info("job queue started")
	}

	if a.monitor != nil {
		go a.maintenanceLoop(ctx)
		a.l.Info("monitor maintenance started", applogger.Duration("interval", a.cfg.Monitor.Interval))
	}

	if err := a.httpServer.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// maintenanceLoop periodically reconciles predictions against realized
// prices and refreshes performance snapshots.
func (a *App) maintenanceLoop(ctx context.Context) {
	interval := a.cfg.Monitor.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.monitor.Maintain(ctx); err != nil {
				a.l.Warn("monitor maintenance error", applogger.Error(err))
			}
		}
	}
}

func (a *App) shutdown(ctx context.Context) error {
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.l.Warn("collector stop error", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.jobQueue != nil {
		if err := a.jobQueue.Stop(shutdownCtx); err != nil {
			a.l.Warn("job queue stop error", applogger.Error(err))
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.l.Warn("resource close error", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return nil
}
