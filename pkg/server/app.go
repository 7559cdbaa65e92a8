package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"MoverPull/internal/usecase"
	"MoverPull/pkg/config"
	xhttp "MoverPull/pkg/http"
	pkgkafka "MoverPull/pkg/kafka"
	applogger "MoverPull/pkg/logger"
)

// Closer is a named resource released on shutdown, in registration order.
type Closer struct {
	Name  string
	Close func() error
}

// triggerConsumer is the part of the Kafka consumer the serve loop drives.
type triggerConsumer interface {
	RegisterHandler(handler pkgkafka.MessageHandler)
	Start() error
	Stop(ctx context.Context) error
}

// App encapsulates the application lifecycle for the three run modes.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	ingestor   *usecase.Ingestor
	httpServer *xhttp.Server
	consumer   triggerConsumer
	trigger    pkgkafka.MessageHandler
	closers    []Closer
	out        io.Writer
}

// New creates a new App. consumer and trigger may be nil when Kafka triggers are disabled.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	ingestor *usecase.Ingestor,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	trigger pkgkafka.MessageHandler,
	closers ...Closer,
) *App {
	a := &App{
		cfg:        cfg,
		log:        log,
		ingestor:   ingestor,
		httpServer: httpServer,
		trigger:    trigger,
		closers:    closers,
		out:        os.Stdout,
	}
	if consumer != nil {
		a.consumer = consumer
	}
	return a
}

// SetOutput redirects the JSON written by the one-shot commands.
func (a *App) SetOutput(w io.Writer) { a.out = w }

// RunIngest ingests the latest trading date once and writes the result as JSON.
func (a *App) RunIngest(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.ingestor.IngestLatest(ctx)
	if res != nil {
		if werr := a.writeJSON(res); werr != nil {
			a.log.Warn("write result", applogger.Error(werr))
		}
	}
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

// RunBackfill ingests the last days trading dates ending at endDate and writes the report as JSON.
func (a *App) RunBackfill(ctx context.Context, endDate string, days int) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.ingestor.Backfill(ctx, endDate, days)
	if report != nil {
		if werr := a.writeJSON(report); werr != nil {
			a.log.Warn("write report", applogger.Error(werr))
		}
	}
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	return nil
}

// Serve starts the HTTP server and the Kafka trigger consumer, then blocks until
// a signal arrives or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.consumer != nil && a.trigger != nil {
		a.consumer.RegisterHandler(a.trigger)
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.stopConsumer(stopCtx)
		return fmt.Errorf("start http server: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-a.httpServer.Errors():
		a.log.Error("http server stopped", applogger.Error(err))
		runErr = err
	}
	return errors.Join(runErr, a.shutdown())
}

// shutdown stops the servers; Close releases the rest.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	a.stopConsumer(shutdownCtx)
	return errors.Join(errs...)
}

func (a *App) stopConsumer(ctx context.Context) {
	if a.consumer == nil {
		return
	}
	if err := a.consumer.Stop(ctx); err != nil {
		a.log.Warn("kafka consumer stop error", applogger.Error(err))
	}
}

// Close releases stores, clients and producers. It is safe to call after any run mode.
func (a *App) Close() error {
	// flush aggregated errors while the producer is still open
	a.log.RemoveCollector()

	var errs []error
	for _, c := range a.closers {
		if c.Close == nil {
			continue
		}
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	a.closers = nil
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) writeJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
