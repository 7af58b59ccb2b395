// Package app wires the humaniq server runtime around the selected storage backend,
// including the invitation sweeper and the completion event consumer.
package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"humaniq/cmd/internal/accessapi"
	"humaniq/cmd/internal/availability"
	"humaniq/cmd/internal/events"
	"humaniq/cmd/internal/invite"
	"humaniq/cmd/internal/metrics"
)

// App is the humaniq server runtime. It owns the storage backend, the HTTP server
// and the background workers.
type App struct {
	cfg     Config
	log     Logger
	metrics *metrics.Metrics

	backend *backend

	api      *accessapi.Handler
	sweeper  *invite.Sweeper
	consumer *events.Consumer
	reader   io.Closer
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(io.Discard, cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := NewTokenHasher(cfg)
	if err != nil {
		return nil, err
	}

	be, err := newBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, be, invite.WithHasher(hasher))
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	log.Info("security.token_hasher", "hmac", hasher.Keyed())
	return a, nil
}

// wire builds the services and workers over an already opened backend.
func wire(cfg Config, log Logger, be *backend, inviteOpts ...invite.Option) (*App, error) {
	m := metrics.New()

	reader, err := availability.NewReader(be.store, be.store)
	if err != nil {
		return nil, err
	}
	liberations, err := availability.NewLiberationService(be.store, be.store)
	if err != nil {
		return nil, err
	}
	completions, err := availability.NewCompletionHandler(be.store)
	if err != nil {
		return nil, err
	}

	opts := append([]invite.Option{invite.WithTTL(cfg.InviteTTL, cfg.InviteMaxTTL)}, inviteOpts...)
	invites, err := invite.NewService(be.ledger, opts...)
	if err != nil {
		return nil, err
	}

	api, err := accessapi.NewHandler(log, accessapi.Config{
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AdminToken:     cfg.AdminToken,
		InviteIPMax:    cfg.InviteIPMax,
		InviteIPWindow: cfg.InviteIPWindow,
		TrustProxy:     cfg.TrustProxy,
	}, accessapi.Services{
		Reader:      reader,
		Liberations: liberations,
		Completions: completions,
		Invites:     invites,
	}, accessapi.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: m,
		backend: be,
		api:     api,
		sweeper: &invite.Sweeper{
			Service:  invites,
			Interval: cfg.InviteSweepInterval,
			Limit:    cfg.InviteSweepLimit,
			Logger:   log,
			OnSweep:  m.Swept,
		},
	}

	if len(cfg.KafkaBrokers) > 0 {
		kr, err := events.NewKafkaReader(events.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
		})
		if err != nil {
			return nil, err
		}
		consumer, err := events.NewConsumer(kr, completions,
			events.WithLogger(log),
			events.WithMetrics(m),
		)
		if err != nil {
			_ = kr.Close()
			return nil, err
		}
		a.consumer = consumer
		a.reader = kr
	}

	return a, nil
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.backend, a.metrics, a.api)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log, a.metrics)
}

// Run starts the HTTP server and the workers, and blocks until context cancellation
// or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    1 << 20,
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var wg sync.WaitGroup
	a.startWorkers(workersCtx, &wg)

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"backend", a.backend.kind,
		"kafka", a.consumer != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	stopWorkers()
	wg.Wait()

	if err := a.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	if runErr == nil {
		a.log.Info("server.stopped")
	}
	return runErr
}

func (a *App) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	if a.sweeper != nil && a.sweeper.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweeper.Run(ctx)
		}()
	}
	if a.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.consumer.Run(ctx); err != nil {
				a.log.Error("events.consumer.fail", "err", err)
			}
		}()
	}
}

// Close releases the Kafka reader and the storage backend.
func (a *App) Close() error {
	var errs []error
	if a.reader != nil {
		errs = append(errs, a.reader.Close())
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	return errors.Join(errs...)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
