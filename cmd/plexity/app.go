package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/plexity/actor/input"
	"github.com/teilomillet/plexity/actor/metrics"
	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/actor/provider"
	"github.com/teilomillet/plexity/actor/runner"
	"github.com/teilomillet/plexity/actor/status"
	"github.com/teilomillet/plexity/actor/storage"
	"github.com/teilomillet/plexity/actor/validation"
	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pushTimeout = 10 * time.Second

// app wires the configured components of one job process.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracker *status.Tracker
	loader  *input.Loader
	runner  *runner.Runner

	dataset storage.Dataset
	kv      storage.KeyValueStore
}

func newApp(ctx context.Context, cfg *config.Config, watch bool, logger *zap.Logger) (*app, error) {
	client, err := provider.New(cfg.Provider, logger.Named("provider"))
	if err != nil {
		return nil, err
	}
	m := metrics.NewMetrics()
	// Reruns share one process, so a failing provider is short-circuited.
	if watch {
		client = provider.NewBreakerClient(client, cfg.Provider.Breaker, m, logger.Named("breaker"))
	}

	var counter *validation.TokenCounter
	if cfg.Provider.MaxContextTokens > 0 {
		counter, err = validation.NewTokenCounter(processing.DefaultModel)
		if err != nil {
			return nil, errors.NewConfigError("token preflight enabled but no encoding is available", err)
		}
	}

	dataset, err := storage.NewDataset(ctx, cfg, logger.Named("dataset"))
	if err != nil {
		return nil, err
	}
	kv, err := storage.NewKeyValueStore(ctx, cfg, logger.Named("kv"))
	if err != nil {
		dataset.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tracker: status.NewTracker(),
		loader:  input.NewLoader(cfg),
		dataset: dataset,
		kv:      kv,
	}

	a.runner, err = runner.New(runner.Options{
		Client:           client,
		Dataset:          dataset,
		KeyValue:         kv,
		TokenCounter:     counter,
		MaxContextTokens: cfg.Provider.MaxContextTokens,
		Timeout:          cfg.Actor.Timeout,
		Metrics:          a.metrics,
		Observers:        []runner.Observer{a.tracker},
		Logger:           logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.dataset.Close(); err != nil {
		a.logger.Warn("failed to close dataset", zap.Error(err))
	}
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("failed to close key-value store", zap.Error(err))
	}
}

// execute runs the job, and the status server beside it when configured,
// and returns the process exit code.
func execute(ctx context.Context, cfg *config.Config, watch bool, logger *zap.Logger) int {
	a, err := newApp(ctx, cfg, watch, logger)
	if err != nil {
		errors.LogError(logger, err, "")
		return 1
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := status.NewServer(cfg.Metrics.Addr, status.NewRouter(a.tracker, a.metrics, logger.Named("status")), logger)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	var runErr error
	g.Go(func() error {
		// The status server lives as long as the job.
		defer cancel()
		if watch {
			runErr = a.watch(gctx)
		} else {
			runErr = a.once(gctx)
		}
		return nil
	})

	serveErr := g.Wait()
	if serveErr != nil {
		logger.Error("status server failed", zap.Error(serveErr))
	}

	a.push()

	if runErr != nil || serveErr != nil {
		return 1
	}
	return 0
}

// once loads the input and runs the job a single time.
func (a *app) once(ctx context.Context) error {
	in, src, err := a.loader.Load()
	if err != nil {
		errors.LogError(a.logger, err, "")
		return err
	}
	a.logger.Debug("input loaded", zap.String("source", string(src)))
	return a.run(ctx, in)
}

func (a *app) run(ctx context.Context, in processing.RawInput) error {
	runID := uuid.New().String()
	if _, err := a.runner.RunWithID(ctx, runID, in); err != nil {
		errors.LogError(a.logger, err, runID)
		return err
	}
	return nil
}

// watch runs the job for the current input file, then again on every
// change until ctx ends. Failed runs are logged and do not stop watching.
func (a *app) watch(ctx context.Context) error {
	// The inline input variable would shadow every file change.
	fw, err := input.NewFileWatcher(&input.Loader{Path: a.loader.Path}, a.cfg.Watch.Debounce, a.logger.Named("watch"))
	if err != nil {
		cerr := errors.NewConfigError("cannot watch input", err)
		errors.LogError(a.logger, cerr, "")
		return cerr
	}
	defer fw.Close()

	updates := fw.Subscribe()
	a.logger.Info("watching input", zap.String("path", a.loader.Path))
	_ = a.run(ctx, fw.Current())

	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-updates:
			if !ok {
				return nil
			}
			_ = a.run(ctx, in)
		}
	}
}

// push sends the run metrics to the Pushgateway when one is configured.
// A failed push is logged; it does not change the exit code.
func (a *app) push() {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("failed to push metrics", zap.Error(err))
	}
}
