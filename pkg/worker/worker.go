// Package worker wires jobstate, executor, progress, heartbeat, and scaler
// into a runnable process: resolving Config from the environment,
// substituting URL templates, running a pre-start fitness check, and
// driving the canonical startup/teardown sequence.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/cuemby/runpod-go/pkg/apiclient"
	"github.com/cuemby/runpod-go/pkg/executor"
	"github.com/cuemby/runpod-go/pkg/health"
	"github.com/cuemby/runpod-go/pkg/heartbeat"
	"github.com/cuemby/runpod-go/pkg/jobstate"
	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/progress"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"
	"github.com/cuemby/runpod-go/pkg/scaler"
)

// Worker is the top-level orchestrator: one process, one handler.
type Worker struct {
	cfg     Config
	handler runpodtypes.Handler

	fitnessChecks []health.Checker

	jobs       *jobstate.JobState
	exec       *executor.Executor
	client     *apiclient.Client
	httpClient *http.Client
	progress   *progress.Pipeline
	heartbeat  *heartbeat.Heartbeat
	scaler     *scaler.Scaler
}

// Option customizes a Worker before Run.
type Option func(*Worker)

// WithFitnessCheck registers a pre-start fitness check; Run executes all
// registered checks, in order, before the scaler starts.
func WithFitnessCheck(c health.Checker) Option {
	return func(w *Worker) { w.fitnessChecks = append(w.fitnessChecks, c) }
}

// New builds a Worker from a resolved Config and the user's handler.
func New(cfg Config, handler runpodtypes.Handler, opts ...Option) *Worker {
	w := &Worker{cfg: cfg, handler: handler}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run performs the full lifecycle: fitness check, component startup, job
// processing until SIGINT/SIGTERM, then the canonical teardown sequence.
// It returns a non-zero-worthy error only on fatal initialization failure;
// a clean shutdown returns nil.
func (w *Worker) Run(parent context.Context) error {
	logger := log.WithComponent("worker")

	if err := w.runFitnessChecks(parent); err != nil {
		return fmt.Errorf("worker: fitness check failed: %w", err)
	}

	endpoints := apiclient.ResolveEndpoints(
		w.cfg.JobFetchURL, w.cfg.ResultURL, w.cfg.StreamURL, w.cfg.PingURL, w.cfg.ProgressURL,
		w.cfg.PodID, w.cfg.GPUTypeID,
	)
	w.httpClient = apiclient.DefaultHTTPClient()
	w.client = apiclient.New(endpoints, w.cfg.APIKey, w.cfg.Version, w.httpClient)

	var err error
	w.jobs, err = jobstate.New(w.cfg.CheckpointPath, w.cfg.CheckpointInterval)
	if err != nil {
		return fmt.Errorf("worker: open checkpoint store: %w", err)
	}
	if err := w.jobs.Load(); err != nil {
		logger.Warn().Err(err).Msg("failed to load checkpoint, starting empty")
	}
	w.jobs.StartCheckpointing()

	w.exec = executor.New(w.cfg.MaxWorkers)

	if w.cfg.ProgressURL != "" {
		w.progress = progress.New(w.client, w.cfg.ProgressBatchSize, w.cfg.ProgressFlushInterval,
			w.cfg.ProgressMaxRetries, w.cfg.ProgressMaxQueueSize)
		w.progress.Start()
	} else {
		logger.Warn().Msg("no progress URL configured, progress updates disabled")
	}

	if w.cfg.PingURL != "" {
		w.heartbeat = heartbeat.New(w.client, w.jobs, w.cfg.PingInterval)
		w.heartbeat.Start()
	} else {
		logger.Warn().Msg("no ping URL configured, heartbeat disabled")
	}

	identity := scaler.ResolveIdentity(w.cfg.Version)
	w.scaler = scaler.New(scaler.Config{
		Concurrency:     w.cfg.Concurrency,
		Handler:         w.handler,
		Executor:        w.exec,
		Jobs:            w.jobs,
		Client:          w.client,
		Identity:        identity,
		ReturnAggregate: w.cfg.ReturnAggregateStream,
		RefreshWorker:   w.cfg.RefreshWorker,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Int("concurrency", w.cfg.Concurrency).
		Str("worker_id", identity.WorkerID).
		Msg("worker started, beginning job processing")

	w.scaler.Run(ctx)

	logger.Info().Msg("shutdown signal received, tearing down")
	w.teardown()
	return nil
}

func (w *Worker) runFitnessChecks(ctx context.Context) error {
	logger := log.WithComponent("worker")
	for _, check := range w.fitnessChecks {
		result := check.Check(ctx)
		if !result.Healthy {
			return fmt.Errorf("%s check failed: %s", check.Type(), result.Message)
		}
		logger.Debug().Str("check", string(check.Type())).Msg("fitness check passed")
	}
	return nil
}

// teardown runs the canonical shutdown order: the scaler has already
// returned from Run by this point, so what remains is stop heartbeat, stop
// progress (final flush), stop checkpointing (final snapshot), shut down the
// executor pool, then close the HTTP client's idle connections.
func (w *Worker) teardown() {
	if w.heartbeat != nil {
		w.heartbeat.Stop()
	}
	if w.progress != nil {
		w.progress.Stop()
	}
	if w.jobs != nil {
		w.jobs.StopCheckpointing()
		_ = w.jobs.Close()
	}
	if w.exec != nil {
		w.exec.Shutdown(true)
	}
	if w.httpClient != nil {
		w.httpClient.CloseIdleConnections()
	}
}
