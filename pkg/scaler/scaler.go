// Package scaler runs the job acquisition loop: a counting semaphore bounds
// concurrency, an acquire-fetch-dispatch cycle pulls work from the control
// plane, and processJob carries each job through execute, post-outcome, and
// cleanup with a defer-based guarantee that its permit is always released.
package scaler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/runpod-go/pkg/apiclient"
	"github.com/cuemby/runpod-go/pkg/jobstate"
	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/metrics"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"

	"github.com/google/uuid"
)

const (
	fetchErrorBackoff = time.Second
	noJobBackoff       = 500 * time.Millisecond
	modifierPollPeriod = 5 * time.Second
)

// Executor runs a handler against a job. Satisfied by *executor.Executor.
type Executor interface {
	Execute(ctx context.Context, handler runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error)
}

// Identity carries the worker instance fields attached to FAILED payloads.
type Identity struct {
	WorkerID string
	Hostname string
	Version  string
}

// ResolveIdentity builds an Identity from RUNPOD_POD_ID (falling back to a
// generated id for local/dev runs) and os.Hostname.
func ResolveIdentity(version string) Identity {
	workerID := os.Getenv("RUNPOD_POD_ID")
	if workerID == "" {
		workerID = uuid.NewString()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Identity{WorkerID: workerID, Hostname: hostname, Version: version}
}

// Scaler is the event-driven job acquisition loop with semaphore-based
// concurrency control.
type Scaler struct {
	mu                 sync.Mutex
	currentConcurrency int
	tokens             chan struct{}

	handler        runpodtypes.Handler
	executor       Executor
	jobs           *jobstate.JobState
	client         *apiclient.Client
	identity       Identity
	modifier       runpodtypes.ConcurrencyModifier
	returnAgg      bool
	refreshEnabled bool

	alive  atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// Config bundles the collaborators a Scaler needs to run.
type Config struct {
	Concurrency         int
	Handler             runpodtypes.Handler
	Executor            Executor
	Jobs                *jobstate.JobState
	Client              *apiclient.Client
	Identity            Identity
	ConcurrencyModifier runpodtypes.ConcurrencyModifier
	ReturnAggregate     bool
	RefreshWorker       bool
}

// semaphoreHeadroom bounds the tokens channel. It is not a concurrency
// limit — currentConcurrency and AdjustConcurrency are — it only needs to be
// larger than any concurrency a ConcurrencyModifier will plausibly request,
// since a struct{} channel's backing array costs nothing per slot regardless
// of capacity.
const semaphoreHeadroom = 1 << 20

// New builds a Scaler with an initial semaphore availability of
// cfg.Concurrency permits. AdjustConcurrency can raise or lower that count
// at any time; it is not bounded by this initial value.
func New(cfg Config) *Scaler {
	modifier := cfg.ConcurrencyModifier
	if modifier == nil {
		modifier = runpodtypes.DefaultConcurrencyModifier
	}

	s := &Scaler{
		currentConcurrency: cfg.Concurrency,
		tokens:             make(chan struct{}, semaphoreHeadroom),
		handler:            cfg.Handler,
		executor:           cfg.Executor,
		jobs:               cfg.Jobs,
		client:             cfg.Client,
		identity:           cfg.Identity,
		modifier:           modifier,
		returnAgg:          cfg.ReturnAggregate,
		refreshEnabled:     cfg.RefreshWorker,
	}
	for i := 0; i < cfg.Concurrency; i++ {
		s.tokens <- struct{}{}
	}
	metrics.ConcurrencyCurrent.Set(float64(cfg.Concurrency))
	return s
}

// IsAlive reports whether the scaler is still accepting new jobs.
func (s *Scaler) IsAlive() bool { return s.alive.Load() }

// AdjustConcurrency changes the semaphore capacity. Scaling up releases
// permits immediately; scaling down takes the surplus permits that are free
// now and claims the rest in the background as active jobs return them, so
// it never waits on active jobs to finish.
func (s *Scaler) AdjustConcurrency(ctx context.Context, newConcurrency int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := newConcurrency - s.currentConcurrency
	logger := log.WithComponent("scaler")

	switch {
	case delta > 0:
		for i := 0; i < delta; i++ {
			s.tokens <- struct{}{}
		}
	case delta < 0:
		owed := -delta
	take:
		for ; owed > 0; owed-- {
			select {
			case <-s.tokens:
			default:
				break take
			}
		}
		if owed > 0 {
			go func() {
				for ; owed > 0; owed-- {
					<-s.tokens
				}
			}()
		}
	}

	s.currentConcurrency = newConcurrency
	metrics.ConcurrencyCurrent.Set(float64(newConcurrency))
	logger.Info().Int("concurrency", newConcurrency).Msg("adjusted concurrency")
	return nil
}

// Run starts the acquisition loop and the concurrency-modifier poller, and
// blocks until ctx is cancelled or Stop is called.
func (s *Scaler) Run(ctx context.Context) {
	s.alive.Store(true)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.acquisitionLoop(ctx) }()
	go func() { defer wg.Done(); s.modifierLoop(ctx) }()

	go func() {
		wg.Wait()
		close(s.doneCh)
	}()

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}
	s.alive.Store(false)
	<-s.doneCh
}

// Stop signals the acquisition loop to stop accepting new jobs. Active jobs
// continue to completion; Stop does not wait for them.
func (s *Scaler) Stop() {
	if s.stopCh == nil {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Scaler) acquisitionLoop(ctx context.Context) {
	logger := log.WithComponent("scaler")
	logger.Info().Msg("starting job acquisition loop")

	for s.alive.Load() {
		select {
		case <-ctx.Done():
			return
		case <-s.tokens:
		}

		if !s.alive.Load() {
			s.tokens <- struct{}{}
			return
		}

		metrics.ConcurrencySlotsInUse.Inc()

		jobInProgress := s.jobs.Count() > 0
		job, err := s.client.Fetch(ctx, jobInProgress)
		if err != nil {
			if err == apiclient.ErrNoJob {
				metrics.FetchEmptyTotal.Inc()
				s.tokens <- struct{}{}
				metrics.ConcurrencySlotsInUse.Dec()
				sleepOrDone(ctx, noJobBackoff)
				continue
			}
			logger.Warn().Err(err).Msg("job fetch failed")
			s.tokens <- struct{}{}
			metrics.ConcurrencySlotsInUse.Dec()
			sleepOrDone(ctx, fetchErrorBackoff)
			continue
		}

		go s.processJob(ctx, job)
	}

	logger.Info().Msg("job acquisition loop stopped")
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *Scaler) modifierLoop(ctx context.Context) {
	ticker := time.NewTicker(modifierPollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.currentConcurrency
			s.mu.Unlock()

			next := s.modifier(current)
			if next != current {
				if err := s.AdjustConcurrency(ctx, next); err != nil {
					log.WithComponent("scaler").Warn().Err(err).Msg("concurrency modifier adjustment failed")
				}
			}
		}
	}
}

// processJob carries a fetched job through register -> execute -> post
// outcome -> deregister -> release, guaranteeing the permit is released
// exactly once regardless of which path the job takes.
func (s *Scaler) processJob(ctx context.Context, job *runpodtypes.Job) {
	defer func() {
		s.tokens <- struct{}{}
		metrics.ConcurrencySlotsInUse.Dec()
	}()

	logger := log.WithJobID(job.ID)

	s.jobs.Add(*job)
	metrics.JobsInProgress.Set(float64(s.jobs.Count()))
	defer func() {
		s.jobs.Remove(job.ID)
		metrics.JobsInProgress.Set(float64(s.jobs.Count()))
	}()

	logger.Info().Msg("processing job")

	out, err := s.executor.Execute(ctx, s.handler, job)
	if err != nil {
		s.postFailure(ctx, job.ID, err)
		metrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
		return
	}

	if out.Stream != nil {
		s.runStream(ctx, job.ID, out.Stream)
		metrics.JobsCompletedTotal.WithLabelValues("completed").Inc()
	} else if out.Error != "" {
		s.postPolicyFailure(ctx, job.ID, out.Error)
		metrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
	} else {
		payload := runpodtypes.ResultPayload{Output: out.Value}
		if s.refreshEnabled && out.RefreshWorker {
			payload.RefreshWorker = true
		}
		if err := s.client.PostResult(ctx, job.ID, payload); err != nil {
			logger.Error().Err(err).Msg("failed to post result")
		}
		metrics.JobsCompletedTotal.WithLabelValues("completed").Inc()
		logger.Info().Msg("job completed")
	}

	if s.refreshEnabled && out.RefreshWorker {
		logger.Info().Msg("refresh worker requested, no longer accepting new jobs")
		s.Stop()
	}
}

func (s *Scaler) runStream(ctx context.Context, jobID string, stream <-chan runpodtypes.StreamChunk) {
	logger := log.WithJobID(jobID)
	var aggregate []interface{}

	for chunk := range stream {
		if chunk.Err != nil {
			s.postFailure(ctx, jobID, chunk.Err)
			return
		}
		if err := s.client.PostStreamChunk(ctx, jobID, chunk.Data); err != nil {
			logger.Error().Err(err).Msg("failed to post stream chunk")
		}
		if s.returnAgg {
			aggregate = append(aggregate, chunk.Data)
		}
	}

	var final interface{}
	if s.returnAgg {
		final = aggregate
	}
	if err := s.client.PostStreamFinal(ctx, jobID, final); err != nil {
		logger.Error().Err(err).Msg("failed to post terminal stream record")
	}
}

// postPolicyFailure posts a FAILED result for a handler that judged its own
// outcome a failure without returning a Go error. Unlike postFailure, there
// is no error-type or traceback to attach since nothing was raised.
func (s *Scaler) postPolicyFailure(ctx context.Context, jobID string, message string) {
	logger := log.WithJobID(jobID)
	logger.Error().Str("error", message).Msg("handler reported policy failure")

	payload := runpodtypes.ResultPayload{
		Error: message,
		ErrorMetadata: &runpodtypes.ErrorMetadata{
			WorkerID: s.identity.WorkerID,
			Hostname: s.identity.Hostname,
			Version:  s.identity.Version,
		},
	}
	if err := s.client.PostResult(ctx, jobID, payload); err != nil {
		logger.Error().Err(err).Msg("failed to post policy failure result")
	}
}

func (s *Scaler) postFailure(ctx context.Context, jobID string, cause error) {
	logger := log.WithJobID(jobID)
	logger.Error().Err(cause).Msg("handler failed")

	payload := runpodtypes.ResultPayload{
		Error: fmt.Sprintf("%v", cause),
		ErrorMetadata: &runpodtypes.ErrorMetadata{
			ErrorType:    fmt.Sprintf("%T", cause),
			ErrorMessage: cause.Error(),
			WorkerID:     s.identity.WorkerID,
			Hostname:     s.identity.Hostname,
			Version:      s.identity.Version,
		},
	}
	if err := s.client.PostResult(ctx, jobID, payload); err != nil {
		logger.Error().Err(err).Msg("failed to post failure result")
	}
}
