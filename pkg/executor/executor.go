// Package executor dispatches job handlers: async handlers run inline on the
// calling goroutine, sync handlers are dispatched through a bounded worker
// pool so a CPU-heavy handler cannot starve the process of goroutines.
package executor

import (
	"context"
	"errors"
	"runtime"

	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/metrics"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"
)

// ErrShutdown is returned by Execute once Shutdown has been called.
var ErrShutdown = errors.New("executor: shut down")

// Executor runs runpodtypes.Handlers, routing KindSync handlers through a
// bounded pool of tokens and KindAsync handlers straight to the caller.
type Executor struct {
	tokens chan struct{}
	done   chan struct{}
}

// New creates an Executor with maxWorkers concurrent sync-handler slots. A
// maxWorkers <= 0 defaults to runtime.NumCPU().
func New(maxWorkers int) *Executor {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	log.WithComponent("executor").Debug().Int("max_workers", maxWorkers).Msg("initialized executor")
	return &Executor{
		tokens: make(chan struct{}, maxWorkers),
		done:   make(chan struct{}),
	}
}

// Execute runs handler against job, honoring handler.Kind. It blocks until
// the handler returns; while a sync handler waits for a pool slot, a
// cancelled ctx or a shutdown ends the wait early with an error.
func (e *Executor) Execute(ctx context.Context, handler runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error) {
	select {
	case <-e.done:
		return nil, ErrShutdown
	default:
	}

	logger := log.WithJobID(job.ID)

	if handler.Kind == runpodtypes.KindAsync {
		logger.Debug().Msg("executing async handler inline")
		timer := metrics.NewTimer()
		out, err := handler.Fn(ctx, job)
		timer.ObserveDurationVec(metrics.HandlerDuration, "async")
		return out, err
	}

	logger.Debug().Msg("dispatching sync handler to pool")

	select {
	case e.tokens <- struct{}{}:
	case <-e.done:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	metrics.ExecutorPoolUtilization.Inc()
	defer func() {
		metrics.ExecutorPoolUtilization.Dec()
		<-e.tokens
	}()

	timer := metrics.NewTimer()
	out, err := handler.Fn(ctx, job)
	timer.ObserveDurationVec(metrics.HandlerDuration, "sync")
	return out, err
}

// Shutdown marks the executor closed; subsequent Execute calls fail fast
// with ErrShutdown. wait=true blocks until all in-flight sync slots drain.
func (e *Executor) Shutdown(wait bool) {
	select {
	case <-e.done:
		return // already shut down
	default:
		close(e.done)
	}

	if wait {
		for i := 0; i < cap(e.tokens); i++ {
			e.tokens <- struct{}{}
		}
	}

	log.WithComponent("executor").Info().Msg("executor shut down")
}
