// Package heartbeat sends a periodic liveness ping to the control plane,
// advertising the job IDs currently held by this worker.
package heartbeat

import (
	"context"
	"time"

	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/metrics"
)

// Pinger sends a single ping reporting the given in-flight job ids.
// Satisfied by *apiclient.Client.
type Pinger interface {
	Ping(ctx context.Context, jobIDs []string) error
}

// JobLister reports the jobs currently in flight. Satisfied by
// *jobstate.JobState.
type JobLister interface {
	ListIDs() []string
}

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Heartbeat runs the ping loop on its own goroutine.
type Heartbeat struct {
	pinger   Pinger
	jobs     JobLister
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Heartbeat that pings every interval.
func New(pinger Pinger, jobs JobLister, interval time.Duration) *Heartbeat {
	return &Heartbeat{pinger: pinger, jobs: jobs, interval: interval}
}

// Start launches the ping loop. A second Start without an intervening Stop
// logs a warning and is a no-op.
func (h *Heartbeat) Start() {
	if h.stopCh != nil {
		log.WithComponent("heartbeat").Warn().Msg("heartbeat already running")
		return
	}
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	log.WithComponent("heartbeat").Debug().Dur("interval", h.interval).Msg("starting heartbeat")
	go h.run()
}

// Stop cancels the ping loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h.stopCh == nil {
		return
	}
	close(h.stopCh)
	<-h.doneCh
	h.stopCh = nil
}

func (h *Heartbeat) run() {
	defer close(h.doneCh)

	logger := log.WithComponent("heartbeat")
	backoff := initialBackoff

	for {
		err := h.sendPing()
		if err == nil {
			backoff = initialBackoff
			metrics.HeartbeatBackoffSeconds.Set(0)
			if !sleepOrStop(h.interval, h.stopCh) {
				return
			}
			continue
		}

		metrics.HeartbeatFailuresTotal.Inc()
		metrics.HeartbeatBackoffSeconds.Set(backoff.Seconds())
		logger.Warn().Err(err).Dur("backoff", backoff).Msg("heartbeat ping failed")

		if !sleepOrStop(backoff, h.stopCh) {
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (h *Heartbeat) sendPing() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*h.interval)
	defer cancel()
	return h.pinger.Ping(ctx, h.jobs.ListIDs())
}

// sleepOrStop waits for d or until stopCh closes; returns false if stopCh
// closed first.
func sleepOrStop(d time.Duration, stopCh <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}
