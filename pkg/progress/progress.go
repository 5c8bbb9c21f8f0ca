// Package progress implements the batched, retrying progress-update
// pipeline: Update queues a report without blocking the caller; a
// background batcher flushes accumulated updates to the control plane on a
// size or time trigger, retrying transient failures with exponential
// backoff before dropping the batch.
package progress

import (
	"context"
	"time"

	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/metrics"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"
)

// Sender posts a batch of progress updates to the control plane. Satisfied
// by *apiclient.Client.
type Sender interface {
	PostProgress(ctx context.Context, updates []runpodtypes.ProgressEntry) error
}

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
	postTimeout    = 10 * time.Second
)

// Pipeline is the batched progress-update queue.
type Pipeline struct {
	sender        Sender
	batchSize     int
	flushInterval time.Duration
	maxRetries    int

	queue  chan runpodtypes.ProgressUpdate
	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Pipeline. A full queue causes Update to drop the newest
// report and log a warning rather than block the caller.
func New(sender Sender, batchSize int, flushInterval time.Duration, maxRetries, maxQueueSize int) *Pipeline {
	return &Pipeline{
		sender:        sender,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxRetries:    maxRetries,
		queue:         make(chan runpodtypes.ProgressUpdate, maxQueueSize),
	}
}

// Update queues a progress report for jobID; it never blocks.
func (p *Pipeline) Update(jobID string, data interface{}) {
	select {
	case p.queue <- runpodtypes.ProgressUpdate{JobID: jobID, Data: data, Timestamp: time.Now().UTC()}:
		metrics.ProgressQueueDepth.Set(float64(len(p.queue)))
	default:
		metrics.ProgressDroppedTotal.Inc()
		log.WithJobID(jobID).Warn().Msg("progress queue full, dropping update")
	}
}

// Start launches the background batcher. Calling it twice without an
// intervening Stop logs a warning and is a no-op.
func (p *Pipeline) Start() {
	if p.stopCh != nil {
		log.WithComponent("progress").Warn().Msg("progress pipeline already running")
		return
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run()
}

// Stop drains the queue, flushes whatever remains, and stops the batcher.
func (p *Pipeline) Stop() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	p.stopCh = nil
}

func (p *Pipeline) run() {
	defer close(p.doneCh)

	logger := log.WithComponent("progress")
	var pending []runpodtypes.ProgressUpdate
	lastFlush := time.Now()
	timer := time.NewTimer(p.flushInterval)
	defer timer.Stop()

	flushIfDue := func() {
		full := len(pending) >= p.batchSize
		due := time.Since(lastFlush) >= p.flushInterval && len(pending) > 0
		if full || due {
			p.flush(pending)
			pending = nil
			lastFlush = time.Now()
		}
	}

	for {
		select {
		case update := <-p.queue:
			pending = append(pending, update)
			metrics.ProgressQueueDepth.Set(float64(len(p.queue)))
			flushIfDue()

		case <-timer.C:
			flushIfDue()
			timer.Reset(p.flushInterval)

		case <-p.stopCh:
			drain(p.queue, &pending)
			if len(pending) > 0 {
				p.flush(pending)
			}
			logger.Debug().Msg("stopped progress pipeline")
			return
		}
	}
}

func drain(queue chan runpodtypes.ProgressUpdate, pending *[]runpodtypes.ProgressUpdate) {
	for {
		select {
		case update := <-queue:
			*pending = append(*pending, update)
		default:
			return
		}
	}
}

// flush sends batch with exponential backoff, dropping it after maxRetries.
func (p *Pipeline) flush(batch []runpodtypes.ProgressUpdate) {
	logger := log.WithComponent("progress")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ProgressFlushDuration)

	entries := make([]runpodtypes.ProgressEntry, len(batch))
	for i, u := range batch {
		entries[i] = runpodtypes.ProgressEntry{
			JobID:     u.JobID,
			Data:      u.Data,
			Timestamp: u.Timestamp.Format(time.RFC3339),
		}
	}

	backoff := initialBackoff
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
		err := p.sender.PostProgress(ctx, entries)
		cancel()
		if err == nil {
			logger.Debug().Int("count", len(batch)).Msg("flushed progress batch")
			return
		}

		if attempt == p.maxRetries {
			logger.Error().Err(err).Int("attempts", attempt).Msg("progress batch send failed, dropping batch")
			return
		}

		logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("progress batch send failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
