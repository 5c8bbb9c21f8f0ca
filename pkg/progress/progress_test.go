package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/runpod-go/pkg/runpodtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu      sync.Mutex
	batches [][]runpodtypes.ProgressEntry
	failN   int // number of calls to fail before succeeding
	calls   int
}

func (f *fakeSender) PostProgress(ctx context.Context, updates []runpodtypes.ProgressEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return assert.AnError
	}
	cp := make([]runpodtypes.ProgressEntry, len(updates))
	copy(cp, updates)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeSender) snapshot() [][]runpodtypes.ProgressEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]runpodtypes.ProgressEntry, len(f.batches))
	copy(out, f.batches)
	return out
}

func TestPipeline_FlushesOnBatchSize(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, 2, time.Hour, 3, 10)
	p.Start()
	defer p.Stop()

	p.Update("job-1", 1)
	p.Update("job-2", 2)

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, sender.snapshot()[0], 2)
}

func TestPipeline_FlushesOnInterval(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, 100, 20*time.Millisecond, 3, 10)
	p.Start()
	defer p.Stop()

	p.Update("job-1", "x")

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPipeline_DropsUpdateWhenQueueFull(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, 100, time.Hour, 3, 1)
	// No Start(): nothing drains the queue, so the second Update must drop.
	p.Update("job-1", "x")
	p.Update("job-2", "y")
	assert.Len(t, p.queue, 1)
}

func TestPipeline_StopFlushesPending(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, 100, time.Hour, 3, 10)
	p.Start()

	p.Update("job-1", "x")
	p.Stop()

	assert.Len(t, sender.snapshot(), 1)
}

func TestPipeline_RetriesBeforeDropping(t *testing.T) {
	sender := &fakeSender{failN: 2}
	p := New(sender, 1, time.Hour, 5, 10)
	p.Start()
	defer p.Stop()

	p.Update("job-1", "x")

	require.Eventually(t, func() bool {
		return len(sender.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_StartTwiceIsNoop(t *testing.T) {
	sender := &fakeSender{}
	p := New(sender, 1, time.Hour, 3, 10)
	p.Start()
	p.Start()
	p.Stop()
}
