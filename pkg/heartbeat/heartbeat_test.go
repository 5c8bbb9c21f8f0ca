package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu       sync.Mutex
	calls    int32
	failN    int32
	lastJobs []string
}

func (f *fakePinger) Ping(ctx context.Context, jobIDs []string) error {
	f.mu.Lock()
	f.lastJobs = jobIDs
	f.mu.Unlock()
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failN {
		return assert.AnError
	}
	return nil
}

func (f *fakePinger) callCount() int32 { return atomic.LoadInt32(&f.calls) }

type fakeJobLister struct{ ids []string }

func (f fakeJobLister) ListIDs() []string { return f.ids }

func TestHeartbeat_PingsRepeatedly(t *testing.T) {
	pinger := &fakePinger{}
	hb := New(pinger, fakeJobLister{ids: []string{"job-1"}}, 10*time.Millisecond)
	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool { return pinger.callCount() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeat_BacksOffOnFailure(t *testing.T) {
	pinger := &fakePinger{failN: 2}
	hb := New(pinger, fakeJobLister{}, 5*time.Millisecond)
	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool { return pinger.callCount() >= 3 }, 5*time.Second, 10*time.Millisecond)
}

func TestHeartbeat_StopIsIdempotent(t *testing.T) {
	hb := New(&fakePinger{}, fakeJobLister{}, 10*time.Millisecond)
	hb.Start()
	hb.Stop()
	hb.Stop() // must not block or panic
}

func TestHeartbeat_StartTwiceIsNoop(t *testing.T) {
	hb := New(&fakePinger{}, fakeJobLister{}, 10*time.Millisecond)
	hb.Start()
	hb.Start()
	hb.Stop()
}
