package scaler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/runpod-go/pkg/apiclient"
	"github.com/cuemby/runpod-go/pkg/jobstate"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	fn func(ctx context.Context, handler runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, handler runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error) {
	return f.fn(ctx, handler, job)
}

func newTestJobState(t *testing.T) *jobstate.JobState {
	t.Helper()
	js, err := jobstate.New(filepath.Join(t.TempDir(), "checkpoint.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = js.Close() })
	return js
}

func TestScaler_ProcessesOneJobThenReleasesPermit(t *testing.T) {
	var fetched int32
	var posted struct {
		sync.Mutex
		body map[string]interface{}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			if atomic.AddInt32(&fetched, 1) == 1 {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(runpodtypes.Job{ID: "job-1", Input: []byte(`{"value":42}`)})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost:
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			posted.Lock()
			posted.body = body
			posted.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := apiclient.New(apiclient.Endpoints{
		Fetch:  server.URL,
		Result: server.URL + "/result/$ID",
	}, "", "1.0.0", nil)

	js := newTestJobState(t)

	handler := runpodtypes.Sync(func(ctx context.Context, job *runpodtypes.Job) (*runpodtypes.Output, error) {
		return &runpodtypes.Output{Value: "processed-" + job.ID}, nil
	})
	exec := &fakeExecutor{fn: func(ctx context.Context, h runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error) {
		return h.Fn(ctx, job)
	}}

	s := New(Config{
		Concurrency: 1,
		Handler:     handler,
		Executor:    exec,
		Jobs:        js,
		Client:      client,
		Identity:    Identity{WorkerID: "w1", Hostname: "h1", Version: "1.0.0"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		posted.Lock()
		defer posted.Unlock()
		return posted.body != nil
	}, 2*time.Second, 10*time.Millisecond)

	posted.Lock()
	assert.Equal(t, "COMPLETED", posted.body["status"])
	assert.Equal(t, "processed-job-1", posted.body["output"])
	posted.Unlock()

	assert.Equal(t, 0, js.Count())
	assert.Equal(t, 1, len(s.tokens)) // permit restored

	cancel()
	<-done
}

func TestScaler_AdjustConcurrency(t *testing.T) {
	js := newTestJobState(t)
	client := apiclient.New(apiclient.Endpoints{}, "", "1.0.0", nil)
	exec := &fakeExecutor{}

	s := New(Config{
		Concurrency: 2,
		Handler:     runpodtypes.Sync(nil),
		Executor:    exec,
		Jobs:        js,
		Client:      client,
	})

	require.NoError(t, s.AdjustConcurrency(context.Background(), 4))
	assert.Equal(t, 4, s.currentConcurrency)
	assert.Equal(t, 4, len(s.tokens))

	require.NoError(t, s.AdjustConcurrency(context.Background(), 1))
	assert.Equal(t, 1, s.currentConcurrency)
	assert.Equal(t, 1, len(s.tokens))
}

func TestScaler_HandlerFailurePostsFailedResult(t *testing.T) {
	var fetched int32
	var posted map[string]interface{}
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if atomic.AddInt32(&fetched, 1) == 1 {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(runpodtypes.Job{ID: "job-err"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		posted = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := apiclient.New(apiclient.Endpoints{Fetch: server.URL, Result: server.URL + "/result/$ID"}, "", "1.0.0", nil)
	js := newTestJobState(t)

	exec := &fakeExecutor{fn: func(ctx context.Context, h runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error) {
		return nil, assert.AnError
	}}

	s := New(Config{
		Concurrency: 1,
		Handler:     runpodtypes.Sync(nil),
		Executor:    exec,
		Jobs:        js,
		Client:      client,
		Identity:    Identity{WorkerID: "w1"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return posted != nil
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "FAILED", posted["status"])
	mu.Unlock()

	cancel()
	<-done
}

func TestScaler_PolicyFailurePostsFailedResultWithoutTraceback(t *testing.T) {
	var fetched int32
	var posted map[string]interface{}
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if atomic.AddInt32(&fetched, 1) == 1 {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(runpodtypes.Job{ID: "job-policy"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		posted = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := apiclient.New(apiclient.Endpoints{Fetch: server.URL, Result: server.URL + "/result/$ID"}, "", "1.0.0", nil)
	js := newTestJobState(t)

	exec := &fakeExecutor{fn: func(ctx context.Context, h runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error) {
		return &runpodtypes.Output{Error: "handler judged this a failure"}, nil
	}}

	s := New(Config{
		Concurrency: 1,
		Handler:     runpodtypes.Sync(nil),
		Executor:    exec,
		Jobs:        js,
		Client:      client,
		Identity:    Identity{WorkerID: "w1"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return posted != nil
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "FAILED", posted["status"])
	assert.Equal(t, "handler judged this a failure", posted["error"])
	metadata, ok := posted["error_metadata"].(map[string]interface{})
	require.True(t, ok)
	_, hasErrorType := metadata["error_type"]
	assert.False(t, hasErrorType, "policy failures have no synthetic error type")
	mu.Unlock()

	cancel()
	<-done
}

func TestScaler_RefreshWorkerStopsAcquisitionAfterJob(t *testing.T) {
	var fetched int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if atomic.AddInt32(&fetched, 1) == 1 {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(runpodtypes.Job{ID: "job-refresh"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := apiclient.New(apiclient.Endpoints{Fetch: server.URL, Result: server.URL + "/result/$ID"}, "", "1.0.0", nil)
	js := newTestJobState(t)

	exec := &fakeExecutor{fn: func(ctx context.Context, h runpodtypes.Handler, job *runpodtypes.Job) (*runpodtypes.Output, error) {
		return &runpodtypes.Output{Value: "done", RefreshWorker: true}, nil
	}}

	s := New(Config{
		Concurrency:   1,
		Handler:       runpodtypes.Sync(nil),
		Executor:      exec,
		Jobs:          js,
		Client:        client,
		Identity:      Identity{WorkerID: "w1"},
		RefreshWorker: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		return !s.IsAlive()
	}, 2*time.Second, 10*time.Millisecond, "scaler did not stop after a refresh_worker job")

	assert.GreaterOrEqual(t, atomic.LoadInt32(&fetched), int32(1))

	cancel()
	<-done
}
