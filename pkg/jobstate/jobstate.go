package jobstate

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"
	bolt "go.etcd.io/bbolt"
)

var jobsBucket = []byte("jobs")

// JobState is the in-memory registry of jobs currently in flight on this
// worker, checkpointed to a bbolt file on an interval.
type JobState struct {
	mu    sync.RWMutex
	jobs  map[string]runpodtypes.Job
	dirty bool

	db                 *bolt.DB
	checkpointInterval time.Duration
	started            bool
	stopCh             chan struct{}
	doneCh             chan struct{}
}

// New opens (or creates) the checkpoint file at path and returns a JobState
// ready for Load and StartCheckpointing. A checkpoint file that exists but
// cannot be opened (truncated, mid-write, foreign format) never prevents
// startup: it is quarantined next to path and a fresh file takes its place.
// If even that fails, New falls back to an in-memory-only JobState with
// checkpointing disabled rather than returning an error.
func New(path string, checkpointInterval time.Duration) (*JobState, error) {
	logger := log.WithComponent("jobstate")

	db, err := openCheckpoint(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("checkpoint file unusable, quarantining and starting fresh")

		quarantined := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
		if renameErr := os.Rename(path, quarantined); renameErr != nil {
			logger.Warn().Err(renameErr).Msg("failed to quarantine checkpoint file, running without checkpointing")
			return &JobState{
				jobs:               make(map[string]runpodtypes.Job),
				checkpointInterval: checkpointInterval,
			}, nil
		}

		db, err = openCheckpoint(path)
		if err != nil {
			logger.Warn().Err(err).Msg("fresh checkpoint file also unusable, running without checkpointing")
			return &JobState{
				jobs:               make(map[string]runpodtypes.Job),
				checkpointInterval: checkpointInterval,
			}, nil
		}
	}

	return &JobState{
		jobs:               make(map[string]runpodtypes.Job),
		db:                 db,
		checkpointInterval: checkpointInterval,
	}, nil
}

// openCheckpoint opens path as a bbolt file and ensures the jobs bucket
// exists, closing the handle on any failure along the way.
func openCheckpoint(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init checkpoint buckets: %w", err)
	}

	return db, nil
}

// Add registers a job as in flight.
func (js *JobState) Add(job runpodtypes.Job) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.jobs[job.ID] = job
	js.dirty = true
}

// Remove drops a job from the in-flight set.
func (js *JobState) Remove(jobID string) {
	js.mu.Lock()
	defer js.mu.Unlock()
	delete(js.jobs, jobID)
	js.dirty = true
}

// Contains reports whether jobID is currently in flight.
func (js *JobState) Contains(jobID string) bool {
	js.mu.RLock()
	defer js.mu.RUnlock()
	_, ok := js.jobs[jobID]
	return ok
}

// Count returns the number of jobs currently in flight.
func (js *JobState) Count() int {
	js.mu.RLock()
	defer js.mu.RUnlock()
	return len(js.jobs)
}

// ListIDs returns the IDs of all jobs currently in flight, used to build the
// job_id query parameter on ping requests.
func (js *JobState) ListIDs() []string {
	js.mu.RLock()
	defer js.mu.RUnlock()
	ids := make([]string, 0, len(js.jobs))
	for id := range js.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Load populates the in-memory set from the checkpoint file. A missing or
// corrupt entry is skipped, not fatal: an empty start is always valid. A nil
// db (checkpointing disabled after an unrecoverable open failure) is also a
// no-op.
func (js *JobState) Load() error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if js.db == nil {
		return nil
	}

	return js.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var job runpodtypes.Job
			if err := json.Unmarshal(v, &job); err != nil {
				log.WithComponent("jobstate").Warn().Err(err).
					Str("job_id", string(k)).Msg("skipping corrupt checkpoint entry")
				return nil
			}
			js.jobs[job.ID] = job
			return nil
		})
	})
}

// StartCheckpointing starts the background checkpoint loop. Calling it twice
// without an intervening StopCheckpointing logs a warning and is a no-op; so
// is calling it when checkpointing is disabled (no db).
func (js *JobState) StartCheckpointing() {
	js.mu.Lock()
	if js.db == nil {
		js.mu.Unlock()
		return
	}
	if js.started {
		js.mu.Unlock()
		log.WithComponent("jobstate").Warn().Msg("checkpoint loop already running")
		return
	}
	js.started = true
	js.stopCh = make(chan struct{})
	js.doneCh = make(chan struct{})
	js.mu.Unlock()

	go js.checkpointLoop()
}

// StopCheckpointing stops the loop, first writing one final checkpoint if the
// set changed since the last write.
func (js *JobState) StopCheckpointing() {
	js.mu.Lock()
	if !js.started {
		js.mu.Unlock()
		return
	}
	js.started = false
	stopCh := js.stopCh
	doneCh := js.doneCh
	js.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Close releases the underlying checkpoint file, if any.
func (js *JobState) Close() error {
	if js.db == nil {
		return nil
	}
	return js.db.Close()
}

func (js *JobState) checkpointLoop() {
	defer close(js.doneCh)

	ticker := time.NewTicker(js.checkpointInterval)
	defer ticker.Stop()

	logger := log.WithComponent("jobstate")

	for {
		select {
		case <-ticker.C:
			if err := js.maybeCheckpoint(); err != nil {
				logger.Warn().Err(err).Msg("checkpoint write failed")
			}
		case <-js.stopCh:
			if err := js.maybeCheckpoint(); err != nil {
				logger.Warn().Err(err).Msg("final checkpoint write failed")
			}
			return
		}
	}
}

// maybeCheckpoint writes a snapshot if the registry has changed since the
// last write; it is a no-op on an idle worker.
func (js *JobState) maybeCheckpoint() error {
	js.mu.Lock()
	if !js.dirty {
		js.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]runpodtypes.Job, len(js.jobs))
	for k, v := range js.jobs {
		snapshot[k] = v
	}
	js.dirty = false
	js.mu.Unlock()

	return js.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(jobsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(jobsBucket)
		if err != nil {
			return err
		}
		for id, job := range snapshot {
			data, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("marshal job %s: %w", id, err)
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}
