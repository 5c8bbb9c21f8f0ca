package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FailsWithoutFetchURL(t *testing.T) {
	t.Setenv("RUNPOD_WEBHOOK_GET_JOB", "")
	_, err := LoadConfig("1.0.0")
	assert.Error(t, err)
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	t.Setenv("RUNPOD_WEBHOOK_GET_JOB", "https://api.example.com/job-take")
	for _, key := range []string{
		"RUNPOD_WEBHOOK_POST_OUTPUT", "RUNPOD_WEBHOOK_POST_STREAM", "RUNPOD_WEBHOOK_PING",
		"RUNPOD_PING_INTERVAL", "RUNPOD_CONCURRENCY", "RUNPOD_MAX_WORKERS",
		"RUNPOD_CHECKPOINT_PATH", "RUNPOD_CHECKPOINT_INTERVAL",
		"RUNPOD_PROGRESS_BATCH_SIZE", "RUNPOD_PROGRESS_FLUSH_INTERVAL",
		"RUNPOD_POD_ID", "RUNPOD_GPU_TYPE_ID", "RUNPOD_REFRESH_WORKER",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig("1.0.0")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, "/tmp/runpod-jobs.db", cfg.CheckpointPath)
	assert.Equal(t, 5*time.Second, cfg.CheckpointInterval)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)
	assert.Equal(t, 10, cfg.ProgressBatchSize)
	assert.Equal(t, time.Second, cfg.ProgressFlushInterval)
	assert.Equal(t, "unknown", cfg.PodID)
	assert.False(t, cfg.RefreshWorker)
}

func TestLoadConfig_ReadsOverrides(t *testing.T) {
	t.Setenv("RUNPOD_WEBHOOK_GET_JOB", "https://api.example.com/job-take")
	t.Setenv("RUNPOD_CONCURRENCY", "8")
	t.Setenv("RUNPOD_POD_ID", "pod-123")
	t.Setenv("RUNPOD_PROGRESS_FLUSH_INTERVAL", "0.5")
	t.Setenv("RUNPOD_REFRESH_WORKER", "true")

	cfg, err := LoadConfig("1.0.0")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "pod-123", cfg.PodID)
	assert.Equal(t, 500*time.Millisecond, cfg.ProgressFlushInterval)
	assert.True(t, cfg.RefreshWorker)
}
