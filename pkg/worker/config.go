package worker

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config is the worker's environment-resolved configuration, read once at
// process start from the RUNPOD_* environment variables.
type Config struct {
	JobFetchURL string
	ResultURL   string
	StreamURL   string
	PingURL     string
	ProgressURL string

	PodID     string
	GPUTypeID string

	PingInterval time.Duration

	Concurrency int
	MaxWorkers  int

	CheckpointPath     string
	CheckpointInterval time.Duration

	ProgressBatchSize     int
	ProgressFlushInterval time.Duration
	ProgressMaxRetries    int
	ProgressMaxQueueSize  int

	ReturnAggregateStream bool
	RefreshWorker         bool

	APIKey  string
	Version string
}

// LoadConfig resolves Config from the process environment, applying defaults
// for everything but the job-fetch URL. It returns an error if
// RUNPOD_WEBHOOK_GET_JOB is unset, since there is no way to fetch jobs
// without it.
func LoadConfig(version string) (Config, error) {
	fetchURL := os.Getenv("RUNPOD_WEBHOOK_GET_JOB")
	if fetchURL == "" {
		return Config{}, fmt.Errorf("worker: RUNPOD_WEBHOOK_GET_JOB must be set")
	}

	cfg := Config{
		JobFetchURL: fetchURL,
		ResultURL:   os.Getenv("RUNPOD_WEBHOOK_POST_OUTPUT"),
		StreamURL:   os.Getenv("RUNPOD_WEBHOOK_POST_STREAM"),
		PingURL:     os.Getenv("RUNPOD_WEBHOOK_PING"),
		ProgressURL: os.Getenv("RUNPOD_WEBHOOK_POST_OUTPUT"),

		PodID:     envOr("RUNPOD_POD_ID", "unknown"),
		GPUTypeID: envOr("RUNPOD_GPU_TYPE_ID", "unknown"),

		PingInterval: time.Duration(envInt("RUNPOD_PING_INTERVAL", 10000)) * time.Millisecond,

		Concurrency: envInt("RUNPOD_CONCURRENCY", 1),
		MaxWorkers:  envInt("RUNPOD_MAX_WORKERS", runtime.NumCPU()),

		CheckpointPath:     envOr("RUNPOD_CHECKPOINT_PATH", "/tmp/runpod-jobs.db"),
		CheckpointInterval: time.Duration(envInt("RUNPOD_CHECKPOINT_INTERVAL", 5)) * time.Second,

		ProgressBatchSize:     envInt("RUNPOD_PROGRESS_BATCH_SIZE", 10),
		ProgressFlushInterval: time.Duration(envFloatMillis("RUNPOD_PROGRESS_FLUSH_INTERVAL", 1.0)) * time.Millisecond,
		ProgressMaxRetries:    envInt("RUNPOD_PROGRESS_MAX_RETRIES", 5),
		ProgressMaxQueueSize:  envInt("RUNPOD_PROGRESS_MAX_QUEUE_SIZE", 1000),

		RefreshWorker: envBool("RUNPOD_REFRESH_WORKER", false),

		APIKey:  os.Getenv("RUNPOD_AI_API_KEY"),
		Version: version,
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envFloatMillis parses a seconds-valued env var and returns milliseconds,
// preserving sub-second precision (e.g. "1.0" -> 1000).
func envFloatMillis(key string, fallbackSeconds float64) int {
	v := os.Getenv(key)
	seconds := fallbackSeconds
	if v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			seconds = f
		}
	}
	return int(seconds * 1000)
}
