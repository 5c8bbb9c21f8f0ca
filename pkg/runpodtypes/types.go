// Package runpodtypes holds the value types shared across the worker
// runtime: the job itself, the handler contract, and the wire shapes
// exchanged with the control plane.
package runpodtypes

import (
	"context"
	"encoding/json"
	"time"
)

// Job is a unit of work fetched from the control plane. Two Jobs are equal
// if and only if their IDs are equal.
type Job struct {
	ID      string          `json:"id"`
	Input   json.RawMessage `json:"input"`
	Webhook string          `json:"webhook,omitempty"`
}

// Kind discriminates how a Handler should be dispatched by pkg/executor.
// This replaces the reflection-based asyncio.iscoroutinefunction sniffing
// the runtime this is modeled on uses: callers state the kind explicitly
// via the Async/Sync constructors.
type Kind int

const (
	// KindSync handlers run on the bounded worker pool.
	KindSync Kind = iota
	// KindAsync handlers run inline on the calling goroutine; the handler
	// itself is responsible for any concurrency it needs (e.g. spawning
	// its own goroutines and waiting on ctx).
	KindAsync
)

// HandlerFunc is the user-supplied job handler.
type HandlerFunc func(ctx context.Context, job *Job) (*Output, error)

// Handler pairs a HandlerFunc with its dispatch Kind.
type Handler struct {
	Kind Kind
	Fn   HandlerFunc
}

// Async builds a Handler that executor.Execute runs inline.
func Async(fn HandlerFunc) Handler {
	return Handler{Kind: KindAsync, Fn: fn}
}

// Sync builds a Handler that executor.Execute runs on the worker pool.
func Sync(fn HandlerFunc) Handler {
	return Handler{Kind: KindSync, Fn: fn}
}

// StreamChunk is one element of a streaming handler's output.
type StreamChunk struct {
	Data interface{}
	Err  error
}

// Output is the result of running a Handler. A non-nil Stream marks this as
// a streaming (generator-style) handler: the scaler drains Stream and posts
// each chunk to the stream endpoint instead of posting Output.Value once to
// the result endpoint.
//
// Error is the non-exception failure path: a handler that wants to report a
// FAILED outcome without returning a Go error (the policy-FAILED case, where
// the handler runs to completion but judges its own result a failure) sets
// Error instead. The scaler treats a non-empty Error exactly like a returned
// error, but without synthetic error-type/traceback metadata since none was
// raised. RefreshWorker, when the worker's global RefreshWorker config is
// also enabled, tells the scaler to stop accepting new jobs once this job's
// outcome has been posted.
type Output struct {
	Value         interface{}
	Error         string
	RefreshWorker bool
	Stream        <-chan StreamChunk
}

// ConcurrencyModifier is polled periodically by the scaler to adjust how
// many jobs may run concurrently. Returning the same value as current is a
// no-op.
type ConcurrencyModifier func(current int) int

// defaultConcurrencyModifier leaves concurrency unchanged.
func defaultConcurrencyModifier(current int) int { return current }

// DefaultConcurrencyModifier is used when a WorkerConfig does not supply one.
var DefaultConcurrencyModifier ConcurrencyModifier = defaultConcurrencyModifier

// ProgressUpdate is one user-reported progress event for a job in flight.
type ProgressUpdate struct {
	JobID     string      `json:"job_id"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"-"`
}

// ResultPayload is the JSON body posted to the result endpoint.
type ResultPayload struct {
	Output        interface{}    `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorMetadata *ErrorMetadata `json:"error_metadata,omitempty"`
	RefreshWorker bool           `json:"refresh_worker,omitempty"`
}

// ErrorMetadata accompanies a FAILED result, identifying both the failure
// and the worker instance that produced it.
type ErrorMetadata struct {
	ErrorType      string `json:"error_type,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ErrorTraceback string `json:"error_traceback,omitempty"`
	WorkerID       string `json:"worker_id,omitempty"`
	Hostname       string `json:"hostname,omitempty"`
	Version        string `json:"version,omitempty"`
}

// StreamPayload is the JSON body posted to the stream endpoint, one per
// chunk. Status is "IN_PROGRESS" for every chunk and "COMPLETED" for the
// separate terminal record posted after the last chunk.
type StreamPayload struct {
	JobID  string      `json:"job_id"`
	Output interface{} `json:"output,omitempty"`
	Status string      `json:"status"`
}

// ProgressBatchPayload batches ProgressUpdates for the progress endpoint.
type ProgressBatchPayload struct {
	Updates []ProgressEntry `json:"updates"`
}

// ProgressEntry is the wire shape of a single ProgressUpdate.
type ProgressEntry struct {
	JobID     string      `json:"job_id"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}
