// Package apiclient implements the five HTTP contracts a worker exchanges
// with the control plane: fetch, result POST, stream POST, ping GET, and
// progress POST. A single shared http.Client backs every call, matching the
// teacher's shared-connection-pool convention in pkg/client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/metrics"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"
)

// ErrNoJob is returned by Fetch when the control plane has no job ready
// (a 204 or 400 response — flash-boot's "expected no-job" case).
var ErrNoJob = fmt.Errorf("apiclient: no job available")

// Endpoints holds the five URL templates resolved once at startup, with
// $RUNPOD_POD_ID and $RUNPOD_GPU_TYPE_ID already substituted. $ID is
// substituted per job by withJobID.
type Endpoints struct {
	Fetch    string
	Result   string
	Stream   string
	Ping     string
	Progress string
}

// Client is the authenticated HTTP client used by every outbound call to
// the control plane.
type Client struct {
	httpClient *http.Client
	endpoints  Endpoints
	apiKey     string
	version    string
}

// New builds a Client. httpClient may be nil, in which case a client with an
// unbounded connection pool and no overall timeout (per-request timeouts are
// applied via context) is used.
func New(endpoints Endpoints, apiKey, version string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		endpoints:  endpoints,
		apiKey:     apiKey,
		version:    version,
	}
}

func withJobID(tmpl, jobID string) string {
	return strings.ReplaceAll(tmpl, "$ID", jobID)
}

func (c *Client) authHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Fetch performs GET <job_fetch_url>?job_in_progress={0,1}. It returns
// ErrNoJob on 204/400 (flash-boot's "no job now" response), and a non-nil
// error on any other status than 200.
func (c *Client) Fetch(ctx context.Context, jobInProgress bool) (*runpodtypes.Job, error) {
	u, err := url.Parse(c.endpoints.Fetch)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse fetch url: %w", err)
	}
	q := u.Query()
	if jobInProgress {
		q.Set("job_in_progress", "1")
	} else {
		q.Set("job_in_progress", "0")
	}
	u.RawQuery = q.Encode()

	timer := metrics.NewTimer()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: build fetch request: %w", err)
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues("fetch", "error").Inc()
		return nil, fmt.Errorf("apiclient: fetch: %w", err)
	}
	defer resp.Body.Close()
	timer.ObserveDurationVec(metrics.APIRequestDuration, "fetch")
	metrics.APIRequestsTotal.WithLabelValues("fetch", strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusBadRequest:
		return nil, ErrNoJob
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("apiclient: fetch returned status %d", resp.StatusCode)
	}

	var job runpodtypes.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("apiclient: decode fetch response: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("apiclient: fetched job missing id")
	}
	return &job, nil
}

// PostResult POSTs the final outcome of a job to the result endpoint.
func (c *Client) PostResult(ctx context.Context, jobID string, payload runpodtypes.ResultPayload) error {
	body := struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		runpodtypes.ResultPayload
	}{
		JobID:         jobID,
		ResultPayload: payload,
	}
	if payload.Error != "" {
		body.Status = "FAILED"
	} else {
		body.Status = "COMPLETED"
	}
	return c.postJSON(ctx, "result", withJobID(c.endpoints.Result, jobID), jobID, body)
}

// PostStreamChunk POSTs one in-progress chunk to the stream endpoint.
func (c *Client) PostStreamChunk(ctx context.Context, jobID string, chunk interface{}) error {
	body := runpodtypes.StreamPayload{JobID: jobID, Output: chunk, Status: "IN_PROGRESS"}
	return c.postJSON(ctx, "stream", withJobID(c.endpoints.Stream, jobID), jobID, body)
}

// PostStreamFinal POSTs the terminal stream record.
func (c *Client) PostStreamFinal(ctx context.Context, jobID string, aggregate interface{}) error {
	body := runpodtypes.StreamPayload{JobID: jobID, Output: aggregate, Status: "COMPLETED"}
	return c.postJSON(ctx, "stream", withJobID(c.endpoints.Stream, jobID), jobID, body)
}

// Ping performs GET <ping_url>?job_id=<ids>&runpod_version=<v>.
func (c *Client) Ping(ctx context.Context, jobIDs []string) error {
	u, err := url.Parse(c.endpoints.Ping)
	if err != nil {
		return fmt.Errorf("apiclient: parse ping url: %w", err)
	}
	q := u.Query()
	q.Set("job_id", strings.Join(jobIDs, ","))
	q.Set("runpod_version", c.version)
	u.RawQuery = q.Encode()

	timer := metrics.NewTimer()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("apiclient: build ping request: %w", err)
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues("ping", "error").Inc()
		return fmt.Errorf("apiclient: ping: %w", err)
	}
	defer resp.Body.Close()
	timer.ObserveDurationVec(metrics.APIRequestDuration, "ping")
	metrics.APIRequestsTotal.WithLabelValues("ping", strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("apiclient: ping returned status %d", resp.StatusCode)
	}
	return nil
}

// PostProgress POSTs a batch of progress updates.
func (c *Client) PostProgress(ctx context.Context, updates []runpodtypes.ProgressEntry) error {
	body := runpodtypes.ProgressBatchPayload{Updates: updates}
	return c.postJSON(ctx, "progress", c.endpoints.Progress, "", body)
}

func (c *Client) postJSON(ctx context.Context, endpointLabel, rawURL, jobID string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("apiclient: marshal %s payload: %w", endpointLabel, err)
	}

	timer := metrics.NewTimer()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("apiclient: build %s request: %w", endpointLabel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if jobID != "" {
		req.Header.Set("X-Request-ID", jobID)
	}
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(endpointLabel, "error").Inc()
		return fmt.Errorf("apiclient: %s: %w", endpointLabel, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	timer.ObserveDurationVec(metrics.APIRequestDuration, endpointLabel)
	metrics.APIRequestsTotal.WithLabelValues(endpointLabel, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("apiclient: %s returned status %d", endpointLabel, resp.StatusCode)
	}

	log.WithComponent("apiclient").Debug().
		Str("endpoint", endpointLabel).Dur("duration", timer.Duration()).Msg("posted")
	return nil
}

// ResolveEndpoints substitutes $RUNPOD_POD_ID and $RUNPOD_GPU_TYPE_ID into
// all five URL templates, once, at startup.
func ResolveEndpoints(fetch, result, stream, ping, progress, podID, gpuTypeID string) Endpoints {
	substitute := func(tmpl string) string {
		tmpl = strings.ReplaceAll(tmpl, "$RUNPOD_POD_ID", podID)
		tmpl = strings.ReplaceAll(tmpl, "$RUNPOD_GPU_TYPE_ID", gpuTypeID)
		return tmpl
	}
	return Endpoints{
		Fetch:    substitute(fetch),
		Result:   substitute(result),
		Stream:   substitute(stream),
		Ping:     substitute(ping),
		Progress: substitute(progress),
	}
}

// DefaultHTTPClient returns an http.Client with an unbounded connection pool
// (MaxIdleConnsPerHost raised) and no blanket timeout — callers apply
// per-request deadlines via context, per the shared-resource policy.
func DefaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 100
	transport.MaxIdleConns = 100
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: transport}
}
