package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/runpod-go/pkg/runpodtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_ReturnsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(runpodtypes.Job{ID: "job-1", Input: []byte(`{"x":1}`)})
	}))
	defer server.Close()

	c := New(Endpoints{Fetch: server.URL}, "test-key", "1.0.0", nil)
	job, err := c.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
}

func TestFetch_NoContentIsErrNoJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(Endpoints{Fetch: server.URL}, "", "1.0.0", nil)
	_, err := c.Fetch(context.Background(), false)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestFetch_ServerErrorIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(Endpoints{Fetch: server.URL}, "", "1.0.0", nil)
	_, err := c.Fetch(context.Background(), false)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoJob)
}

func TestPostResult_SubstitutesJobIDAndSetsHeader(t *testing.T) {
	var gotPath, gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRequestID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Endpoints{Result: server.URL + "/result/$ID"}, "", "1.0.0", nil)
	err := c.PostResult(context.Background(), "job-42", runpodtypes.ResultPayload{Output: "done"})
	require.NoError(t, err)
	assert.Equal(t, "/result/job-42", gotPath)
	assert.Equal(t, "job-42", gotRequestID)
}

func TestPing_SendsJobIDsAndVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "job-1,job-2", r.URL.Query().Get("job_id"))
		assert.Equal(t, "1.2.3", r.URL.Query().Get("runpod_version"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Endpoints{Ping: server.URL}, "", "1.2.3", nil)
	err := c.Ping(context.Background(), []string{"job-1", "job-2"})
	require.NoError(t, err)
}

func TestPostProgress_SendsBatch(t *testing.T) {
	var got runpodtypes.ProgressBatchPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Endpoints{Progress: server.URL}, "", "1.0.0", nil)
	err := c.PostProgress(context.Background(), []runpodtypes.ProgressEntry{{JobID: "job-1", Data: "50%"}})
	require.NoError(t, err)
	require.Len(t, got.Updates, 1)
	assert.Equal(t, "job-1", got.Updates[0].JobID)
}

func TestResolveEndpoints_SubstitutesPodAndGPU(t *testing.T) {
	endpoints := ResolveEndpoints(
		"https://api/$RUNPOD_POD_ID/job-take",
		"https://api/$RUNPOD_POD_ID/result/$ID",
		"https://api/$RUNPOD_POD_ID/stream/$ID",
		"https://api/$RUNPOD_POD_ID/ping",
		"https://api/$RUNPOD_POD_ID/progress",
		"pod-123",
		"gpu-a100",
	)
	assert.Equal(t, "https://api/pod-123/job-take", endpoints.Fetch)
	assert.Equal(t, "https://api/pod-123/result/$ID", endpoints.Result)
}
