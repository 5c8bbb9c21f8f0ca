/*
Package apiclient implements the worker side of the five control-plane HTTP
contracts: fetch (GET), result POST, stream POST, ping (GET), and progress
POST. One Client wraps a shared *http.Client; every call takes a context for
its deadline rather than relying on a client-wide timeout, matching the
teacher's per-request-timeout convention in pkg/client.

ResolveEndpoints performs the one-time $RUNPOD_POD_ID / $RUNPOD_GPU_TYPE_ID
substitution on the URL templates read from the environment; withJobID
performs the per-job $ID substitution at send time.

Fetch treats a 204 or 400 response as ErrNoJob rather than an error — the
control plane's flash-boot optimization for "no job ready yet".
*/
package apiclient
