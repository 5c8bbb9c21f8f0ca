/*
Package executor dispatches runpodtypes.Handler values. The Handler.Kind
field — KindAsync or KindSync — is an explicit sum-type discriminant chosen
by the handler author at registration time (via runpodtypes.Async/Sync),
replacing reflection-based "is this a coroutine" sniffing: there is nothing
to sniff, the caller already knows.

KindAsync handlers run inline on the calling goroutine; they own any
concurrency they need. KindSync handlers are dispatched through a bounded
pool of tokens (a buffered channel), sized at runtime.NumCPU() by default or
RUNPOD_MAX_WORKERS when set, so a CPU-bound handler cannot starve the
process of goroutines backing other in-flight jobs.

Shutdown closes the executor; every Execute call after that returns
ErrShutdown immediately instead of blocking on a pool slot that will never
free.
*/
package executor
