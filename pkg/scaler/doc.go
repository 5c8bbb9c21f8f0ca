/*
Package scaler is the event-driven job acquisition loop: a counting
semaphore (a buffered channel of tokens) bounds how many jobs run
concurrently. The loop acquires a token, checks liveness, fetches a job,
and either releases the token and backs off (no job available) or spawns
processJob to own that token for the job's lifetime.

processJob runs register -> execute -> post outcome -> deregister -> release
with a defer-based guarantee that the token is released exactly once no
matter which of those steps fails — a handler error or a result-post
failure cannot leak a permit. A failed fetch never reaches processJob: the
acquisition loop returns that token itself before backing off.

AdjustConcurrency changes the semaphore's capacity live: scaling up
releases permits immediately, scaling down takes the free surplus permits
at once and claims the rest in the background as jobs already in flight
return them, without waiting on those jobs. A background goroutine polls the caller's
runpodtypes.ConcurrencyModifier every five seconds and applies any change.
*/
package scaler
