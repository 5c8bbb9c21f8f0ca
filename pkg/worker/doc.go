/*
Package worker is the orchestrator that resolves Config from the process
environment, wires jobstate -> executor -> progress -> heartbeat -> scaler,
runs any registered pre-start fitness checks, and drives the process through
its lifecycle:

 1. Resolve Config (fatal if RUNPOD_WEBHOOK_GET_JOB is unset).
 2. Run fitness checks; exit non-zero on the first failure.
 3. Open the checkpoint store, load prior state, start checkpointing.
 4. Start the progress pipeline and heartbeat (if their URLs are configured).
 5. Run the scaler until SIGINT/SIGTERM.
 6. Tear down in the canonical order: heartbeat, progress (final flush),
    checkpointing (final snapshot), executor pool, HTTP client.

Run installs signal handling via signal.NotifyContext rather than a
hand-rolled os/signal channel, the idiomatic Go replacement for the
cooperative shutdown-event pattern this is modeled on.
*/
package worker
