/*
Package heartbeat advertises worker liveness with a periodic GET to the
control plane's ping endpoint, carrying the job ids currently in flight
(read directly from jobstate.JobState, no file I/O).

A failed ping backs off exponentially (1s doubling to a 60s cap) and resets
to the base interval on the next success; the control plane treats a
prolonged ping absence, not an explicit error code, as the liveness signal,
so a failed ping is logged and retried rather than propagated.
*/
package heartbeat
