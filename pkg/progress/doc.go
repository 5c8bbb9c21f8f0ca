/*
Package progress implements the worker's outbound progress-reporting path.

	Update()  ──▶ bounded chan  ──▶ background batcher ──▶ Sender.PostProgress
	 (non-blocking,                  flush on size OR
	  drop+warn if full)              flush_interval elapsed

A flush that fails retries with exponential backoff (100ms doubling to a
30s cap) up to a configured attempt count, then drops the batch and logs —
intermediate progress is best-effort by design, never a reason to block job
throughput. Stop drains whatever is still queued and performs one final
flush before returning.
*/
package progress
