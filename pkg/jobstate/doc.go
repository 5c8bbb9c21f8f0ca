/*
Package jobstate tracks which jobs are currently in flight on this worker and
checkpoints that set to disk so a restarted worker or a crash-recovery
sidecar can see it without holding a lock on the live map. The heartbeat
does not use the file; it reads ListIDs from memory.

	┌────────────────────────────────────────────┐
	│                 JobState                    │
	│  jobs map[string]Job   (sync.RWMutex)       │
	│  dirty bool                                 │
	└───────────────┬──────────────────────────────┘
	                │ ticker (checkpointInterval)
	                ▼
	        snapshot under lock, clear dirty
	                │
	                ▼
	          bbolt "jobs" bucket, one key per job ID

Add/Remove flip the dirty flag; the checkpoint loop only writes when dirty,
so an idle worker never touches disk. bbolt's own transaction boundary gives
the atomic-write and cross-process advisory-lock behavior a hand-rolled
temp-file-plus-rename would otherwise need.
*/
package jobstate
