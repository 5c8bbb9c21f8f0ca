/*
Package log provides structured logging for the worker runtime using zerolog.

The package wraps zerolog with a global Logger instance, a small Config for
level/format/output selection, and component-scoped child logger helpers
(WithComponent, WithJobID) so that every
subsystem — jobstate, scaler, heartbeat, progress, executor — logs through the
same JSON or console pipeline without threading a logger through every call.

Initializing:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

Component loggers:

	scalerLog := log.WithComponent("scaler")
	scalerLog.Info().Str("job_id", job.ID).Msg("dispatched job")

JSONOutput controls whether logs are emitted as JSON lines (production) or a
human-readable console format (local development).
*/
package log
