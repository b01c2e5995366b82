/*
Package log provides structured logging for Zeta using zerolog.

The log package wraps zerolog to give every component JSON-structured
logging with a configurable level, console or JSON output, and helper
constructors for component- and function-scoped child loggers.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	reaperLog := log.WithComponent("reaper")
	reaperLog.Info().Str("function", name).Msg("reaping idle container")

	fnLog := log.WithFunction("echo")
	fnLog.Warn().Err(err).Msg("cold start timed out")

# Design

A single package-level zerolog.Logger is initialized once via Init and read
by every other package without being passed around explicitly. Component
loggers (WithComponent, WithFunction, WithContainer) attach one contextual
field and return a detached zerolog.Logger value; callers add further fields
with the usual zerolog chaining.
*/
package log
