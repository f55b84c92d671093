/*
Package log provides structured logging for Relay using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initializing the logger:

	import "github.com/meshworks/relay/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Component loggers:

	busLog := log.WithComponent("bus")
	busLog.Info().Int("subscribers", n).Msg("bus started")

	connLog := log.WithConnectorID("cam-7")
	connLog.Error().Err(err).Msg("connect failed")

Connector drivers receive a scoped child logger from the registry at
construction time; they never log through the registry itself.

# Integration Points

  - pkg/registry: per-instance scoped loggers
  - pkg/bus: delivery and overflow logging
  - pkg/engine: rule evaluation and action failures
  - pkg/supervisor: boot, reconnection and shutdown progress
*/
package log
