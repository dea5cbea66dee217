/*
Package log provides structured logging for conduit using zerolog.

The log package wraps zerolog with a process-wide logger, a level switch and
child loggers that carry a component name or request/group identifiers.
Every package in conduit logs through it, so one Init call controls the
verbosity and format of the client, the retry engine and the progress hub
connection alike.

# Architecture

	┌──────────────────── LOGGING ─────────────────────────────┐
	│                                                            │
	│  log.Init(Config{Level, JSONOutput, Output})               │
	│        │                                                   │
	│        ▼                                                   │
	│  Global zerolog.Logger (stderr by default)                 │
	│        │                                                   │
	│        ├── WithComponent("client")    request lines        │
	│        ├── WithComponent("retry")     retry decisions      │
	│        ├── WithComponent("progress")  hub state changes    │
	│        ├── WithRequestID("…")         one HTTP exchange    │
	│        └── WithGroupID("…")           one migration group  │
	└────────────────────────────────────────────────────────────┘

Logs go to stderr because the CLI prints command results on stdout.

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	logger := log.WithComponent("progress")
	logger.Info().Str("state", "connected").Msg("Hub connection established")

Child loggers copy the global logger at construction time, so components
must be built after Init.
*/
package log
