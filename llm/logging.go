package llm

import (
	"log/slog"

	"github.com/ternlabs/tern/internal/logging"
)

// SetLogLevel sets the log level for the entire runtime. This affects all
// provider adapters and is global to the process.
//
// This can also be controlled via the TERN_DEBUG environment variable:
//
//	TERN_DEBUG=0  # Error level
//	TERN_DEBUG=1  # Warn level (default)
//	TERN_DEBUG=2  # Info level
//	TERN_DEBUG=3  # Debug level
func SetLogLevel(level slog.Level) {
	logging.SetLogLevel(level)
}
