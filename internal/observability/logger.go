package observability

import (
	"github.com/rs/zerolog"

	logs "github.com/danmuck/healthmon/internal/logging"
)

// ComponentLogger returns the process logger tagged with component.
func ComponentLogger(component string) zerolog.Logger {
	return logs.Logger().With().Str("component", component).Logger()
}
