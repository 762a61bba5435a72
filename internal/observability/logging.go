package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a structured JSON logger for one component.
// Level comes from STABLE_LOG_LEVEL (default info). When STABLE_LOG_FILE is
// set, lines are also written to that file with size-based rotation.
func NewLogger(component string) zerolog.Logger {
	level := parseLogLevel(os.Getenv("STABLE_LOG_LEVEL"))
	return newLogger(logOutput(os.Getenv("STABLE_LOG_FILE")), component, level)
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

var (
	rotatingMu sync.Mutex
	rotating   = map[string]*lumberjack.Logger{}
)

func logOutput(path string) io.Writer {
	if path == "" {
		return os.Stdout
	}
	// One rotator per file, shared by every component logger
	rotatingMu.Lock()
	defer rotatingMu.Unlock()
	file, ok := rotating[path]
	if !ok {
		file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		rotating[path] = file
	}
	return zerolog.MultiLevelWriter(os.Stdout, file)
}

func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
