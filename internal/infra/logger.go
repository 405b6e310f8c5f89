package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger constructs a zerolog.Logger with sane defaults for the service.
// When logFile is set the JSON stream is also written to a rotated file.
func NewLogger(appEnv, logFile string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	var out io.Writer = os.Stdout
	if appEnv == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if logFile != "" {
		out = zerolog.MultiLevelWriter(out, newRotatingFile(logFile))
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func newRotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger
