package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Default to console output with color
	install(consoleWriter(os.Stdout), zerolog.InfoLevel)
}

// SetLevel sets the log level
func SetLevel(levelStr string) {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		Log.Warn().Str("level", levelStr).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
	log.Logger = Log
}

// SetFormat switches between "console" and "json" output. JSON suits log
// collectors such as CloudWatch.
func SetFormat(format string) {
	SetOutput(os.Stdout, format)
}

// SetOutput rebuilds the logger writing to w in the given format.
func SetOutput(w io.Writer, format string) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		install(w, Log.GetLevel())
	case "", "console", "text":
		install(consoleWriter(w), Log.GetLevel())
	default:
		install(consoleWriter(w), Log.GetLevel())
		Log.Warn().Str("format", format).Msg("unknown log format, using console")
	}
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
	}
}

// install points both logger.Log and zerolog's global log.Logger at out.
func install(out io.Writer, level zerolog.Level) {
	Log = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
	log.Logger = Log
}
