package obs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Fields carries structured context for one log event.
type Fields map[string]any

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Setup configures the process logger. Level accepts the zerolog level
// names; pretty switches to the human-readable console writer for local
// runs. Unknown levels fall back to info.
func Setup(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func Info(event string, f Fields)  { emit(logger.Info(), event, f) }
func Error(event string, f Fields) { emit(logger.Error(), event, f) }
func Debug(event string, f Fields) { emit(logger.Debug(), event, f) }

func emit(ev *zerolog.Event, event string, f Fields) {
	if len(f) > 0 {
		ev = ev.Fields(map[string]any(f))
	}
	ev.Msg(event)
}
