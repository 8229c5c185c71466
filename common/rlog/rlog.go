package rlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger zerolog.Logger
)

// errors
var (
	ErrInvalidFormat = errors.New("invalid log format")
)

func init() {
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Setup replaces the process logger.
// The format is "json" or "console", an empty level keeps info.
func Setup(level string, format string, w io.Writer) error {
	if w == nil {
		w = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if len(level) > 0 {
		l, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return errors.WithStack(err)
		}
		lvl = l
	}

	var out io.Writer
	switch strings.ToLower(format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stderr}
	case "json":
		out = w
	default:
		return errors.Wrap(ErrInvalidFormat, format)
	}

	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return nil
}

// Logger returns the process logger
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns a logger tagged with the component name
func With(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With().Str("component", component).Logger()
}

// Println writes an info line built like fmt.Sprintln
func Println(v ...interface{}) {
	l := Logger()
	l.Info().Msg(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Fatal writes the message and calls os.Exit(1)
func Fatal(v ...interface{}) {
	l := Logger()
	l.Fatal().Msg(fmt.Sprint(v...))
}
