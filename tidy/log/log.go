// Package log holds the process-wide CLI logger, configured from the log-* settings.
package log

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gammadia/tidymodels/tidy/flags"
	"github.com/spf13/viper"
)

// Base carries no attributes. Libraries derive their loggers from it.
var Base = slog.New(slog.DiscardHandler)

// cli tags the messages of the commands themselves.
var cli = Base

// Init replaces the loggers with one writing to w.
func Init(w io.Writer) error {
	handler, err := newHandler(w)
	if err != nil {
		return err
	}

	Base = slog.New(handler)
	cli = Base.With("component", "tidy")
	return nil
}

func newHandler(w io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString(flags.LogLevel))); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}
	options := &slog.HandlerOptions{AddSource: viper.GetBool(flags.LogSource), Level: level}

	switch format := viper.GetString(flags.LogFormat); format {
	case "json":
		return slog.NewJSONHandler(w, options), nil
	case "text":
		return slog.NewTextHandler(w, options), nil
	default:
		return nil, fmt.Errorf("unknown log format '%s'", format)
	}
}

func Info(msg string, args ...any) {
	cli.Info(msg, args...)
}

func Error(msg string, args ...any) {
	cli.Error(msg, args...)
}
