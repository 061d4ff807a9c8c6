package output

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Log formats accepted by [NewLogger].
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLogger builds a structured logger writing to w. level is one of debug,
// info, warn or error; format is "text" or "json". Empty values mean info and
// text.
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", LogFormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}
