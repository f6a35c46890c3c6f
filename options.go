package swiftybluetooth

import (
	"io"
	"log/slog"
)

type Options struct {
	// Logger receives debug records for state transitions, timeouts and
	// dropped notifications. Defaults to a discard logger.
	Logger *slog.Logger
}

func DefaultOptions() Options {
	return Options{}
}

func (options Options) withDefaults() Options {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return options
}
