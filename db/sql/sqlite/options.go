package sqlite

import "time"

// Options configures the embedded SQLite database.
type Options struct {
	// Path is a file name or ":memory:".
	Path string
	// BusyTimeout is how long a statement waits on a locked database file.
	BusyTimeout time.Duration
}

type Option func(*Options)

func WithPath(path string) Option {
	return func(o *Options) {
		if path != "" {
			o.Path = path
		}
	}
}

func WithBusyTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.BusyTimeout = d
		}
	}
}

func defaultOptions() Options {
	return Options{
		Path:        MemoryPath,
		BusyTimeout: 5 * time.Second,
	}
}
