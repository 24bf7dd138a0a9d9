package loader

import (
	"log/slog"
	"runtime"
)

type options struct {
	logger      *slog.Logger
	threads     int
	osmTags     []string
	sqliteQuery string
	progress    bool
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

// WithThreads sets the number of OSM PBF decoders. Default: GOMAXPROCS
func WithThreads(n int) Option {
	return optionFunc(func(o *options) {
		o.threads = n
	})
}

// WithOSMTags keeps only nodes carrying at least one of keys. Default: any tag
func WithOSMTags(keys ...string) Option {
	return optionFunc(func(o *options) {
		o.osmTags = keys
	})
}

// WithSQLiteQuery sets the query a SQLite source is read with. It must
// return lng, lat and a JSON object of properties, any of them may be NULL.
func WithSQLiteQuery(query string) Option {
	return optionFunc(func(o *options) {
		o.sqliteQuery = query
	})
}

// WithProgress draws a progress bar on stderr while scanning large inputs.
func WithProgress(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.progress = enabled
	})
}

const DefaultSQLiteQuery = "SELECT lng, lat, properties FROM points ORDER BY rowid"

func loadOptions(opts ...Option) options {
	o := options{
		logger:      slog.Default(),
		threads:     runtime.GOMAXPROCS(0),
		sqliteQuery: DefaultSQLiteQuery,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.threads <= 0 {
		o.threads = 1
	}
	return o
}
