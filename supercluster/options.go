package supercluster

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/StuRuby/supercluster-annotation/clusterid"
	"github.com/StuRuby/supercluster-annotation/spatial"
)

var ErrInvalidOptions = errors.New("invalid options")

// Config is the resolved set of options an Index was built with.
type Config struct {
	MinZoom  int
	MaxZoom  int
	Radius   float64 // merge radius in tile pixels
	Extent   float64 // tile size in pixels
	NodeSize int
	Log      bool
}

type options struct {
	Config

	aggregator Aggregator
	index      spatial.Builder
	logger     *slog.Logger
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) {
	f(o)
}

// Default: 0..16
func WithZoomRange(min, max int) Option {
	return optionFunc(func(o *options) {
		o.MinZoom = min
		o.MaxZoom = max
	})
}

// Default: 40
func WithRadius(radius float64) Option {
	return optionFunc(func(o *options) {
		o.Radius = radius
	})
}

// Default: 512
func WithExtent(extent float64) Option {
	return optionFunc(func(o *options) {
		o.Extent = extent
	})
}

// Default: 64
func WithNodeSize(size int) Option {
	return optionFunc(func(o *options) {
		o.NodeSize = size
	})
}

// WithLog enables timing records for every clustering pass.
func WithLog(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.Log = enabled
	})
}

func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = logger
	})
}

func WithAggregator(agg Aggregator) Option {
	return optionFunc(func(o *options) {
		o.aggregator = agg
	})
}

// WithIndex replaces the spatial index used for every level. Default: spatial.KDBush
func WithIndex(builder spatial.Builder) Option {
	return optionFunc(func(o *options) {
		o.index = builder
	})
}

func loadOptions(opts ...Option) (options, error) {
	o := options{
		Config: Config{
			MinZoom:  0,
			MaxZoom:  16,
			Radius:   40,
			Extent:   512,
			NodeSize: 64,
		},
		index:  spatial.KDBush,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.index == nil {
		o.index = spatial.KDBush
	}
	return o, o.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.MinZoom < 0 {
		errs = append(errs, fmt.Errorf("min zoom %d is negative", c.MinZoom))
	}
	if c.MinZoom > c.MaxZoom {
		errs = append(errs, fmt.Errorf("min zoom %d is greater than max zoom %d", c.MinZoom, c.MaxZoom))
	}
	if c.MaxZoom > clusterid.MaxZoom {
		errs = append(errs, fmt.Errorf("max zoom %d exceeds the supported maximum %d", c.MaxZoom, clusterid.MaxZoom))
	}
	if !(c.Radius > 0) {
		errs = append(errs, fmt.Errorf("radius must be positive, got %v", c.Radius))
	}
	if !(c.Extent > 0) {
		errs = append(errs, fmt.Errorf("extent must be positive, got %v", c.Extent))
	}
	if c.NodeSize <= 0 {
		errs = append(errs, fmt.Errorf("node size must be positive, got %d", c.NodeSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return nil
}
