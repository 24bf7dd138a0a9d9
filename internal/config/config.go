// Package config holds the YAML configuration of the supercluster binary.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/StuRuby/supercluster-annotation/loader"
	"github.com/StuRuby/supercluster-annotation/spatial"
	"github.com/StuRuby/supercluster-annotation/supercluster"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Cluster   Cluster   `yaml:"cluster"`
	Source    Source    `yaml:"source"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Server struct {
	Listen      string        `yaml:"listen"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	TileCache   bool          `yaml:"tile_cache"`
	LayerName   string        `yaml:"layer_name"`
}

type Cluster struct {
	MinZoom   int              `yaml:"min_zoom"`
	MaxZoom   int              `yaml:"max_zoom"`
	Radius    float64          `yaml:"radius"`
	Extent    float64          `yaml:"extent"`
	NodeSize  int              `yaml:"node_size"`
	Index     string           `yaml:"index"`
	Log       bool             `yaml:"log"`
	Aggregate []AggregateField `yaml:"aggregate"`
}

type AggregateField struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
}

type Source struct {
	SQLiteQuery string   `yaml:"sqlite_query"`
	OSMTags     []string `yaml:"osm_tags"`
	Threads     int      `yaml:"threads"`
}

type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

func DefaultConfig() Config {
	return Config{
		Server: Server{
			Listen:      ":8080",
			ReadTimeout: time.Minute,
			TileCache:   true,
			LayerName:   "clusters",
		},
		Cluster: Cluster{
			MinZoom:  0,
			MaxZoom:  16,
			Radius:   40,
			Extent:   512,
			NodeSize: 64,
			Index:    "kdbush",
		},
		Source: Source{
			SQLiteQuery: loader.DefaultSQLiteQuery,
		},
		Telemetry: Telemetry{
			ServiceName: "supercluster",
		},
	}
}

// Load reads path over the defaults. An empty path or an empty file yields
// the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	return decode(file, cfg)
}

func decode(r io.Reader, cfg Config) (Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}
	return cfg, nil
}

// ClusterOptions converts the cluster section to index options.
func (c Config) ClusterOptions() ([]supercluster.Option, error) {
	index, err := spatial.ByName(c.Cluster.Index)
	if err != nil {
		return nil, err
	}

	opts := []supercluster.Option{
		supercluster.WithZoomRange(c.Cluster.MinZoom, c.Cluster.MaxZoom),
		supercluster.WithRadius(c.Cluster.Radius),
		supercluster.WithExtent(c.Cluster.Extent),
		supercluster.WithNodeSize(c.Cluster.NodeSize),
		supercluster.WithLog(c.Cluster.Log),
		supercluster.WithIndex(index),
	}

	if len(c.Cluster.Aggregate) > 0 {
		agg := supercluster.FieldAggregator{}
		for _, f := range c.Cluster.Aggregate {
			op, err := supercluster.ParseReduction(f.Op)
			if err != nil {
				return nil, fmt.Errorf("aggregate field %q: %w", f.Field, err)
			}
			agg[f.Field] = op
		}
		opts = append(opts, supercluster.WithAggregator(agg))
	}

	return opts, nil
}

func (c Config) LoaderOptions() []loader.Option {
	opts := []loader.Option{
		loader.WithSQLiteQuery(c.Source.SQLiteQuery),
		loader.WithOSMTags(c.Source.OSMTags...),
	}
	if c.Source.Threads > 0 {
		opts = append(opts, loader.WithThreads(c.Source.Threads))
	}
	return opts
}
