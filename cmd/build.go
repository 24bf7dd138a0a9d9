package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/urfave/cli/v3"

	"github.com/StuRuby/supercluster-annotation/internal/config"
	"github.com/StuRuby/supercluster-annotation/internal/sample"
	"github.com/StuRuby/supercluster-annotation/internal/stats"
	"github.com/StuRuby/supercluster-annotation/loader"
	"github.com/StuRuby/supercluster-annotation/pointcache"
	"github.com/StuRuby/supercluster-annotation/server"
	"github.com/StuRuby/supercluster-annotation/supercluster"
)

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}

	if cmd.IsSet("min-zoom") {
		cfg.Cluster.MinZoom = cmd.Int("min-zoom")
	}
	if cmd.IsSet("max-zoom") {
		cfg.Cluster.MaxZoom = cmd.Int("max-zoom")
	}
	if cmd.IsSet("radius") {
		cfg.Cluster.Radius = cmd.Float("radius")
	}
	if cmd.IsSet("extent") {
		cfg.Cluster.Extent = cmd.Float("extent")
	}
	if cmd.IsSet("index") {
		cfg.Cluster.Index = cmd.String("index")
	}
	if cmd.IsSet("threads") {
		cfg.Source.Threads = cmd.Int("threads")
	}
	if cmd.IsSet("listen") {
		cfg.Server.Listen = cmd.String("listen")
	}
	return cfg, nil
}

// buildIndex loads the input and clusters it, sampling resource usage while
// doing so.
func buildIndex(ctx context.Context, input string, cfg config.Config) (*supercluster.Index, []*geojson.Feature, stats.Report, error) {
	log := slog.Default()

	clusterOpts, err := cfg.ClusterOptions()
	if err != nil {
		return nil, nil, stats.Report{}, err
	}

	collector, err := stats.NewCollector(100 * time.Millisecond)
	if err != nil {
		return nil, nil, stats.Report{}, err
	}
	collector.Start("load")

	features, err := loader.LoadFile(ctx, input, append(cfg.LoaderOptions(), loader.WithProgress(true))...)
	if err != nil {
		collector.Stop()
		return nil, nil, stats.Report{}, fmt.Errorf("failed to load %s: %w", input, err)
	}
	log.Info("Loaded features", "file", input, "count", humanize.Comma(int64(len(features))))

	collector.Mark("cluster")
	idx, err := supercluster.New(features, clusterOpts...)
	report := collector.Stop()
	if err != nil {
		return nil, nil, report, err
	}

	log.Info("Build finished", "points", humanize.Comma(int64(idx.Len())), "stats", report)
	logLevels(log, idx)

	return idx, features, report, nil
}

func logLevels(log *slog.Logger, idx *supercluster.Index) {
	opts := idx.Options()
	for z := opts.MinZoom; z <= opts.MaxZoom+1; z++ {
		points, clusters, ok := idx.LevelStats(z)
		if !ok {
			continue
		}
		log.Debug("Level", "zoom", z, "points", humanize.Comma(int64(points)), "clusters", humanize.Comma(int64(clusters)))
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	slog.Info("Building index")
	idx, _, _, err := buildIndex(ctx, cmd.String("input"), cfg)
	if err != nil {
		return err
	}

	return server.Run(ctx, cfg.Server.Listen, idx, server.Config{
		ReadTimeout: cfg.Server.ReadTimeout,
		TileCache:   cfg.Server.TileCache,
		LayerName:   cfg.Server.LayerName,
	})
}

func build(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	input := cmd.String("input")
	_, features, report, err := buildIndex(ctx, input, cfg)
	if err != nil {
		return err
	}

	if name := cmd.String("stats"); name != "" {
		if err := report.SaveToFile(name); err != nil {
			return err
		}
	}

	output := cmd.String("output")
	if loader.DetectFormat(output) != loader.FormatPointCache {
		output += ".pcache"
	}

	slog.Info("Saving point cache", "file", output)
	err = pointcache.SaveFile(output, features, pointcache.Metadata{
		Source:      input,
		DateCreated: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save points to file: %w", err)
	}

	if info, err := os.Stat(output); err == nil {
		slog.Info("Complete", "file", output, "size", humanize.IBytes(uint64(info.Size())))
	}
	return nil
}

func generateSample(ctx context.Context, cmd *cli.Command) error {
	bound, err := parseBound(cmd.String("bbox"))
	if err != nil {
		return err
	}
	distance := cmd.Float("distance")
	if distance <= 0 {
		return fmt.Errorf("distance must be positive, got %v", distance)
	}

	points := sample.Points(bound, distance, int64(cmd.Int("seed")))

	fc := geojson.NewFeatureCollection()
	fc.Features = sample.Features(points)
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if err := os.WriteFile(output, data, 0644); err != nil {
		return err
	}
	slog.Info("Sample written", "file", output, "points", humanize.Comma(int64(len(points))))
	return nil
}

func parseBound(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be west,south,east,north, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox component %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] >= v[2] || v[1] >= v[3] {
		return orb.Bound{}, fmt.Errorf("bbox %q is empty", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
