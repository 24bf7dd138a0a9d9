package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	_ "net/http/pprof"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"

	"github.com/StuRuby/supercluster-annotation/internal/config"
	"github.com/StuRuby/supercluster-annotation/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &cli.Command{
		Name:  "supercluster",
		Usage: "hierarchical point clustering for web maps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:      "config",
				Aliases:   []string{"c"},
				Usage:     "YAML config file",
				TakesFile: true,
				Sources:   cli.EnvVars("SUPERCLUSTER_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log at debug level",
				Sources: cli.EnvVars("SUPERCLUSTER_VERBOSE"),
			},
			&cli.StringFlag{
				Name:    "pprof.listen",
				Usage:   "address of the pprof http server",
				Sources: cli.EnvVars("SUPERCLUSTER_PPROF_LISTEN"),
			},
			&cli.StringFlag{
				Name:      "cpuprofile",
				Usage:     "write a cpu profile to file",
				TakesFile: true,
				Sources:   cli.EnvVars("SUPERCLUSTER_CPUPROFILE"),
			},
			&cli.StringFlag{
				Name:      "memprofile",
				Usage:     "write a heap profile to file on exit",
				TakesFile: true,
				Sources:   cli.EnvVars("SUPERCLUSTER_MEMPROFILE"),
			},
		},
		Before: before,
		After:  after,
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "build an index and serve it over http",
				Flags: append(sourceFlags(),
					&cli.StringFlag{
						Name:    "listen",
						Aliases: []string{"l"},
						Usage:   "listen address, overrides server.listen",
						Sources: cli.EnvVars("SUPERCLUSTER_LISTEN"),
					},
				),
				Action: serve,
			},
			{
				Name:    "build",
				Aliases: []string{"b"},
				Usage:   "build an index, report its levels and save the points to a cache file",
				Flags: append(sourceFlags(),
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Usage:     "point cache file, compressed when it ends with .zst",
						Required:  true,
						TakesFile: true,
						Sources:   cli.EnvVars("SUPERCLUSTER_OUTPUT"),
					},
					&cli.StringFlag{
						Name:      "stats",
						Usage:     "write a resource usage report of the build to file",
						TakesFile: true,
						Sources:   cli.EnvVars("SUPERCLUSTER_STATS"),
					},
				),
				Action: build,
			},
			{
				Name:  "tiles",
				Usage: "export every non-empty tile as a mapbox vector tile",
				Flags: append(sourceFlags(),
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Usage:     "output directory, tiles are written to {z}/{x}/{y}.mvt",
						Required:  true,
						TakesFile: true,
						Sources:   cli.EnvVars("SUPERCLUSTER_OUTPUT"),
					},
					&cli.IntFlag{
						Name:    "from",
						Usage:   "first zoom to export",
						Value:   0,
						Sources: cli.EnvVars("SUPERCLUSTER_TILES_FROM"),
					},
					&cli.IntFlag{
						Name:    "to",
						Usage:   "last zoom to export",
						Value:   8,
						Sources: cli.EnvVars("SUPERCLUSTER_TILES_TO"),
					},
				),
				Action: tiles,
			},
			{
				Name:  "sample",
				Usage: "generate a poisson-disc sample of points as geojson",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Required:  true,
						TakesFile: true,
						Sources:   cli.EnvVars("SUPERCLUSTER_OUTPUT"),
					},
					&cli.StringFlag{
						Name:    "bbox",
						Usage:   "west,south,east,north",
						Value:   "-180,-85,180,85",
						Sources: cli.EnvVars("SUPERCLUSTER_SAMPLE_BBOX"),
					},
					&cli.FloatFlag{
						Name:    "distance",
						Usage:   "minimum distance between points in degrees",
						Value:   1,
						Sources: cli.EnvVars("SUPERCLUSTER_SAMPLE_DISTANCE"),
					},
					&cli.IntFlag{
						Name:    "seed",
						Value:   1,
						Sources: cli.EnvVars("SUPERCLUSTER_SAMPLE_SEED"),
					},
				},
				Action: generateSample,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// sourceFlags are shared by every command that builds an index.
func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:      "input",
			Aliases:   []string{"i"},
			Usage:     "geojson, osm.pbf, point cache or sqlite file",
			Required:  true,
			TakesFile: true,
			Sources:   cli.EnvVars("SUPERCLUSTER_INPUT"),
		},
		&cli.IntFlag{
			Name:        "threads",
			Aliases:     []string{"t"},
			DefaultText: "max",
			Sources:     cli.EnvVars("SUPERCLUSTER_THREADS"),
		},
		&cli.IntFlag{
			Name:    "min-zoom",
			Usage:   "overrides cluster.min_zoom",
			Sources: cli.EnvVars("SUPERCLUSTER_MIN_ZOOM"),
		},
		&cli.IntFlag{
			Name:    "max-zoom",
			Usage:   "overrides cluster.max_zoom",
			Sources: cli.EnvVars("SUPERCLUSTER_MAX_ZOOM"),
		},
		&cli.FloatFlag{
			Name:    "radius",
			Usage:   "overrides cluster.radius",
			Sources: cli.EnvVars("SUPERCLUSTER_RADIUS"),
		},
		&cli.FloatFlag{
			Name:    "extent",
			Usage:   "overrides cluster.extent",
			Sources: cli.EnvVars("SUPERCLUSTER_EXTENT"),
		},
		&cli.StringFlag{
			Name:    "index",
			Usage:   "spatial index, kdbush or qtree, overrides cluster.index",
			Sources: cli.EnvVars("SUPERCLUSTER_INDEX"),
		},
	}
}

var (
	telemetryClient *telemetry.Client
	cpuProfile      *os.File
)

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}

	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	telemetryClient, err = telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, level)
	if err != nil {
		return ctx, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	if pprofListen := cmd.String("pprof.listen"); pprofListen != "" {
		go func() {
			slog.Info("Starting pprof server", "address", pprofListen)
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				slog.Error("Error starting pprof server", "error", err)
			}
		}()
	}

	if name := cmd.String("cpuprofile"); name != "" {
		cpuProfile, err = os.Create(name)
		if err != nil {
			return ctx, fmt.Errorf("error creating cpu profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(cpuProfile); err != nil {
			return ctx, fmt.Errorf("error starting cpu profile: %w", err)
		}
	}

	return ctx, nil
}

func after(ctx context.Context, cmd *cli.Command) error {
	if cpuProfile != nil {
		pprof.StopCPUProfile()
		cpuProfile.Close()
	}

	if name := cmd.String("memprofile"); name != "" {
		if err := writeHeapProfile(name); err != nil {
			return fmt.Errorf("error writing heap profile: %w", err)
		}
	}

	if telemetryClient != nil {
		// the signal context may already be done
		shutdownCtx := context.WithoutCancel(ctx)
		if err := telemetryClient.Flush(shutdownCtx); err != nil {
			slog.Error("failed to flush telemetry", "error", err)
		}
		telemetryClient.Shutdown(shutdownCtx)
	}
	return nil
}

func writeHeapProfile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return pprof.WriteHeapProfile(f)
}
