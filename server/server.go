package server

import (
	"context"
	"fmt"
	stdlog "log"
	"log/slog"
	"net/http"
	"time"

	"github.com/fasthttp/router"
	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/StuRuby/supercluster-annotation/supercluster"
)

const MaxBodySize = 1000 * 1000 // 1MB, every endpoint is a GET

var (
	meter  = otel.Meter("github.com/StuRuby/supercluster-annotation/server")
	tracer = otel.Tracer("github.com/StuRuby/supercluster-annotation/server")
)

type Config struct {
	ReadTimeout time.Duration
	// TileCache keeps encoded vector tiles in memory, the index never changes
	// so entries never expire.
	TileCache bool
	LayerName string
}

func Run(ctx context.Context, address string, idx *supercluster.Index, cfg Config) error {
	log := slog.Default()

	s, err := newServer(idx, cfg)
	if err != nil {
		return err
	}

	server := &fasthttp.Server{
		ReadTimeout:        cfg.ReadTimeout,
		MaxRequestBodySize: MaxBodySize,
		Handler:            s.router().Handler,
	}

	go func() {
		log.Info("Server listening", "address", address)
		if err := server.ListenAndServe(address); err != nil && err != http.ErrServerClosed {
			stdlog.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Info("Server started")

	// wait cancel
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return server.ShutdownWithContext(shutdownCtx)
}

type server struct {
	idx *supercluster.Index
	cfg Config

	// nil value means the tile is empty
	tiles *xsync.MapOf[maptile.Tile, []byte]

	metricRequests  metric.Int64Counter
	metricTileCache metric.Int64Counter
	metricFeatures  metric.Int64Counter
}

func newServer(idx *supercluster.Index, cfg Config) (*server, error) {
	if cfg.LayerName == "" {
		cfg.LayerName = "clusters"
	}

	metricRequests, err := meter.Int64Counter("http_requests_total")
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}
	metricTileCache, err := meter.Int64Counter("tile_cache_hits_total")
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache counter: %w", err)
	}
	metricFeatures, err := meter.Int64Counter("features_returned_total")
	if err != nil {
		return nil, fmt.Errorf("failed to create features counter: %w", err)
	}

	return &server{
		idx:   idx,
		cfg:   cfg,
		tiles: xsync.NewMapOf[maptile.Tile, []byte](),

		metricRequests:  metricRequests,
		metricTileCache: metricTileCache,
		metricFeatures:  metricFeatures,
	}, nil
}

func (s *server) router() *router.Router {
	r := router.New()
	r.GET("/clusters", s.ClustersHandler)
	r.GET("/clusters/{id}/children", s.ChildrenHandler)
	r.GET("/clusters/{id}/leaves", s.LeavesHandler)
	r.GET("/clusters/{id}/expansion-zoom", s.ExpansionZoomHandler)
	r.GET("/tiles/{z}/{x}/{y}", s.TileHandler)
	r.GET("/mvt/{z}/{x}/{y}", s.VectorTileHandler)
	r.GET("/stats", s.StatsHandler)
	r.Handle(http.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	return r
}
