package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cheggaaa/pb/v3/termutil"
	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/sourcegraph/conc/pool"
	"github.com/urfave/cli/v3"

	"github.com/StuRuby/supercluster-annotation/clusterid"
	"github.com/StuRuby/supercluster-annotation/mercator"
	"github.com/StuRuby/supercluster-annotation/server"
	"github.com/StuRuby/supercluster-annotation/supercluster"
)

func tiles(ctx context.Context, cmd *cli.Command) error {
	from, to := cmd.Int("from"), cmd.Int("to")
	if from < 0 || from > to || to > clusterid.MaxZoom {
		return fmt.Errorf("invalid zoom range [%d, %d]", from, to)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	idx, _, _, err := buildIndex(ctx, cmd.String("input"), cfg)
	if err != nil {
		return err
	}

	var candidates []maptile.Tile
	for z := from; z <= to; z++ {
		candidates = append(candidates, candidateTiles(idx, z)...)
	}
	slog.Info("Exporting tiles", "zooms", fmt.Sprintf("%d-%d", from, to), "candidates", humanize.Comma(int64(len(candidates))))

	threads := cfg.Source.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	bar := pb.StartNew(len(candidates))
	bar.Set("prefix", "tiles")
	bar.SetRefreshRate(time.Second * 5)
	if w, err := termutil.TerminalWidth(); w == 0 || err != nil {
		bar.SetTemplateString(`{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{percent . }} {{rtime . "ETA %s"}}` + "\n")
	}

	var written, size atomic.Int64
	out := cmd.String("output")
	p := pool.New().WithContext(ctx).WithMaxGoroutines(threads).WithCancelOnError()
	for _, t := range candidates {
		p.Go(func(ctx context.Context) error {
			defer bar.Increment()
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := exportTile(idx, t, out, cfg.Server.LayerName)
			if err != nil {
				return err
			}
			if n > 0 {
				written.Add(1)
				size.Add(int64(n))
			}
			return nil
		})
	}
	err = p.Wait()
	bar.Finish()
	if err != nil {
		return err
	}

	slog.Info("Tiles exported", "dir", out, "tiles", humanize.Comma(written.Load()), "size", humanize.IBytes(uint64(size.Load())))
	return nil
}

// exportTile writes t to dir/z/x/y.mvt and returns the number of bytes
// written, zero when the tile is empty.
func exportTile(idx *supercluster.Index, t maptile.Tile, dir, layerName string) (int, error) {
	tile, ok := idx.GetTile(int(t.Z), int(t.X), int(t.Y))
	if !ok {
		return 0, nil
	}
	data, err := server.EncodeVectorTile(tile, layerName, idx.Options().Extent)
	if err != nil {
		return 0, fmt.Errorf("tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}

	tileDir := filepath.Join(dir, strconv.Itoa(int(t.Z)), strconv.Itoa(int(t.X)))
	if err := os.MkdirAll(tileDir, 0755); err != nil {
		return 0, err
	}
	name := filepath.Join(tileDir, strconv.Itoa(int(t.Y))+".mvt")
	if err := os.WriteFile(name, data, 0644); err != nil {
		return 0, err
	}
	return len(data), nil
}

// candidateTiles lists the tiles at zoom z that hold a node of the level, and
// their neighbours, since tiles are padded by the cluster radius. Longitude
// wraps, so the neighbours of the first and last column wrap too.
func candidateTiles(idx *supercluster.Index, z int) []maptile.Tile {
	z2 := uint32(1) << uint32(z)
	world := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

	seen := map[maptile.Tile]struct{}{}
	for _, f := range idx.GetClusters(world, z) {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		x, y := mercator.Project(p)
		tx := tileIndex(x, z2)
		ty := tileIndex(y, z2)

		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				ny := int64(ty) + int64(dy)
				if ny < 0 || ny >= int64(z2) {
					continue
				}
				nx := (int64(tx) + int64(dx) + int64(z2)) % int64(z2)
				seen[maptile.New(uint32(nx), uint32(ny), maptile.Zoom(z))] = struct{}{}
			}
		}
	}

	result := make([]maptile.Tile, 0, len(seen))
	for t := range seen {
		result = append(result, t)
	}
	slices.SortFunc(result, func(a, b maptile.Tile) int {
		if a.X != b.X {
			return int(a.X) - int(b.X)
		}
		return int(a.Y) - int(b.Y)
	})
	return result
}

func tileIndex(v float64, z2 uint32) uint32 {
	i := math.Floor(v * float64(z2))
	return uint32(max(0, min(i, float64(z2-1))))
}
