package loader

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cheggaaa/pb/v3/termutil"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"golang.org/x/exp/mmap"
)

// LoadOSM reads tagged nodes from an OSM PBF extract. Ways and relations are
// skipped. Node tags become properties next to "osm_id".
func LoadOSM(ctx context.Context, name string, opts ...Option) ([]*geojson.Feature, error) {
	o := loadOptions(opts...)
	log := o.logger.With("file", name, "threads", o.threads)

	file, err := mmap.Open(name)
	if err != nil {
		return nil, fmt.Errorf("error opening osm file: %w", err)
	}
	defer file.Close()

	size := int64(file.Len())
	scanner := osmpbf.New(ctx, io.NewSectionReader(file, 0, size), o.threads)
	defer scanner.Close()
	scanner.SkipWays = true
	scanner.SkipRelations = true

	log.Info("Scanning osm nodes", "tags", o.osmTags)

	features := []*geojson.Feature{}
	it := func(object osm.Object) {
		node, ok := object.(*osm.Node)
		if !ok {
			return
		}
		if f, ok := nodeFeature(node, o.osmTags); ok {
			features = append(features, f)
		}
	}

	if o.progress {
		err = scanWithProgress(scanner, size, "scanning nodes", it)
	} else {
		for scanner.Scan() {
			it(scanner.Object())
		}
		err = scanner.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning osm file: %w", err)
	}

	log.Info("Osm nodes loaded", "points", len(features))
	return features, nil
}

func nodeFeature(node *osm.Node, keys []string) (*geojson.Feature, bool) {
	if len(node.Tags) == 0 {
		return nil, false
	}
	if len(keys) > 0 && !slices.ContainsFunc(node.Tags, func(tag osm.Tag) bool {
		return slices.Contains(keys, tag.Key)
	}) {
		return nil, false
	}

	f := geojson.NewFeature(orb.Point{node.Lon, node.Lat})
	f.ID = int64(node.ID)
	for _, tag := range node.Tags {
		f.Properties[tag.Key] = tag.Value
	}
	f.Properties["osm_id"] = int64(node.ID)
	return f, true
}

func scanWithProgress(scanner *osmpbf.Scanner, size int64, name string, it func(osm.Object)) error {
	bar := pb.Start64(size)
	bar.Set("prefix", name)
	bar.Set(pb.Bytes, true)
	bar.SetRefreshRate(time.Second * 5)
	if w, err := termutil.TerminalWidth(); w == 0 || err != nil {
		bar.SetTemplateString(`{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}{{with string . "suffix"}} {{.}}{{end}}` + "\n")
	}

	for scanner.Scan() {
		bar.SetCurrent(scanner.FullyScannedBytes())
		it(scanner.Object())
	}
	bar.Finish()

	return scanner.Err()
}
