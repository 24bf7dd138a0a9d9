// Package loader reads source point features from the supported input formats.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"

	"github.com/StuRuby/supercluster-annotation/pointcache"
)

var ErrUnsupportedFormat = errors.New("unsupported input format")

type Format int

const (
	FormatUnknown Format = iota
	FormatGeoJSON
	FormatOSM
	FormatPointCache
	FormatSQLite
)

// DetectFormat guesses the format from the file name, ignoring a .zst suffix.
func DetectFormat(name string) Format {
	base := strings.TrimSuffix(strings.ToLower(name), ".zst")
	switch {
	case strings.HasSuffix(base, ".geojson"), strings.HasSuffix(base, ".json"):
		return FormatGeoJSON
	case strings.HasSuffix(base, ".osm.pbf"):
		return FormatOSM
	case strings.HasSuffix(base, ".pcache"):
		return FormatPointCache
	case strings.HasSuffix(base, ".db"), strings.HasSuffix(base, ".sqlite"), strings.HasSuffix(base, ".sqlite3"):
		if base != strings.ToLower(name) {
			return FormatUnknown
		}
		return FormatSQLite
	}
	return FormatUnknown
}

// LoadFile reads all features from name. The order of the returned features
// is the order of the input.
func LoadFile(ctx context.Context, name string, opts ...Option) ([]*geojson.Feature, error) {
	o := loadOptions(opts...)

	switch DetectFormat(name) {
	case FormatGeoJSON:
		r, err := openReader(name)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		o.logger.Info("Loading geojson", "file", name)
		return ReadGeoJSON(r)
	case FormatOSM:
		return LoadOSM(ctx, name, opts...)
	case FormatPointCache:
		features, _, err := pointcache.LoadFile(name, o.logger)
		return features, err
	case FormatSQLite:
		return LoadSQLite(ctx, name, opts...)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// ReadGeoJSON reads a FeatureCollection.
func ReadGeoJSON(r io.Reader) ([]*geojson.Feature, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding feature collection: %w", err)
	}
	return fc.Features, nil
}

func openReader(name string) (io.ReadCloser, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("can`t open file error: %w", err)
	}

	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("can`t create zstd reader: %w", err)
		}

		return &zstdFile{ReadCloser: dec.IOReadCloser(), file: file}, nil
	}

	return file, nil
}

// zstdFile closes the underlying file together with the decoder.
type zstdFile struct {
	io.ReadCloser
	file *os.File
}

func (z *zstdFile) Close() error {
	z.ReadCloser.Close()
	return z.file.Close()
}
