// Package pointcache stores a source feature set in a compact binary file so
// that an index can be rebuilt without parsing the original input again.
//
// Layout: magic bytes, little endian uint32 compatibility level, then
// length-prefixed protowire blobs: header, metadata, key table and chunks of
// feature records.
package pointcache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"
)

var MAGIC_BYTES = []byte("SCPC")

const COMPATIBILITY_LEVEL uint32 = 1

var (
	ErrBadMagic     = errors.New("not a point cache file")
	ErrIncompatible = errors.New("unsupported point cache compatibility level")
)

type Metadata struct {
	Version     uint32
	Source      string
	DateCreated time.Time
}

// SaveFile writes a cache file, zstd compressed when name ends with .zst.
func SaveFile(name string, features []*geojson.Feature, meta Metadata) error {
	file, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("error creating cache file: %w", err)
	}
	defer file.Close()

	var w io.Writer = file
	if strings.HasSuffix(name, ".zst") {
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("error creating zstd writer: %w", err)
		}
		defer enc.Close()
		w = enc
	}

	if err := Save(w, features, meta); err != nil {
		return err
	}

	if enc, ok := w.(*zstd.Encoder); ok {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("error flushing zstd stream: %w", err)
		}
	}
	return file.Close()
}

func LoadFile(name string, log *slog.Logger) ([]*geojson.Feature, Metadata, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("error opening cache file: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("error creating zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	return Load(r, log)
}
