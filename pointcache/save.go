package pointcache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"google.golang.org/protobuf/encoding/protowire"
)

const chunkSize = 1000

// field numbers
const (
	metaVersion     protowire.Number = 1
	metaSource      protowire.Number = 2
	metaDateCreated protowire.Number = 3
	metaCount       protowire.Number = 4

	keysKey protowire.Number = 1

	chunkRecord protowire.Number = 1

	recordLng      protowire.Number = 1
	recordLat      protowire.Number = 2
	recordProperty protowire.Number = 3
	recordID       protowire.Number = 4

	propertyKey   protowire.Number = 1
	propertyValue protowire.Number = 2
)

// Save writes features in order. Only point geometries are kept, any other
// feature is stored without a coordinate so positions are preserved.
func Save(w io.Writer, features []*geojson.Feature, meta Metadata) error {
	_, err := w.Write(MAGIC_BYTES)
	if err != nil {
		return err
	}

	err = binary.Write(w, binary.LittleEndian, COMPATIBILITY_LEVEL)
	if err != nil {
		return err
	}

	keys := newUniqueMap()
	for _, f := range features {
		if f == nil {
			continue
		}
		for _, k := range slices.Sorted(maps.Keys(f.Properties)) {
			keys.Add(k)
		}
	}

	err = writeBlob(w, appendMetadata(nil, meta, len(features)))
	if err != nil {
		return fmt.Errorf("error writing metadata: %w", err)
	}

	var keysBlob []byte
	for _, k := range keys.Slice() {
		keysBlob = protowire.AppendTag(keysBlob, keysKey, protowire.BytesType)
		keysBlob = protowire.AppendString(keysBlob, k)
	}
	err = writeBlob(w, keysBlob)
	if err != nil {
		return fmt.Errorf("error writing keys: %w", err)
	}

	var chunk, record []byte
	for i, f := range features {
		record, err = appendRecord(record[:0], f, keys)
		if err != nil {
			return fmt.Errorf("error encoding feature %d: %w", i, err)
		}
		chunk = protowire.AppendTag(chunk, chunkRecord, protowire.BytesType)
		chunk = protowire.AppendBytes(chunk, record)

		if (i+1)%chunkSize == 0 {
			if err := writeBlob(w, chunk); err != nil {
				return fmt.Errorf("error writing points chunk: %w", err)
			}
			chunk = chunk[:0]
		}
	}
	if len(chunk) > 0 {
		if err := writeBlob(w, chunk); err != nil {
			return fmt.Errorf("error writing points chunk: %w", err)
		}
	}

	return nil
}

func writeBlob(w io.Writer, blob []byte) error {
	err := binary.Write(w, binary.LittleEndian, uint32(len(blob)))
	if err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

func appendMetadata(b []byte, meta Metadata, count int) []byte {
	b = protowire.AppendTag(b, metaVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(meta.Version))
	b = protowire.AppendTag(b, metaSource, protowire.BytesType)
	b = protowire.AppendString(b, meta.Source)
	if !meta.DateCreated.IsZero() {
		b = protowire.AppendTag(b, metaDateCreated, protowire.BytesType)
		b = protowire.AppendString(b, meta.DateCreated.Format(time.RFC3339))
	}
	b = protowire.AppendTag(b, metaCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(count))
	return b
}

func appendRecord(b []byte, f *geojson.Feature, keys *uniqueMap) ([]byte, error) {
	if f == nil {
		return b, nil
	}

	if p, ok := f.Geometry.(orb.Point); ok {
		b = protowire.AppendTag(b, recordLng, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(p.Lon()))
		b = protowire.AppendTag(b, recordLat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(p.Lat()))
	}

	for _, k := range slices.Sorted(maps.Keys(f.Properties)) {
		raw, err := json.Marshal(f.Properties[k])
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		var prop []byte
		prop = protowire.AppendTag(prop, propertyKey, protowire.VarintType)
		prop = protowire.AppendVarint(prop, uint64(keys.Add(k)))
		prop = protowire.AppendTag(prop, propertyValue, protowire.BytesType)
		prop = protowire.AppendBytes(prop, raw)

		b = protowire.AppendTag(b, recordProperty, protowire.BytesType)
		b = protowire.AppendBytes(b, prop)
	}

	if f.ID != nil {
		raw, err := json.Marshal(f.ID)
		if err != nil {
			return nil, fmt.Errorf("id: %w", err)
		}
		b = protowire.AppendTag(b, recordID, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}

	return b, nil
}
