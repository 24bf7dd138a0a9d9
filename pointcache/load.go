package pointcache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"google.golang.org/protobuf/encoding/protowire"
)

func Load(r io.Reader, log *slog.Logger) ([]*geojson.Feature, Metadata, error) {
	var meta Metadata

	magic := make([]byte, len(MAGIC_BYTES))
	_, err := io.ReadFull(r, magic)
	if err != nil {
		return nil, meta, fmt.Errorf("error reading magic bytes: %w", err)
	}
	if string(magic) != string(MAGIC_BYTES) {
		return nil, meta, ErrBadMagic
	}

	var compatibilityLevel uint32
	err = binary.Read(r, binary.LittleEndian, &compatibilityLevel)
	if err != nil {
		return nil, meta, fmt.Errorf("error reading compatibility level: %w", err)
	}
	if compatibilityLevel != COMPATIBILITY_LEVEL {
		return nil, meta, fmt.Errorf("%w: %d", ErrIncompatible, compatibilityLevel)
	}

	blob, err := readBlob(r)
	if err != nil {
		return nil, meta, fmt.Errorf("error reading metadata: %w", err)
	}
	meta, count, err := parseMetadata(blob)
	if err != nil {
		return nil, meta, fmt.Errorf("error parsing metadata: %w", err)
	}
	log.Info("Loading point cache",
		"version", meta.Version,
		"source", meta.Source,
		"date_created", meta.DateCreated,
		"points", count,
	)

	blob, err = readBlob(r)
	if err != nil {
		return nil, meta, fmt.Errorf("error reading keys: %w", err)
	}
	var keys []string
	err = consumeFields(blob, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == keysKey && typ == protowire.BytesType {
			k, n := protowire.ConsumeString(b)
			if n >= 0 {
				keys = append(keys, k)
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err != nil {
		return nil, meta, fmt.Errorf("error parsing keys: %w", err)
	}

	features := make([]*geojson.Feature, 0, count)
	for {
		blob, err = readBlob(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, meta, fmt.Errorf("error reading points chunk: %w", err)
		}

		var recordErr error
		err = consumeFields(blob, func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num != chunkRecord || typ != protowire.BytesType {
				return protowire.ConsumeFieldValue(num, typ, b)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			f, err := parseRecord(raw, keys)
			if err != nil {
				recordErr = fmt.Errorf("feature %d: %w", len(features), err)
				return len(b)
			}
			features = append(features, f)
			return n
		})
		if err == nil {
			err = recordErr
		}
		if err != nil {
			return nil, meta, fmt.Errorf("error parsing points chunk: %w", err)
		}
	}

	if len(features) != count {
		return nil, meta, fmt.Errorf("point cache truncated: expected %d features, got %d", count, len(features))
	}
	return features, meta, nil
}

// readBlob returns io.EOF only when no byte of the next blob was read.
func readBlob(r io.Reader) ([]byte, error) {
	var size uint32
	err := binary.Read(r, binary.LittleEndian, &size)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	_, err = io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return buf, err
}

// consumeFields calls fn for every field in b. fn returns the length of the
// field value it consumed or a negative protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n = fn(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func parseMetadata(b []byte) (Metadata, int, error) {
	var meta Metadata
	var count int
	var dateErr error

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == metaVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			meta.Version = uint32(v)
			return n
		case num == metaSource && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			meta.Source = s
			return n
		case num == metaDateCreated && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n >= 0 {
				meta.DateCreated, dateErr = time.Parse(time.RFC3339, s)
			}
			return n
		case num == metaCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			count = int(v)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err == nil {
		err = dateErr
	}
	return meta, count, err
}

func parseRecord(b []byte, keys []string) (*geojson.Feature, error) {
	var lng, lat float64
	var hasLng, hasLat bool
	props := geojson.Properties{}
	var id any
	var parseErr error

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == recordLng && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			lng, hasLng = math.Float64frombits(v), true
			return n
		case num == recordLat && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			lat, hasLat = math.Float64frombits(v), true
			return n
		case num == recordProperty && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			k, v, err := parseProperty(raw, keys)
			if err != nil {
				parseErr = err
			} else {
				props[k] = v
			}
			return n
		case num == recordID && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			if err := json.Unmarshal(raw, &id); err != nil {
				parseErr = fmt.Errorf("id: %w", err)
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err == nil {
		err = parseErr
	}
	if err != nil {
		return nil, err
	}

	f := &geojson.Feature{Type: "Feature", ID: id, Properties: props}
	if hasLng && hasLat {
		f.Geometry = orb.Point{lng, lat}
	}
	return f, nil
}

func parseProperty(b []byte, keys []string) (string, any, error) {
	key := -1
	var value any
	var valueErr error

	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == propertyKey && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			key = int(v)
			return n
		case num == propertyValue && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				valueErr = json.Unmarshal(raw, &value)
			}
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err == nil {
		err = valueErr
	}
	if err != nil {
		return "", nil, err
	}
	if key < 0 || key >= len(keys) {
		return "", nil, fmt.Errorf("property key %d out of range", key)
	}
	return keys[key], value, nil
}
