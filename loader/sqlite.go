package loader

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	_ "modernc.org/sqlite"
)

// LoadSQLite reads features from a SQLite database with the configured query.
// Rows with a NULL coordinate become features without geometry.
func LoadSQLite(ctx context.Context, path string, opts ...Option) ([]*geojson.Feature, error) {
	o := loadOptions(opts...)
	log := o.logger.With("file", path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to sqlite database: %w", err)
	}

	log.Info("Querying sqlite points", "query", o.sqliteQuery)
	features, err := QueryFeatures(ctx, db, o.sqliteQuery)
	if err != nil {
		return nil, err
	}
	log.Info("Sqlite points loaded", "points", len(features))
	return features, nil
}

// QueryFeatures runs query on db, each row being lng, lat, properties.
func QueryFeatures(ctx context.Context, db *sql.DB, query string) ([]*geojson.Feature, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying points: %w", err)
	}
	defer rows.Close()

	features := []*geojson.Feature{}
	for rows.Next() {
		var lng, lat sql.NullFloat64
		var props sql.NullString
		if err := rows.Scan(&lng, &lat, &props); err != nil {
			return nil, fmt.Errorf("error scanning row %d: %w", len(features), err)
		}

		f := geojson.NewFeature(nil)
		if lng.Valid && lat.Valid {
			f.Geometry = orb.Point{lng.Float64, lat.Float64}
		}
		if props.Valid && props.String != "" {
			if err := json.Unmarshal([]byte(props.String), &f.Properties); err != nil {
				return nil, fmt.Errorf("error decoding properties of row %d: %w", len(features), err)
			}
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading rows: %w", err)
	}
	return features, nil
}
