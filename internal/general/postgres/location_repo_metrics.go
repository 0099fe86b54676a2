package postgres

import (
	"context"
	"fmt"
	"time"

	"transit-sync/internal/domain/geo"
	"transit-sync/internal/ports"
)

// entityFilter returns the SQL value for an optional entity type. Empty
// matches every type.
func entityFilter(entityType geo.EntityType) (string, error) {
	if entityType == "" {
		return "", nil
	}
	if !entityType.Valid() {
		return "", geo.ErrInvalidEntityType
	}
	return entityType.String(), nil
}

// CountFresh returns how many entities of entityType reported since since.
func (repo *LocationRepo) CountFresh(ctx context.Context, entityType geo.EntityType, since time.Time) (int, error) {
	tx, err := txFrom(ctx)
	if err != nil {
		return 0, err
	}
	et, err := entityFilter(entityType)
	if err != nil {
		return 0, err
	}

	var count int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM latest_locations
		WHERE sampled_at >= $1
		  AND ($2 = '' OR entity_type = $2)
	`, since, et).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count fresh locations: %w", err)
	}
	return count, nil
}

// ListFresh pages through fresh samples, newest first.
func (repo *LocationRepo) ListFresh(ctx context.Context, entityType geo.EntityType, since time.Time, offset, limit int) ([]geo.LocationSample, error) {
	tx, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}
	et, err := entityFilter(entityType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := tx.Query(ctx, `
		SELECT entity_id, entity_type, latitude, longitude, COALESCE(ride_id, ''), sampled_at
		FROM latest_locations
		WHERE sampled_at >= $1
		  AND ($2 = '' OR entity_type = $2)
		ORDER BY sampled_at DESC, entity_id
		OFFSET $3 LIMIT $4
	`, since, et, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list fresh locations: %w", err)
	}
	defer rows.Close()

	var out []geo.LocationSample
	for rows.Next() {
		var (
			s  geo.LocationSample
			et string
		)
		if err := rows.Scan(&s.EntityID, &et, &s.Point.Lat, &s.Point.Lon, &s.RideID, &s.Timestamp); err != nil {
			return nil, err
		}
		if s.Role, err = geo.ParseEntityType(et); err != nil {
			return nil, err
		}
		s.Timestamp = s.Timestamp.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Hotspots groups fresh entities into 0.01 degree cells and returns the
// busiest cells first.
func (repo *LocationRepo) Hotspots(ctx context.Context, since time.Time, limit int) ([]ports.Hotspot, error) {
	tx, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := tx.Query(ctx, `
		SELECT
			ROUND(latitude::numeric, 2)::float8  AS lat_cell,
			ROUND(longitude::numeric, 2)::float8 AS lon_cell,
			COUNT(*) FILTER (WHERE entity_type = 'driver')    AS drivers,
			COUNT(*) FILTER (WHERE entity_type = 'passenger') AS passengers
		FROM latest_locations
		WHERE sampled_at >= $1
		GROUP BY lat_cell, lon_cell
		ORDER BY COUNT(*) DESC, lat_cell, lon_cell
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("location hotspots: %w", err)
	}
	defer rows.Close()

	var out []ports.Hotspot
	for rows.Next() {
		var h ports.Hotspot
		if err := rows.Scan(&h.Latitude, &h.Longitude, &h.Drivers, &h.Passengers); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
