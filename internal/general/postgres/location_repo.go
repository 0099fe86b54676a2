package postgres

import (
	"context"
	"errors"
	"fmt"

	"transit-sync/internal/domain/geo"
	"transit-sync/internal/ports"

	"github.com/jackc/pgx/v5"
)

// LocationRepo keeps the latest location per entity in latest_locations.
type LocationRepo struct{}

func NewLocationRepo() ports.LocationRepository {
	return &LocationRepo{}
}

// UpsertLatest overwrites the entity's row with sample. Must run inside
// UnitOfWork.WithinTx.
func (repo *LocationRepo) UpsertLatest(ctx context.Context, sample geo.LocationSample) error {
	tx, err := txFrom(ctx)
	if err != nil {
		return err
	}
	if err := sample.Validate(); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO latest_locations (entity_id, entity_type, latitude, longitude, ride_id, sampled_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, now())
		ON CONFLICT (entity_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			latitude    = EXCLUDED.latitude,
			longitude   = EXCLUDED.longitude,
			ride_id     = EXCLUDED.ride_id,
			sampled_at  = EXCLUDED.sampled_at,
			updated_at  = now()
	`,
		sample.EntityID,
		sample.Role.String(),
		sample.Point.Lat,
		sample.Point.Lon,
		sample.RideID,
		sample.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert latest location: %w", err)
	}
	return nil
}

// GetLatest returns the stored sample, or (nil, nil) when the entity has
// never reported.
func (repo *LocationRepo) GetLatest(ctx context.Context, entityID string) (*geo.LocationSample, error) {
	tx, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	var (
		s          geo.LocationSample
		entityType string
		rideID     *string
	)
	err = tx.QueryRow(ctx, `
		SELECT entity_id, entity_type, latitude, longitude, ride_id, sampled_at
		FROM latest_locations
		WHERE entity_id = $1
	`, entityID).Scan(&s.EntityID, &entityType, &s.Point.Lat, &s.Point.Lon, &rideID, &s.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest location: %w", err)
	}

	if s.Role, err = geo.ParseEntityType(entityType); err != nil {
		return nil, err
	}
	if rideID != nil {
		s.RideID = *rideID
	}
	s.Timestamp = s.Timestamp.UTC()
	return &s, nil
}
