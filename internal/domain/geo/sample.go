package geo

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyEntityID    = errors.New("entity_id cannot be empty")
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// Point is a WGS84 position.
type Point struct {
	Lat float64
	Lon float64
}

// Validate checks coordinate ranges.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return ErrInvalidLatitude
	}
	if p.Lon < -180 || p.Lon > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// LocationSample is the latest known position of one tracked entity.
// RideID is empty when the entity is not on a ride.
type LocationSample struct {
	EntityID  string
	Role      EntityType
	Point     Point
	Timestamp time.Time
	RideID    string
}

// NewLocationSample builds a validated sample.
func NewLocationSample(entityID string, role EntityType, point Point, ts time.Time, rideID string) (LocationSample, error) {
	s := LocationSample{
		EntityID:  strings.TrimSpace(entityID),
		Role:      role,
		Point:     point,
		Timestamp: ts.UTC(),
		RideID:    strings.TrimSpace(rideID),
	}
	if err := s.Validate(); err != nil {
		return LocationSample{}, err
	}
	return s, nil
}

// Validate checks the sample invariants.
func (s LocationSample) Validate() error {
	if s.EntityID == "" {
		return ErrEmptyEntityID
	}
	if !s.Role.Valid() {
		return ErrInvalidEntityType
	}
	return s.Point.Validate()
}
