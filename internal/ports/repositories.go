package ports

import (
	"context"
	"time"

	"transit-sync/internal/domain/geo"
)

// UnitOfWork interface is used to manage transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LocationRepository keeps the latest sample per entity. Older samples are
// overwritten, no trail is kept.
type LocationRepository interface {
	UpsertLatest(ctx context.Context, sample geo.LocationSample) error
	GetLatest(ctx context.Context, entityID string) (*geo.LocationSample, error)

	// Monitoring reads. "Fresh" means sampled at or after since.
	CountFresh(ctx context.Context, entityType geo.EntityType, since time.Time) (int, error)
	ListFresh(ctx context.Context, entityType geo.EntityType, since time.Time, offset, limit int) ([]geo.LocationSample, error)
	Hotspots(ctx context.Context, since time.Time, limit int) ([]Hotspot, error)
}

// Hotspot is one grid cell of roughly 1km with the fresh entities in it.
type Hotspot struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Drivers    int     `json:"drivers"`
	Passengers int     `json:"passengers"`
}

// ReplyRepository archives chat messages and replies.
type ReplyRepository interface {
	Insert(ctx context.Context, rec *ReplyRecord) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// Publisher hands an encoded message to the broker.
type Publisher interface {
	Publish(exchange, routingKey, correlationID string, body []byte) error
}
