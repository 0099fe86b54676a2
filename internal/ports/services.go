package ports

import (
	"context"
	"time"

	"transit-sync/internal/common/ws"
	"transit-sync/internal/general/contracts"
)

// ----- DTOs for the Relay Service -----

// ReplyRecord is one archived chat message or reply.
type ReplyRecord struct {
	CorrelationID string
	Event         string
	SenderID      string
	RecipientID   string
	InReplyTo     string
	Message       string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// ----- Relay Service Interface -----

// RelayService accepts client events from any transport, persists them and
// relays them to the sessions they are addressed to.
type RelayService interface {
	// HandleFrame processes one frame emitted by a session and returns the
	// ack frame to send back.
	HandleFrame(ctx context.Context, sess *ws.Session, frame contracts.Frame) contracts.Frame

	AcceptLocation(ctx context.Context, from ws.Identity, event, correlationID string, p contracts.LocationPayload) error
	AcceptReply(ctx context.Context, from ws.Identity, event, correlationID string, p contracts.ReplyPayload) error

	Notify(ctx context.Context, event string, p contracts.NotificationPayload) (contracts.NotificationPayload, error)
	Broadcast(ctx context.Context, p contracts.NotificationPayload) (contracts.NotificationPayload, error)
	UpdateRoute(ctx context.Context, p contracts.RouteUpdatePayload) (contracts.RouteUpdatePayload, error)
}

// ----- DTOs for the Admin Service -----

// OverviewMetrics are the headline numbers of GET /v1/admin/overview.
type OverviewMetrics struct {
	FreshDrivers    int `json:"fresh_drivers"`
	FreshPassengers int `json:"fresh_passengers"`
	RepliesToday    int `json:"replies_today"`
}

// SystemOverviewResult is the response DTO for GET /v1/admin/overview.
type SystemOverviewResult struct {
	Timestamp   time.Time       `json:"timestamp"`
	FreshWindow string          `json:"fresh_window"`
	Sessions    ws.Stats        `json:"sessions"`
	Metrics     OverviewMetrics `json:"metrics"`
	Hotspots    []Hotspot       `json:"hotspots"`
}

// TrackedEntityRow is one row of GET /v1/admin/locations.
type TrackedEntityRow struct {
	EntityID   string             `json:"entity_id"`
	EntityType string             `json:"entity_type"`
	Location   contracts.GeoPoint `json:"location"`
	RideID     string             `json:"ride_id,omitempty"`
	SampledAt  time.Time          `json:"sampled_at"`
	AgeSeconds int                `json:"age_seconds"`
	Online     bool               `json:"online"`
}

// TrackedEntitiesResult is the paginated response of GET /v1/admin/locations.
type TrackedEntitiesResult struct {
	Entities   []TrackedEntityRow `json:"entities"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}

// ----- Admin Service Interface -----

// AdminService exposes monitoring operations for administrators.
type AdminService interface {
	GetSystemOverview(ctx context.Context) (SystemOverviewResult, error)
	GetTrackedEntities(ctx context.Context, entityType, page, pageSize string) (TrackedEntitiesResult, error)
}
