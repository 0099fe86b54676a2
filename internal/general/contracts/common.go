package contracts

import "time"

// Envelope adds cross-cutting headers all broker messages may carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"` // Correlation for tracing across instances
	Producer      string    `json:"producer,omitempty"`       // Producer instance, e.g. "relay-7f3a"
	SentAt        time.Time `json:"sent_at,omitempty"`        // ISO-8601 send time (UTC)
}

type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
