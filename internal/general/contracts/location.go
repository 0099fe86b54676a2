package contracts

import "time"

// LocationPayload is the body of driver_location and passenger_location,
// both on the channel and on POST /v1/locations.
type LocationPayload struct {
	EntityID  string    `json:"entity_id"`
	Location  GeoPoint  `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	RideID    string    `json:"ride_id,omitempty"`
}

// LocationRequest is the body of POST /v1/locations. Event picks the role
// the location is recorded under.
type LocationRequest struct {
	Event string `json:"event"` // driver_location|passenger_location
	LocationPayload
}
