package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"transit-sync/internal/domain/geo"
	"transit-sync/internal/general/contracts"
)

// Cache holds the most recent location per entity. The last sample to
// arrive wins, whatever its timestamp says.
type Cache struct {
	mu      sync.RWMutex
	samples map[string]geo.LocationSample
}

func NewCache() *Cache {
	return &Cache{samples: make(map[string]geo.LocationSample)}
}

func (c *Cache) Set(s geo.LocationSample) {
	c.mu.Lock()
	c.samples[s.EntityID] = s
	c.mu.Unlock()
}

func (c *Cache) Get(entityID string) (geo.LocationSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.samples[entityID]
	return s, ok
}

// Snapshot returns all samples ordered by entity id.
func (c *Cache) Snapshot() []geo.LocationSample {
	c.mu.RLock()
	out := make([]geo.LocationSample, 0, len(c.samples))
	for _, s := range c.samples {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}

// SampleFromEvent decodes a driver_location or passenger_location event.
func SampleFromEvent(ev Event) (geo.LocationSample, error) {
	var role geo.EntityType
	switch ev.Name {
	case contracts.EventDriverLocation:
		role = geo.EntityTypeDriver
	case contracts.EventPassengerLocation:
		role = geo.EntityTypePassenger
	default:
		return geo.LocationSample{}, fmt.Errorf("not a location event: %q", ev.Name)
	}

	var p contracts.LocationPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return geo.LocationSample{}, fmt.Errorf("decode %s: %w", ev.Name, err)
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = ev.ReceivedAt
	}
	return geo.NewLocationSample(p.EntityID, role,
		geo.Point{Lat: p.Location.Latitude, Lon: p.Location.Longitude}, ts, p.RideID)
}
