package geo

import (
	"errors"
	"testing"
	"time"

	"transit-sync/internal/domain/user"
)

func TestNewLocationSample(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	tests := []struct {
		name    string
		id      string
		role    EntityType
		point   Point
		wantErr error
	}{
		{name: "valid", id: " D1 ", role: EntityTypeDriver, point: Point{Lat: 43.2, Lon: 76.9}},
		{name: "empty id", id: "  ", role: EntityTypeDriver, wantErr: ErrEmptyEntityID},
		{name: "bad role", id: "D1", role: EntityType("bus"), wantErr: ErrInvalidEntityType},
		{name: "bad lat", id: "D1", role: EntityTypePassenger, point: Point{Lat: 91}, wantErr: ErrInvalidLatitude},
		{name: "bad lon", id: "D1", role: EntityTypePassenger, point: Point{Lon: -181}, wantErr: ErrInvalidLongitude},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewLocationSample(tt.id, tt.role, tt.point, ts, "")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.EntityID != "D1" {
				t.Fatalf("entity id not trimmed: %q", s.EntityID)
			}
			if s.Timestamp.Location() != time.UTC {
				t.Fatalf("timestamp not normalized to UTC: %v", s.Timestamp)
			}
		})
	}
}

func TestEntityTypeForRole(t *testing.T) {
	if et, err := EntityTypeForRole(user.RoleDriver); err != nil || et != EntityTypeDriver {
		t.Fatalf("driver: %v %v", et, err)
	}
	if et, err := EntityTypeForRole(user.RolePassenger); err != nil || et != EntityTypePassenger {
		t.Fatalf("passenger: %v %v", et, err)
	}
	if _, err := EntityTypeForRole(user.RoleAdmin); !errors.Is(err, ErrInvalidEntityType) {
		t.Fatalf("admin: err = %v", err)
	}
	if EntityTypePassenger.Role() != user.RolePassenger {
		t.Fatal("passenger entity should map back to the passenger role")
	}
}
