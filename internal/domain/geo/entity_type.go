package geo

import (
	"errors"
	"strings"

	"transit-sync/internal/domain/user"
)

// EntityType tells whether a tracked entity is a driver or a passenger.
type EntityType string

const (
	EntityTypeDriver    EntityType = "driver"
	EntityTypePassenger EntityType = "passenger"
)

var ErrInvalidEntityType = errors.New("invalid entity type")

// ParseEntityType normalizes (lowercases+trims) and validates an entity type string.
func ParseEntityType(input string) (EntityType, error) {
	entityType := EntityType(strings.ToLower(strings.TrimSpace(input)))
	if entityType.Valid() {
		return entityType, nil
	}
	return "", ErrInvalidEntityType
}

// EntityTypeForRole maps an authenticated role onto the entity it tracks.
func EntityTypeForRole(role user.Role) (EntityType, error) {
	switch role {
	case user.RoleDriver:
		return EntityTypeDriver, nil
	case user.RolePassenger:
		return EntityTypePassenger, nil
	default:
		return "", ErrInvalidEntityType
	}
}

// Valid reports whether entityType is one of the allowed entity type constants.
func (entityType EntityType) Valid() bool {
	switch entityType {
	case EntityTypeDriver, EntityTypePassenger:
		return true
	default:
		return false
	}
}

// String returns the string representation of the EntityType.
func (entityType EntityType) String() string {
	return string(entityType)
}

// Role returns the user role that owns entities of this type.
func (entityType EntityType) Role() user.Role {
	if entityType == EntityTypeDriver {
		return user.RoleDriver
	}
	return user.RolePassenger
}

func (entityType EntityType) IsDriver() bool    { return entityType == EntityTypeDriver }
func (entityType EntityType) IsPassenger() bool { return entityType == EntityTypePassenger }
