package jwt

import (
	"time"

	"transit-sync/internal/domain/user"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims is the relay's token payload. Subject is the tracked entity id
// (driver id, passenger id or admin id).
type Claims struct {
	Role user.Role `json:"role"` // PASSENGER/DRIVER/ADMIN
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// NewUserClaims builds claims valid from now for ttl.
func NewUserClaims(userID string, role user.Role, now time.Time, ttl time.Duration) *Claims {
	now = now.UTC()
	return &Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}
