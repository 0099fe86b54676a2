package cli

import (
	"fmt"
	"time"

	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/jwt"
)

// GenerateUserToken mints a JWT for local runs of the tracker client.
//
//	token, claims, err := cli.GenerateUserToken(secret, 2*time.Hour, "drv-7", "DRIVER")
//
// Dev only. Production tokens come from the identity provider.
func GenerateUserToken(secret string, ttl time.Duration, userID, roleStr string) (string, jwt.Claims, error) {
	role, err := user.ParseRole(roleStr)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}

	mgr, err := jwt.NewManager(secret, ttl)
	if err != nil {
		return "", jwt.Claims{}, err
	}

	token, claims, err := mgr.IssueUserToken(userID, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}
	return token, *claims, nil
}
