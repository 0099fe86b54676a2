package jwt

import (
	"encoding/json"
	"errors"
	"strings"

	"transit-sync/internal/domain/user"
	"transit-sync/internal/general/contracts"
)

var ErrBadAuthMsg = errors.New("invalid auth message")

type Result struct {
	Claims *Claims
	Raw    string
}

// ValidateWSAuth parses the first websocket frame
// {"type":"auth","token":"Bearer <jwt>"}, validates the JWT and enforces
// RBAC.
func ValidateWSAuth(frame []byte, mgr *Manager, allowedRoles ...user.Role) (*Result, error) {
	var msg contracts.AuthMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, ErrBadAuthMsg
	}
	if strings.ToLower(strings.TrimSpace(msg.Type)) != contracts.FrameAuth {
		return nil, ErrBadAuthMsg
	}

	raw, err := BearerToken(msg.Token)
	if err != nil {
		return nil, err
	}
	claims, err := mgr.Validate(raw)
	if err != nil {
		return nil, err
	}
	if err := RoleAllowed(claims, allowedRoles...); err != nil {
		return nil, err
	}
	return &Result{Claims: claims, Raw: raw}, nil
}
