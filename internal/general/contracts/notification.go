package contracts

import (
	"encoding/json"
	"time"
)

// NotificationPayload is the body of notification, new_notification and
// broadcast events.
type NotificationPayload struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"` // empty for broadcasts
	Title     string          `json:"title"`
	Body      string          `json:"body,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RouteUpdatePayload is the body of route_updates.
type RouteUpdatePayload struct {
	RouteID   string          `json:"route_id"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
