package contracts

import "encoding/json"

// Audience selects the sessions a relayed event is delivered to. Empty
// fields do not restrict. A message with no fields set goes to everyone.
type Audience struct {
	Roles   []string `json:"roles,omitempty"`   // PASSENGER|DRIVER|ADMIN
	UserIDs []string `json:"user_ids,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	Exclude string   `json:"exclude,omitempty"` // sender user id
}

// RelayMessage is published on ExchangeRelayFanout. Every relay instance
// consumes it and delivers Data as an Event frame to the matching local
// sessions.
type RelayMessage struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Audience Audience        `json:"audience"`
	Envelope
}
