package gateway

import "encoding/json"

type EventType string

const (
	EventTypeJoined EventType = "joined"
	EventTypeLeft   EventType = "left"
)

// Event is a presence notification fanned out to every subscriber of a
// channel. Joined events carry the identity's payload; left events do not.
type Event struct {
	Type     EventType       `json:"event"`
	Channel  string          `json:"channel"`
	Identity string          `json:"identity"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
