package realtime

import (
	"encoding/json"

	"backend-klinik/internal/models"
)

const (
	TypeSnapshot     = "snapshot"
	TypeUpdate       = "update"
	TypePong         = "pong"
	TypeError        = "error"
	TypeUnsubscribed = "unsubscribed"

	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)

// Outbound is every message the server pushes on /ws/queue.
type Outbound struct {
	Type      string                `json:"type"`
	Data      *models.QueueSnapshot `json:"data,omitempty"`
	Message   string                `json:"message,omitempty"`
	Timestamp string                `json:"timestamp,omitempty"`
}

// Inbound is a client control message.
type Inbound struct {
	Action string `json:"action"`
	Date   string `json:"date,omitempty"`
}

func encode(m Outbound) []byte {
	// Outbound only holds strings, ints and pointers to the same; Marshal
	// cannot fail on it.
	b, _ := json.Marshal(m)
	return b
}
