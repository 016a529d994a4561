// Package realtime pushes job-completion events to connected clients over
// SSE. Delivery is explicitly non-durable: events to absent users vanish.
package realtime

import "time"

// Event names pushed to clients
const (
	EventConnected       = "connected"
	EventHeartbeat       = "heartbeat"
	EventMessageReceived = "message.received"
	EventEarningsUpdated = "earnings.updated"
	EventVideoProcessed  = "video.processed"
)

// Conn is one live client connection. Send must be safe for concurrent use;
// a failed Send means the connection is dead.
type Conn interface {
	Send(event string, payload any) error
}

// Relay is the fan-out surface job handlers emit through. The in-process
// Registry is the default implementation; a multi-instance deployment swaps
// in a shared pub/sub relay behind the same interface.
type Relay interface {
	// EmitToUser delivers an event to every live connection of one user.
	// No-op when the user has no connections; fire-and-forget otherwise.
	EmitToUser(userID, event string, payload any)
	// BroadcastExcept delivers an event to every connected user but one
	BroadcastExcept(userID, event string, payload any)
}

// ConnectedPayload is sent once when a stream is established
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

// HeartbeatPayload keeps idle connections alive through proxies
type HeartbeatPayload struct {
	Timestamp string `json:"timestamp"`
}

func heartbeatNow() HeartbeatPayload {
	return HeartbeatPayload{Timestamp: time.Now().UTC().Format(time.RFC3339)}
}
