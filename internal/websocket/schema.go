package websocket

import "github.com/stemsi/examprep/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is the only message a client sends on the stream.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventReady        Event = "ready"
	EventInvalidation Event = "invalidation"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// ReadyResponse is sent once the stream is subscribed.
type ReadyResponse struct {
	Event  Event `json:"event"`
	UserID int   `json:"user_id"`
}

// InvalidationResponse relays one invalidation to the client.
type InvalidationResponse struct {
	Event        Event              `json:"event"`
	Invalidation model.Invalidation `json:"invalidation"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
