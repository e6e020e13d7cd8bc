package room

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// Provider defines the provider-agnostic room interface used by the session
// core.
//
// Rules:
// - No provider SDK/REST calls outside room adapters.
// - Provider callbacks are delivered as one typed event stream per handle
//   (Handle.Events), never as scattered per-kind callback registrations, so
//   the state machine consumes them in a single place.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// CreateRoom binds a handle to the booking's room descriptor. The handle
	// owns all per-session provider resources and must be destroyed on
	// teardown unconditionally.
	CreateRoom(ctx context.Context, opts RoomOptions) (Handle, error)
}

type RoomOptions struct {
	// URL is the room/connection descriptor from the booking.
	URL string

	BookingID string
}

// Handle is one live connection to a provider room.
//
// Resource ownership: a handle belongs to exactly one session; Destroy must
// release everything, including the event stream.
type Handle interface {
	// Join establishes the room connection with a short-lived access token.
	// Rejects with a provider error on failure.
	Join(ctx context.Context, req JoinRequest) (JoinResult, error)

	Leave(ctx context.Context) error

	SetLocalVideo(enabled bool)
	SetLocalAudio(enabled bool)

	// Events is the typed provider event stream. Closed by Destroy.
	Events() <-chan Event

	Destroy()
}

type JoinRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type JoinResult struct {
	// CallID is the provider's opaque session identifier.
	CallID string `json:"call_id"`
}

type EventType string

const (
	EventJoinedMeeting     EventType = "joined-meeting"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventLeftMeeting       EventType = "left-meeting"
	EventError             EventType = "error"
	EventNetworkQuality    EventType = "network-quality-change"
	EventNetworkConnection EventType = "network-connection"
)

type ConnectionType string

const (
	ConnectionConnected    ConnectionType = "connected"
	ConnectionDisconnected ConnectionType = "disconnected"
)

// Event is the tagged union delivered on a handle's event stream. Only the
// fields relevant to Type are populated.
type Event struct {
	Type EventType `json:"type"`

	// ParticipantID for participant-joined / participant-left.
	ParticipantID string `json:"participant_id,omitempty"`

	// Message for error events.
	Message string `json:"message,omitempty"`

	// Fatal marks an error event the provider reports as unrecoverable
	// (e.g., the room was destroyed server-side).
	Fatal bool `json:"fatal,omitempty"`

	// Quality (0-100) for network-quality-change.
	Quality int `json:"quality,omitempty"`

	// Connection for network-connection events.
	Connection ConnectionType `json:"connection,omitempty"`
}

var ErrInvalidRoomURL = errors.New("room: invalid room url")

// CallIDFromURL derives the provider's opaque call identifier from a room
// URL: the last non-empty path segment.
func CallIDFromURL(roomURL string) (string, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", ErrInvalidRoomURL
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	id := segs[len(segs)-1]
	if id == "" {
		return "", ErrInvalidRoomURL
	}
	return id, nil
}
