package callevents

import "time"

// Event is an immutable, timestamped record of something that happened during
// a call-session lifecycle.
//
// Invariants:
// - Events are append-only; never updated or deleted.
// - booking_id is required on every row.
// - Writes are best-effort; a failed write must never block or fail the
//   session transition it accompanies.
//
// Storage (Postgres): table call_events, INSERT-only.

type Event struct {
	ID        string `json:"id" db:"id"`
	BookingID string `json:"booking_id" db:"booking_id"`

	Kind Kind `json:"event" db:"event"`

	// Metadata is the JSON-encoded payload variant for this kind.
	// Empty when the kind carries no payload.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"timestamp" db:"created_at"`
}

type Kind string

const (
	KindPreCallEntered Kind = "PRE_CALL_ENTERED"

	KindCallJoin     Kind = "CALL_JOIN"
	KindSessionStart Kind = "SESSION_START"
	KindCallLeave    Kind = "CALL_LEAVE"
	KindSessionEnd   Kind = "SESSION_END"

	KindParticipantJoined Kind = "PARTICIPANT_JOINED"
	KindParticipantLeft   Kind = "PARTICIPANT_LEFT"

	KindCameraToggled     Kind = "CAMERA_TOGGLED"
	KindMicToggled        Kind = "MIC_TOGGLED"
	KindFullscreenEntered Kind = "FULLSCREEN_ENTERED"
	KindFullscreenExited  Kind = "FULLSCREEN_EXITED"

	KindDisconnectionVoluntary   Kind = "DISCONNECTION_VOLUNTARY"
	KindDisconnectionInvoluntary Kind = "DISCONNECTION_INVOLUNTARY"
	KindCallReconnect            Kind = "CALL_RECONNECT"

	KindCallError Kind = "CALL_ERROR"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPreCallEntered,
		KindCallJoin, KindSessionStart, KindCallLeave, KindSessionEnd,
		KindParticipantJoined, KindParticipantLeft,
		KindCameraToggled, KindMicToggled,
		KindFullscreenEntered, KindFullscreenExited,
		KindDisconnectionVoluntary, KindDisconnectionInvoluntary, KindCallReconnect,
		KindCallError:
		return true
	default:
		return false
	}
}

// Metadata is the closed set of per-kind payload shapes. Keeping the variants
// typed means the logger contract is checked at compile time instead of
// accepting arbitrary maps.
type Metadata interface {
	isMetadata()
}

// DisconnectMeta accompanies DISCONNECTION_VOLUNTARY and
// DISCONNECTION_INVOLUNTARY.
//
// Voluntary reasons: user-action, time-limit-reached, provider-error.
// Involuntary reasons: page-unload, tab-hidden, network.
type DisconnectMeta struct {
	Reason string `json:"reason"`

	// DurationSeconds is the elapsed call time at the moment of disconnect.
	DurationSeconds int `json:"duration,omitempty"`
}

// ReconnectMeta accompanies CALL_RECONNECT. Reasons: tab-visible, network.
type ReconnectMeta struct {
	Reason string `json:"reason"`
}

// ErrorMeta accompanies CALL_ERROR.
// Stage: init, join, pre-call, in-call.
type ErrorMeta struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// ToggleMeta accompanies CAMERA_TOGGLED and MIC_TOGGLED.
type ToggleMeta struct {
	Enabled bool `json:"enabled"`
}

// ParticipantMeta accompanies PARTICIPANT_JOINED and PARTICIPANT_LEFT.
type ParticipantMeta struct {
	ParticipantID string `json:"participant_id"`
}

// SessionMeta accompanies CALL_JOIN, SESSION_START, CALL_LEAVE and SESSION_END.
type SessionMeta struct {
	CallID string `json:"call_id,omitempty"`

	// DurationSeconds is the final call duration; zero on join/start.
	DurationSeconds int `json:"duration,omitempty"`
}

func (DisconnectMeta) isMetadata()  {}
func (ReconnectMeta) isMetadata()   {}
func (ErrorMeta) isMetadata()       {}
func (ToggleMeta) isMetadata()      {}
func (ParticipantMeta) isMetadata() {}
func (SessionMeta) isMetadata()     {}
