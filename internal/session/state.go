package session

import (
	"time"

	"github.com/StreallyX/callastar-sub000/internal/booking"
	"github.com/StreallyX/callastar-sub000/internal/callevents"
	"github.com/StreallyX/callastar-sub000/internal/room"
)

// Phase is the lifecycle phase of one call session.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseWaiting Phase = "waiting"
	PhasePreCall Phase = "pre_call"
	PhaseInCall  Phase = "in_call"
	PhaseEnded   Phase = "ended"
	PhaseError   Phase = "error"
)

// ConnectionState tracks the room transport while in_call. It is orthogonal
// to Phase: a transient network drop never changes the phase.
type ConnectionState string

const (
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnReconnecting ConnectionState = "reconnecting"
)

// State is the transient, in-memory session state. One State corresponds to
// exactly one booking; it is discarded when the session is torn down and
// never persisted.
//
// Invariant: SessionStart is set exactly once, at the pre_call -> in_call
// transition, and is the sole basis for elapsed/remaining computation.
type State struct {
	BookingID string

	// Booking-derived facts, fixed once the booking loads.
	Title           string
	ScheduledStart  time.Time
	DurationSeconds int
	RoomURL         string
	IsTestBooking   bool

	Phase        Phase
	ErrorMessage string

	// CallID is the provider's opaque session identifier, set at join.
	CallID string

	// SessionStart is zero until the room is joined.
	SessionStart time.Time

	Connection ConnectionState

	// PreviewActive marks the local device-preview stream owned by the
	// pre_call phase. It must be released before the room connection is
	// established and on teardown.
	PreviewActive bool

	CameraOn   bool
	MicOn      bool
	Fullscreen bool

	// SecondsUntilOpen is the waiting-phase countdown, refreshed every tick.
	SecondsUntilOpen int

	// FinalElapsedSeconds is the call duration frozen at the ended
	// transition, so the post-call view keeps showing it after the
	// session clock stops mattering.
	FinalElapsedSeconds int

	// Latches. Transition handlers must be safe against being invoked twice
	// for the same logical event.
	started   bool // session-start fired
	joining   bool // join in flight
	leaving   bool // leave requested, waiting for the provider callback
	ended     bool // session-end fired
	autoEnded bool // time-limit leave fired
	hidden    bool // tab currently hidden
	unloaded  bool // page-unload disconnect fired

	// LeaveReason is the reason recorded when the leave was initiated.
	LeaveReason string

	// providerErrStreak counts consecutive mid-call provider errors; any
	// healthy provider event resets it.
	providerErrStreak int
}

// NewState returns the initial state for a booking: the booking fetch is in
// flight and everything else is unknown.
func NewState(bookingID string) State {
	return State{
		BookingID:  bookingID,
		Phase:      PhaseLoading,
		Connection: ConnConnected,
		CameraOn:   true,
		MicOn:      true,
	}
}

// Elapsed is the whole-second call time at now. Zero before the session
// starts.
func (s State) Elapsed(now time.Time) int {
	if s.SessionStart.IsZero() {
		return 0
	}
	e := int(now.Sub(s.SessionStart) / time.Second)
	if e < 0 {
		return 0
	}
	return e
}

// Remaining is the whole-second time left before the scheduled duration is
// exhausted.
func (s State) Remaining(now time.Time) int {
	r := s.DurationSeconds - s.Elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}

// Terminal reports whether the session can no longer change phase.
func (s State) Terminal() bool {
	return s.Phase == PhaseEnded || s.Phase == PhaseError
}

// Input is the tagged union of everything that can drive the state machine:
// booking resolution, user actions, client lifecycle signals, the 1-second
// tick, and provider events.
type Input interface {
	isInput()
}

// BookingLoaded delivers the booking fetched at mount.
type BookingLoaded struct {
	Booking booking.Booking
}

// BookingLoadFailed reports a failed or timed-out booking fetch.
type BookingLoadFailed struct {
	Message string
}

// Tick is the 1-second timer input.
type Tick struct{}

// JoinRequested is the user pressing join during pre_call.
type JoinRequested struct{}

// JoinSucceeded reports a completed room join.
type JoinSucceeded struct {
	CallID string
}

// JoinFailed reports a failed token acquisition (stage init) or room join
// (stage join).
type JoinFailed struct {
	Stage   string
	Message string
}

// LeaveRequested is the user pressing leave during in_call.
type LeaveRequested struct{}

// MediaPermissionDenied reports a camera/mic permission denial during
// pre_call. Non-fatal.
type MediaPermissionDenied struct{}

// CameraToggled and MicToggled report local media toggles.
type CameraToggled struct{ Enabled bool }
type MicToggled struct{ Enabled bool }

// FullscreenChanged reports the fullscreen state of the call view.
type FullscreenChanged struct{ Entered bool }

// TabHidden, TabVisible and PageUnload are the client lifecycle signals.
type TabHidden struct{}
type TabVisible struct{}
type PageUnload struct{}

// ProviderEvent wraps one event from the room provider stream.
type ProviderEvent struct {
	Event room.Event
}

func (BookingLoaded) isInput()         {}
func (BookingLoadFailed) isInput()     {}
func (Tick) isInput()                  {}
func (JoinRequested) isInput()         {}
func (JoinSucceeded) isInput()         {}
func (JoinFailed) isInput()            {}
func (LeaveRequested) isInput()        {}
func (MediaPermissionDenied) isInput() {}
func (CameraToggled) isInput()         {}
func (MicToggled) isInput()            {}
func (FullscreenChanged) isInput()     {}
func (TabHidden) isInput()             {}
func (TabVisible) isInput()            {}
func (PageUnload) isInput()            {}
func (ProviderEvent) isInput()         {}

// Effect is a side effect requested by a transition. The machine never
// performs effects itself; the runner executes them after the state is
// updated.
type Effect interface {
	isEffect()
}

// LogEvent records one call event, best-effort.
type LogEvent struct {
	Kind callevents.Kind
	Meta callevents.Metadata
}

// StartJoin asks the runner to acquire a call token and join the room.
type StartJoin struct{}

// PerformLeave asks the runner to request the provider leave. The phase
// change happens later, on the provider's left-meeting callback.
type PerformLeave struct{}

// SetVideo and SetAudio forward media toggles to the room handle.
type SetVideo struct{ Enabled bool }
type SetAudio struct{ Enabled bool }

// ScheduleRedirect asks the runner to point the client at the post-call
// summary view after a fixed delay.
type ScheduleRedirect struct{ After time.Duration }

// Notify surfaces a transient, non-blocking user notice.
type Notify struct{ Message string }

func (LogEvent) isEffect()         {}
func (StartJoin) isEffect()        {}
func (PerformLeave) isEffect()     {}
func (SetVideo) isEffect()         {}
func (SetAudio) isEffect()         {}
func (ScheduleRedirect) isEffect() {}
func (Notify) isEffect()           {}
