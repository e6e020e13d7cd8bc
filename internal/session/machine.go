package session

import (
	"time"

	"github.com/StreallyX/callastar-sub000/internal/booking"
	"github.com/StreallyX/callastar-sub000/internal/callevents"
	"github.com/StreallyX/callastar-sub000/internal/room"
)

// Policy carries the timing rules the machine enforces.
type Policy struct {
	// JoinWindow is how long before the scheduled start the call opens.
	JoinWindow time.Duration

	// Grace extends access past the scheduled end.
	Grace time.Duration

	// RedirectDelay is the pause before the post-call redirect.
	RedirectDelay time.Duration

	// ProviderErrorLimit is the number of consecutive mid-call provider
	// errors tolerated before the session is force-ended.
	ProviderErrorLimit int
}

func DefaultPolicy() Policy {
	return Policy{
		JoinWindow:         15 * time.Minute,
		Grace:              5 * time.Minute,
		RedirectDelay:      3 * time.Second,
		ProviderErrorLimit: 3,
	}
}

// Machine is the call-session state machine, expressed as a pure reducer:
// Apply(state, input) returns the next state plus the side effects to
// perform. The machine never performs effects itself, which keeps every
// transition unit-testable without a room provider or a clock.
//
// Transitions are serialized by the runner's single goroutine; latches inside
// State guard against the same logical event being applied twice.
type Machine struct {
	Policy Policy

	// Now is injectable for deterministic tests.
	Now func() time.Time
}

func NewMachine(p Policy) *Machine {
	if p.JoinWindow <= 0 {
		p.JoinWindow = 15 * time.Minute
	}
	if p.Grace <= 0 {
		p.Grace = 5 * time.Minute
	}
	if p.RedirectDelay <= 0 {
		p.RedirectDelay = 3 * time.Second
	}
	if p.ProviderErrorLimit <= 0 {
		p.ProviderErrorLimit = 3
	}
	return &Machine{Policy: p, Now: time.Now}
}

// SecondsUntilOpen is the waiting-phase countdown at now.
func (m *Machine) SecondsUntilOpen(s State, now time.Time) int {
	open := s.ScheduledStart.Add(-m.Policy.JoinWindow)
	d := int(open.Sub(now) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func (m *Machine) Apply(s State, in Input) (State, []Effect) {
	now := m.Now()

	switch v := in.(type) {
	case BookingLoaded:
		return m.applyBookingLoaded(s, v.Booking, now)
	case BookingLoadFailed:
		return m.fail(s, v.Message)
	case Tick:
		return m.applyTick(s, now)
	case JoinRequested:
		return m.applyJoinRequested(s)
	case JoinSucceeded:
		return m.applyJoinSucceeded(s, v.CallID, now)
	case JoinFailed:
		s, effs := m.fail(s, v.Message)
		s.joining = false
		return s, append(effs,
			LogEvent{Kind: callevents.KindCallError, Meta: callevents.ErrorMeta{Stage: v.Stage, Reason: v.Message}},
			Notify{Message: "Could not join the call."},
		)
	case LeaveRequested:
		if s.Phase != PhaseInCall || s.leaving {
			return s, nil
		}
		return m.initiateLeave(s, "user-action", now)
	case MediaPermissionDenied:
		if s.Phase != PhasePreCall {
			return s, nil
		}
		// Non-fatal: the user can still join audio-only or fix permissions.
		return s, []Effect{
			LogEvent{Kind: callevents.KindCallError, Meta: callevents.ErrorMeta{Stage: "pre-call", Reason: "media-devices-access-denied"}},
			Notify{Message: "Camera or microphone access was denied."},
		}
	case CameraToggled:
		return m.applyCameraToggled(s, v.Enabled)
	case MicToggled:
		return m.applyMicToggled(s, v.Enabled)
	case FullscreenChanged:
		if v.Entered == s.Fullscreen {
			return s, nil
		}
		s.Fullscreen = v.Entered
		kind := callevents.KindFullscreenExited
		if v.Entered {
			kind = callevents.KindFullscreenEntered
		}
		return s, []Effect{LogEvent{Kind: kind}}
	case TabHidden:
		if s.Phase != PhaseInCall || s.hidden {
			return s, nil
		}
		s.hidden = true
		return s, []Effect{
			LogEvent{Kind: callevents.KindDisconnectionInvoluntary, Meta: callevents.DisconnectMeta{Reason: "tab-hidden", DurationSeconds: s.Elapsed(now)}},
		}
	case TabVisible:
		// The page is demonstrably alive again; a cancelled navigation may
		// legitimately unload later.
		s.unloaded = false
		if !s.hidden {
			return s, nil
		}
		s.hidden = false
		if s.Phase != PhaseInCall {
			return s, nil
		}
		return s, []Effect{
			LogEvent{Kind: callevents.KindCallReconnect, Meta: callevents.ReconnectMeta{Reason: "tab-visible"}},
		}
	case PageUnload:
		// Browsers fire before-unload on cancelled navigations too; latch so
		// repeated posts do not duplicate the disconnect event.
		if s.Phase != PhaseInCall || s.unloaded {
			return s, nil
		}
		s.unloaded = true
		return s, []Effect{
			LogEvent{Kind: callevents.KindDisconnectionInvoluntary, Meta: callevents.DisconnectMeta{Reason: "page-unload", DurationSeconds: s.Elapsed(now)}},
		}
	case ProviderEvent:
		return m.applyProviderEvent(s, v.Event, now)
	default:
		return s, nil
	}
}

func (m *Machine) applyBookingLoaded(s State, b booking.Booking, now time.Time) (State, []Effect) {
	if s.Phase != PhaseLoading {
		return s, nil
	}

	s.Title = b.CallOffer.Title
	s.ScheduledStart = b.CallOffer.DateTime
	s.DurationSeconds = b.DurationSeconds()
	s.RoomURL = b.RoomURL
	s.IsTestBooking = b.IsTestBooking

	if b.Status == booking.StatusCancelled {
		return m.fail(s, "This booking has been cancelled.")
	}

	// Test bookings bypass every timing gate.
	if !b.IsTestBooking {
		closesAt := b.ScheduledEnd().Add(m.Policy.Grace)
		if now.After(closesAt) {
			return m.fail(s, "This call has already ended.")
		}
		if until := m.SecondsUntilOpen(s, now); until > 0 {
			s.Phase = PhaseWaiting
			s.SecondsUntilOpen = until
			return s, nil
		}
	}

	return m.enterPreCall(s)
}

func (m *Machine) enterPreCall(s State) (State, []Effect) {
	s.Phase = PhasePreCall
	s.SecondsUntilOpen = 0
	s.PreviewActive = true
	return s, []Effect{LogEvent{Kind: callevents.KindPreCallEntered}}
}

func (m *Machine) applyTick(s State, now time.Time) (State, []Effect) {
	switch s.Phase {
	case PhaseWaiting:
		s.SecondsUntilOpen = m.SecondsUntilOpen(s, now)
		if s.SecondsUntilOpen == 0 {
			return m.enterPreCall(s)
		}
		return s, nil

	case PhaseInCall:
		if s.IsTestBooking || s.leaving || s.autoEnded {
			return s, nil
		}
		if s.Remaining(now) == 0 {
			// Scheduled duration exhausted: end the call exactly as if the
			// user pressed leave.
			s.autoEnded = true
			return m.initiateLeave(s, "time-limit-reached", now)
		}
		return s, nil

	default:
		return s, nil
	}
}

func (m *Machine) applyJoinRequested(s State) (State, []Effect) {
	if s.Phase != PhasePreCall || s.joining {
		return s, nil
	}
	s.joining = true
	// The preview stream must be released before the room connection is
	// established; it would otherwise hold the camera/mic hardware lock.
	s.PreviewActive = false
	s.Phase = PhaseLoading
	return s, []Effect{StartJoin{}}
}

func (m *Machine) applyJoinSucceeded(s State, callID string, now time.Time) (State, []Effect) {
	if s.started {
		// Session-start must fire exactly once per join.
		return s, nil
	}
	s.started = true
	s.joining = false
	s.CallID = callID
	s.SessionStart = now
	s.Phase = PhaseInCall
	s.Connection = ConnConnected
	return s, []Effect{
		LogEvent{Kind: callevents.KindCallJoin, Meta: callevents.SessionMeta{CallID: callID}},
		LogEvent{Kind: callevents.KindSessionStart, Meta: callevents.SessionMeta{CallID: callID}},
	}
}

// initiateLeave starts the leave protocol: record the distinguishing
// disconnect event, then ask the provider to leave. The ended phase is only
// entered on the provider's left-meeting callback.
func (m *Machine) initiateLeave(s State, reason string, now time.Time) (State, []Effect) {
	s.leaving = true
	s.LeaveReason = reason
	return s, []Effect{
		LogEvent{Kind: callevents.KindDisconnectionVoluntary, Meta: callevents.DisconnectMeta{Reason: reason, DurationSeconds: s.Elapsed(now)}},
		PerformLeave{},
	}
}

func (m *Machine) applyCameraToggled(s State, enabled bool) (State, []Effect) {
	if s.Phase != PhasePreCall && s.Phase != PhaseInCall {
		return s, nil
	}
	if s.CameraOn == enabled {
		return s, nil
	}
	s.CameraOn = enabled
	effs := []Effect{LogEvent{Kind: callevents.KindCameraToggled, Meta: callevents.ToggleMeta{Enabled: enabled}}}
	if s.Phase == PhaseInCall {
		effs = append(effs, SetVideo{Enabled: enabled})
	}
	return s, effs
}

func (m *Machine) applyMicToggled(s State, enabled bool) (State, []Effect) {
	if s.Phase != PhasePreCall && s.Phase != PhaseInCall {
		return s, nil
	}
	if s.MicOn == enabled {
		return s, nil
	}
	s.MicOn = enabled
	effs := []Effect{LogEvent{Kind: callevents.KindMicToggled, Meta: callevents.ToggleMeta{Enabled: enabled}}}
	if s.Phase == PhaseInCall {
		effs = append(effs, SetAudio{Enabled: enabled})
	}
	return s, effs
}

func (m *Machine) applyProviderEvent(s State, ev room.Event, now time.Time) (State, []Effect) {
	switch ev.Type {
	case room.EventJoinedMeeting, room.EventNetworkQuality:
		// Healthy traffic; JoinSucceeded drives the phase transition.
		s.providerErrStreak = 0
		return s, nil

	case room.EventParticipantJoined:
		s.providerErrStreak = 0
		return s, []Effect{
			LogEvent{Kind: callevents.KindParticipantJoined, Meta: callevents.ParticipantMeta{ParticipantID: ev.ParticipantID}},
		}

	case room.EventParticipantLeft:
		s.providerErrStreak = 0
		return s, []Effect{
			LogEvent{Kind: callevents.KindParticipantLeft, Meta: callevents.ParticipantMeta{ParticipantID: ev.ParticipantID}},
		}

	case room.EventLeftMeeting:
		if s.ended || (s.Phase != PhaseInCall && !s.leaving) {
			return s, nil
		}
		s.ended = true
		s.leaving = false
		s.Phase = PhaseEnded
		s.PreviewActive = false
		dur := s.Elapsed(now)
		s.FinalElapsedSeconds = dur
		return s, []Effect{
			LogEvent{Kind: callevents.KindSessionEnd, Meta: callevents.SessionMeta{CallID: s.CallID, DurationSeconds: dur}},
			LogEvent{Kind: callevents.KindCallLeave, Meta: callevents.SessionMeta{CallID: s.CallID, DurationSeconds: dur}},
			ScheduleRedirect{After: m.Policy.RedirectDelay},
		}

	case room.EventError:
		if s.Phase != PhaseInCall {
			// Pre-call provider errors are non-fatal notices, like media
			// permission failures.
			return s, []Effect{
				LogEvent{Kind: callevents.KindCallError, Meta: callevents.ErrorMeta{Stage: "pre-call", Reason: ev.Message}},
				Notify{Message: "A call service error occurred."},
			}
		}
		s.providerErrStreak++
		effs := []Effect{
			LogEvent{Kind: callevents.KindCallError, Meta: callevents.ErrorMeta{Stage: "in-call", Reason: ev.Message}},
			Notify{Message: "A call service error occurred."},
		}
		// A single fatal error, or a streak of transient ones, ends the call
		// through the normal leave protocol rather than an abrupt phase flip.
		if (ev.Fatal || s.providerErrStreak >= m.Policy.ProviderErrorLimit) && !s.leaving {
			var leaveEffs []Effect
			s, leaveEffs = m.initiateLeave(s, "provider-error", now)
			effs = append(effs, leaveEffs...)
		}
		return s, effs

	case room.EventNetworkConnection:
		if s.Phase != PhaseInCall {
			return s, nil
		}
		switch ev.Connection {
		case room.ConnectionDisconnected:
			if s.Connection != ConnConnected {
				return s, nil
			}
			s.Connection = ConnReconnecting
			return s, []Effect{
				LogEvent{Kind: callevents.KindDisconnectionInvoluntary, Meta: callevents.DisconnectMeta{Reason: "network", DurationSeconds: s.Elapsed(now)}},
				Notify{Message: "Connection lost, trying to reconnect…"},
			}
		case room.ConnectionConnected:
			if s.Connection == ConnConnected {
				return s, nil
			}
			s.Connection = ConnConnected
			s.providerErrStreak = 0
			return s, []Effect{
				LogEvent{Kind: callevents.KindCallReconnect, Meta: callevents.ReconnectMeta{Reason: "network"}},
				Notify{Message: "Reconnected."},
			}
		}
		return s, nil

	default:
		return s, nil
	}
}

func (m *Machine) fail(s State, msg string) (State, []Effect) {
	s.Phase = PhaseError
	s.ErrorMessage = msg
	s.PreviewActive = false
	return s, nil
}
