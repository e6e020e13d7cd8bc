package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/booking"
	"github.com/StreallyX/callastar-sub000/internal/callevents"
	"github.com/StreallyX/callastar-sub000/internal/room"
)

// TokenSource mints the short-lived, booking-scoped access token required to
// join a room. *auth.Manager satisfies it.
type TokenSource interface {
	IssueCallToken(now time.Time, userID, bookingID, roomName, role string) (string, error)
}

// Runner drives one booking's session: it owns the 1-second tick, consumes
// the provider event stream and client signals, feeds everything through the
// machine, and executes the resulting effects.
//
// All transitions are applied on a single goroutine, so no two transitions
// are ever in flight simultaneously.
type Runner struct {
	bookingID string
	userID    string
	role      string

	machine  *Machine
	provider room.Provider
	logger   *callevents.Logger
	tokens   TokenSource
	signals  SignalSource
	log      *slog.Logger

	fetch          func(ctx context.Context) (booking.Booking, error)
	fetchTimeout   time.Duration
	tick           time.Duration
	terminalLinger time.Duration
	onStop         func()

	mu         sync.RWMutex
	state      State
	notice     string
	redirectTo string

	// handle is confined to the run goroutine after join.
	handle room.Handle

	ctx    context.Context
	cancel context.CancelFunc
	inputs chan Input
	done   chan struct{}
}

type RunnerConfig struct {
	BookingID string
	UserID    string
	Role      string

	Machine  *Machine
	Provider room.Provider
	Logger   *callevents.Logger
	Tokens   TokenSource

	// Signals is optional; when nil only HTTP-reported signals apply.
	Signals SignalSource

	Fetch        func(ctx context.Context) (booking.Booking, error)
	FetchTimeout time.Duration

	// TickInterval defaults to one second; tests shorten it.
	TickInterval time.Duration

	// TerminalLinger is how long the runner survives after reaching a
	// terminal phase before tearing itself down, so an abandoned tab cannot
	// leak the goroutine or hold the booking's slot. It must exceed the
	// redirect delay; defaults to 30 seconds.
	TerminalLinger time.Duration

	Log *slog.Logger

	// OnStop runs once when the runner goroutine exits (slot release).
	OnStop func()
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.BookingID == "" {
		return nil, errors.New("session: booking id is required")
	}
	if cfg.Machine == nil || cfg.Provider == nil || cfg.Logger == nil || cfg.Tokens == nil || cfg.Fetch == nil {
		return nil, errors.New("session: machine, provider, logger, tokens and fetch are required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.TerminalLinger <= 0 {
		cfg.TerminalLinger = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Runner{
		bookingID:      cfg.BookingID,
		userID:         cfg.UserID,
		role:           cfg.Role,
		machine:        cfg.Machine,
		provider:       cfg.Provider,
		logger:         cfg.Logger,
		tokens:         cfg.Tokens,
		signals:        cfg.Signals,
		log:            cfg.Log.With("booking_id", cfg.BookingID),
		fetch:          cfg.Fetch,
		fetchTimeout:   cfg.FetchTimeout,
		tick:           cfg.TickInterval,
		terminalLinger: cfg.TerminalLinger,
		onStop:         cfg.OnStop,
		state:          NewState(cfg.BookingID),
		inputs:         make(chan Input, 32),
		done:           make(chan struct{}),
	}, nil
}

// Start launches the run goroutine. The runner stops when ctx is cancelled or
// Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	go r.run()
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Done closes when the run goroutine has exited and resources are released.
func (r *Runner) Done() <-chan struct{} { return r.done }

func (r *Runner) run() {
	defer close(r.done)
	defer r.teardown()

	// Resolve the booking asynchronously so the session is observable in the
	// loading phase while the fetch is in flight.
	go r.loadBooking()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	var provEvents <-chan room.Event
	var sigs <-chan SignalKind
	if r.signals != nil {
		sigs = r.signals.Signals()
	}

	// Armed once the session reaches a terminal phase. The runner then tears
	// itself down after the linger instead of waiting for an explicit close
	// that an abandoned tab will never send.
	var lingering <-chan time.Time

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-lingering:
			return

		case <-ticker.C:
			r.apply(Tick{})

		case in := <-r.inputs:
			if jo, ok := in.(joinOutcome); ok {
				if jo.err != nil {
					if jo.handle != nil {
						jo.handle.Destroy()
					}
					r.apply(JoinFailed{Stage: jo.stage, Message: jo.err.Error()})
				} else {
					r.handle = jo.handle
					provEvents = r.handle.Events()
					r.apply(JoinSucceeded{CallID: jo.callID})
				}
			} else {
				r.apply(in)
			}

		case ev, ok := <-provEvents:
			if !ok {
				provEvents = nil
			} else {
				r.apply(ProviderEvent{Event: ev})
			}

		case sg := <-sigs:
			r.applySignal(sg)
		}

		if lingering == nil && r.terminalPhase() {
			lingering = time.After(r.terminalLinger)
		}
	}
}

func (r *Runner) terminalPhase() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Terminal()
}

func (r *Runner) loadBooking() {
	ctx, cancel := context.WithTimeout(r.ctx, r.fetchTimeout)
	defer cancel()

	b, err := r.fetch(ctx)
	if err != nil {
		msg := "Booking could not be loaded."
		switch {
		case errors.Is(err, booking.ErrNotFound):
			msg = "Booking not found."
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			msg = "Booking lookup timed out."
		}
		r.log.Warn("booking fetch failed", "err", err)
		r.push(BookingLoadFailed{Message: msg})
		return
	}
	r.push(BookingLoaded{Booking: b})
}

// joinOutcome is the runner-internal input carrying the result of the join
// effect back onto the loop goroutine.
type joinOutcome struct {
	handle room.Handle
	callID string
	stage  string
	err    error
}

func (joinOutcome) isInput() {}

func (r *Runner) apply(in Input) {
	r.mu.Lock()
	next, effs := r.machine.Apply(r.state, in)
	r.state = next
	r.mu.Unlock()

	for _, e := range effs {
		r.perform(e)
	}
}

func (r *Runner) applySignal(k SignalKind) {
	switch k {
	case SignalHidden:
		r.apply(TabHidden{})
	case SignalVisible:
		r.apply(TabVisible{})
	case SignalBeforeUnload:
		r.apply(PageUnload{})
	}
}

func (r *Runner) perform(e Effect) {
	switch v := e.(type) {
	case LogEvent:
		r.logger.Record(r.bookingID, v.Kind, v.Meta)

	case StartJoin:
		go r.doJoin()

	case PerformLeave:
		if h := r.handle; h != nil {
			go func() {
				if err := h.Leave(r.ctx); err != nil {
					r.log.Warn("provider leave failed", "err", err)
				}
			}()
		}

	case SetVideo:
		if r.handle != nil {
			r.handle.SetLocalVideo(v.Enabled)
		}

	case SetAudio:
		if r.handle != nil {
			r.handle.SetLocalAudio(v.Enabled)
		}

	case ScheduleRedirect:
		target := "/bookings/" + r.bookingID + "/summary"
		time.AfterFunc(v.After, func() {
			r.mu.Lock()
			r.redirectTo = target
			r.mu.Unlock()
		})

	case Notify:
		r.mu.Lock()
		r.notice = v.Message
		r.mu.Unlock()
	}
}

func (r *Runner) doJoin() {
	r.mu.RLock()
	roomURL := r.state.RoomURL
	r.mu.RUnlock()

	h, err := r.provider.CreateRoom(r.ctx, room.RoomOptions{URL: roomURL, BookingID: r.bookingID})
	if err != nil {
		r.push(joinOutcome{stage: "init", err: err})
		return
	}

	roomName, err := room.CallIDFromURL(roomURL)
	if err != nil {
		h.Destroy()
		r.push(joinOutcome{stage: "init", err: err})
		return
	}

	tok, err := r.tokens.IssueCallToken(r.machine.Now(), r.userID, r.bookingID, roomName, r.role)
	if err != nil {
		h.Destroy()
		r.push(joinOutcome{stage: "init", err: err})
		return
	}

	res, err := h.Join(r.ctx, room.JoinRequest{URL: roomURL, Token: tok})
	if err != nil {
		h.Destroy()
		r.push(joinOutcome{stage: "join", err: err})
		return
	}
	// If the runner stopped while the join was in flight nobody will ever own
	// the handle; release it here.
	if !r.push(joinOutcome{handle: h, callID: res.CallID}) {
		h.Destroy()
	}
}

func (r *Runner) teardown() {
	// A join that raced with shutdown may have parked its handle in the input
	// buffer; reclaim it so the provider side is released.
drain:
	for {
		select {
		case in := <-r.inputs:
			if jo, ok := in.(joinOutcome); ok && jo.handle != nil {
				jo.handle.Destroy()
			}
		default:
			break drain
		}
	}
	if r.handle != nil {
		r.handle.Destroy()
		r.handle = nil
	}
	if r.onStop != nil {
		r.onStop()
	}
}

// push delivers an input to the loop. Non-blocking: when the session is
// already stopping, inputs are dropped rather than stalling the caller. The
// cancellation check comes first so a stopped runner never reports delivery
// just because the buffer has room.
func (r *Runner) push(in Input) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}
	select {
	case r.inputs <- in:
		return true
	case <-r.ctx.Done():
		return false
	}
}

/* ===================== external inputs ===================== */

func (r *Runner) Join() bool  { return r.push(JoinRequested{}) }
func (r *Runner) Leave() bool { return r.push(LeaveRequested{}) }

func (r *Runner) ToggleCamera(enabled bool) bool { return r.push(CameraToggled{Enabled: enabled}) }
func (r *Runner) ToggleMic(enabled bool) bool    { return r.push(MicToggled{Enabled: enabled}) }
func (r *Runner) SetFullscreen(entered bool) bool {
	return r.push(FullscreenChanged{Entered: entered})
}

func (r *Runner) MediaPermissionDenied() bool { return r.push(MediaPermissionDenied{}) }

// Signal applies a client-reported lifecycle signal.
func (r *Runner) Signal(k SignalKind) bool {
	if !k.Valid() {
		return false
	}
	switch k {
	case SignalHidden:
		return r.push(TabHidden{})
	case SignalVisible:
		return r.push(TabVisible{})
	default:
		return r.push(PageUnload{})
	}
}

/* ===================== snapshot ===================== */

// Snapshot is the client-facing view of the session at one instant.
type Snapshot struct {
	BookingID string `json:"booking_id"`
	Title     string `json:"title,omitempty"`

	Phase        Phase           `json:"phase"`
	ErrorMessage string          `json:"error,omitempty"`
	Connection   ConnectionState `json:"connection_state"`

	CallID        string `json:"call_id,omitempty"`
	IsTestBooking bool   `json:"is_test_booking"`

	SecondsUntilOpen int `json:"seconds_until_open"`
	ElapsedSeconds   int `json:"elapsed_seconds"`
	RemainingSeconds int `json:"remaining_seconds"`

	PreviewActive bool `json:"preview_active"`
	CameraOn      bool `json:"camera_on"`
	MicOn         bool `json:"mic_on"`
	Fullscreen    bool `json:"fullscreen"`

	Notice     string `json:"notice,omitempty"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

func (r *Runner) Snapshot() Snapshot {
	now := r.machine.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.state
	snap := Snapshot{
		BookingID:        s.BookingID,
		Title:            s.Title,
		Phase:            s.Phase,
		ErrorMessage:     s.ErrorMessage,
		Connection:       s.Connection,
		CallID:           s.CallID,
		IsTestBooking:    s.IsTestBooking,
		SecondsUntilOpen: s.SecondsUntilOpen,
		PreviewActive:    s.PreviewActive,
		CameraOn:         s.CameraOn,
		MicOn:            s.MicOn,
		Fullscreen:       s.Fullscreen,
		Notice:           r.notice,
		RedirectTo:       r.redirectTo,
	}
	switch s.Phase {
	case PhaseInCall:
		snap.ElapsedSeconds = s.Elapsed(now)
		snap.RemainingSeconds = s.Remaining(now)
	case PhaseEnded:
		// The final duration stays visible on the post-call view.
		snap.ElapsedSeconds = s.FinalElapsedSeconds
		if rem := s.DurationSeconds - s.FinalElapsedSeconds; rem > 0 && !s.IsTestBooking {
			snap.RemainingSeconds = rem
		}
	}
	return snap
}
