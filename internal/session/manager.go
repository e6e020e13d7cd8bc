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
	"github.com/StreallyX/callastar-sub000/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ErrSessionActive is returned when a session slot for the booking is already
// held, here or on another instance.
var ErrSessionActive = errors.New("session: a session for this booking is already active")

// SlotStore guards the one-live-session-per-booking invariant.
type SlotStore interface {
	Acquire(ctx context.Context, bookingID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, bookingID string) error
}

// RedisSlotStore backs the slot with Redis so the invariant holds across
// instances.
type RedisSlotStore struct {
	rdb *redis.Client
}

func NewRedisSlotStore(rdb *redis.Client) *RedisSlotStore {
	return &RedisSlotStore{rdb: rdb}
}

func (s *RedisSlotStore) Acquire(ctx context.Context, bookingID string, ttl time.Duration) (bool, error) {
	return utils.AcquireSessionSlot(ctx, s.rdb, bookingID, ttl)
}

func (s *RedisSlotStore) Release(ctx context.Context, bookingID string) error {
	return utils.ReleaseSessionSlot(ctx, s.rdb, bookingID)
}

// MemorySlotStore is the in-process SlotStore used in tests and single-node
// setups.
type MemorySlotStore struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{held: make(map[string]struct{})}
}

func (s *MemorySlotStore) Acquire(_ context.Context, bookingID string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.held[bookingID]; ok {
		return false, nil
	}
	s.held[bookingID] = struct{}{}
	return true, nil
}

func (s *MemorySlotStore) Release(_ context.Context, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, bookingID)
	return nil
}

// BookingSource resolves a booking by id. *booking.Client satisfies it.
type BookingSource interface {
	Get(ctx context.Context, id string) (booking.Booking, error)
}

// Manager owns the live runners, one per booking, and the slot that keeps a
// booking from having two concurrent sessions.
type Manager struct {
	provider room.Provider
	logger   *callevents.Logger
	tokens   TokenSource
	bookings BookingSource
	slots    SlotStore
	log      *slog.Logger

	policy         Policy
	fetchTimeout   time.Duration
	tickInterval   time.Duration
	terminalLinger time.Duration
	slotTTL        time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	runner  *Runner
	signals *ChannelSignalSource
}

type ManagerConfig struct {
	Provider room.Provider
	Logger   *callevents.Logger
	Tokens   TokenSource
	Bookings BookingSource
	Slots    SlotStore

	Policy       Policy
	FetchTimeout time.Duration
	TickInterval time.Duration

	// TerminalLinger is forwarded to each runner; an ended or errored session
	// tears itself down (releasing the slot) after this long.
	TerminalLinger time.Duration

	// SlotTTL bounds how long a crashed instance can hold a booking's slot.
	SlotTTL time.Duration

	Log *slog.Logger
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Provider == nil || cfg.Logger == nil || cfg.Tokens == nil || cfg.Bookings == nil {
		return nil, errors.New("session: provider, logger, tokens and bookings are required")
	}
	if cfg.Slots == nil {
		cfg.Slots = NewMemorySlotStore()
	}
	if cfg.SlotTTL <= 0 {
		cfg.SlotTTL = 2 * time.Hour
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Manager{
		provider:     cfg.Provider,
		logger:       cfg.Logger,
		tokens:       cfg.Tokens,
		bookings:     cfg.Bookings,
		slots:        cfg.Slots,
		log:          cfg.Log,
		policy:         cfg.Policy,
		fetchTimeout:   cfg.FetchTimeout,
		tickInterval:   cfg.TickInterval,
		terminalLinger: cfg.TerminalLinger,
		slotTTL:        cfg.SlotTTL,
		entries:        make(map[string]*entry),
	}, nil
}

// Open starts (or returns) the session runner for a booking. The caller must
// already be authorized for the booking.
func (m *Manager) Open(ctx context.Context, bookingID, userID, role string) (*Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[bookingID]; ok {
		select {
		case <-e.runner.Done():
			// Stale entry from a finished session; fall through and reopen.
			delete(m.entries, bookingID)
		default:
			return e.runner, nil
		}
	}

	ok, err := m.slots.Acquire(ctx, bookingID, m.slotTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionActive
	}

	sigs := NewChannelSignalSource()
	r, err := NewRunner(RunnerConfig{
		BookingID: bookingID,
		UserID:    userID,
		Role:      role,
		Machine:   NewMachine(m.policy),
		Provider:  m.provider,
		Logger:    m.logger,
		Tokens:    m.tokens,
		Signals:   sigs,
		Fetch: func(ctx context.Context) (booking.Booking, error) {
			return m.bookings.Get(ctx, bookingID)
		},
		FetchTimeout:   m.fetchTimeout,
		TickInterval:   m.tickInterval,
		TerminalLinger: m.terminalLinger,
		Log:            m.log,
		OnStop: func() {
			m.release(bookingID)
		},
	})
	if err != nil {
		m.release(bookingID)
		return nil, err
	}

	m.entries[bookingID] = &entry{runner: r, signals: sigs}
	r.Start(context.WithoutCancel(ctx))
	return r, nil
}

func (m *Manager) release(bookingID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.slots.Release(ctx, bookingID); err != nil {
		m.log.Warn("session slot release failed", "booking_id", bookingID, "err", err)
	}

	m.mu.Lock()
	if e, ok := m.entries[bookingID]; ok {
		select {
		case <-e.runner.Done():
			delete(m.entries, bookingID)
		default:
		}
	}
	m.mu.Unlock()
}

// Logger exposes the shared call-event logger, mainly so shutdown can drain
// in-flight writes.
func (m *Manager) Logger() *callevents.Logger { return m.logger }

// Get returns the live runner for a booking, if any.
func (m *Manager) Get(bookingID string) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[bookingID]
	if !ok {
		return nil, false
	}
	return e.runner, true
}

// Signal delivers a client lifecycle signal to a booking's session through
// its signal source.
func (m *Manager) Signal(bookingID string, k SignalKind) bool {
	if !k.Valid() {
		return false
	}
	m.mu.Lock()
	e, ok := m.entries[bookingID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return e.signals.Emit(k)
}

// Close tears down a booking's session, if running.
func (m *Manager) Close(bookingID string) {
	m.mu.Lock()
	e, ok := m.entries[bookingID]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.runner.Stop()
	<-e.runner.Done()
}

// Shutdown stops every live session and waits for teardown, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.entries))
	for _, e := range m.entries {
		runners = append(runners, e.runner)
	}
	m.mu.Unlock()

	for _, r := range runners {
		r.Stop()
	}
	for _, r := range runners {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
