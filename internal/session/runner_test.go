package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/booking"
	"github.com/StreallyX/callastar-sub000/internal/callevents"
	"github.com/StreallyX/callastar-sub000/internal/room"

	"github.com/stretchr/testify/require"
)

type staticTokens struct{}

func (staticTokens) IssueCallToken(_ time.Time, _, _, _, _ string) (string, error) {
	return "test-token", nil
}

type stubBookings struct {
	b   booking.Booking
	err error
}

func (s stubBookings) Get(_ context.Context, _ string) (booking.Booking, error) {
	return s.b, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func liveBooking() booking.Booking {
	return booking.Booking{
		ID:     "bk-run",
		Status: booking.StatusConfirmed,
		CallOffer: booking.CallOffer{
			Title:           "Live Q&A",
			DateTime:        time.Now(),
			DurationMinutes: 30,
		},
		RoomURL: "https://example.daily.co/room-bk-run",
	}
}

func newTestManager(t *testing.T, prov room.Provider, repo *callevents.MemoryRepo, b booking.Booking) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Provider: prov,
		Logger:   callevents.NewLogger(quietLogger(), repo),
		Tokens:   staticTokens{},
		Bookings: stubBookings{b: b},
		Policy: Policy{
			JoinWindow:         15 * time.Minute,
			Grace:              5 * time.Minute,
			RedirectDelay:      10 * time.Millisecond,
			ProviderErrorLimit: 3,
		},
		FetchTimeout:   time.Second,
		TickInterval:   10 * time.Millisecond,
		TerminalLinger: 50 * time.Millisecond,
		Log:            quietLogger(),
	})
	require.NoError(t, err)
	return m
}

func waitPhase(t *testing.T, r *Runner, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.Snapshot().Phase == want
	}, 2*time.Second, 5*time.Millisecond, "never reached phase %s (last: %s)", want, r.Snapshot().Phase)
}

func TestRunnerFullCallFlow(t *testing.T) {
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()
	mgr := newTestManager(t, prov, repo, liveBooking())
	defer mgr.Shutdown(context.Background())

	r, err := mgr.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)

	waitPhase(t, r, PhasePreCall)
	snap := r.Snapshot()
	require.True(t, snap.PreviewActive)
	require.Equal(t, "Live Q&A", snap.Title)

	require.True(t, r.Join())
	waitPhase(t, r, PhaseInCall)

	snap = r.Snapshot()
	require.Equal(t, "room-bk-run", snap.CallID)
	require.False(t, snap.PreviewActive)

	h, ok := prov.HandleFor("room-bk-run")
	require.True(t, ok)
	require.True(t, h.Joined())

	require.True(t, r.Leave())
	waitPhase(t, r, PhaseEnded)
	require.True(t, h.Left())

	// The redirect target appears after the configured delay.
	require.Eventually(t, func() bool {
		return r.Snapshot().RedirectTo == "/bookings/bk-run/summary"
	}, time.Second, 5*time.Millisecond)

	mgr.Close("bk-run")
	require.True(t, h.Destroyed())

	mgr.Logger().Wait()
	kinds := repo.Kinds()
	require.Contains(t, kinds, callevents.KindPreCallEntered)
	require.Contains(t, kinds, callevents.KindCallJoin)
	require.Contains(t, kinds, callevents.KindSessionStart)
	require.Contains(t, kinds, callevents.KindDisconnectionVoluntary)
	require.Contains(t, kinds, callevents.KindSessionEnd)
	require.Contains(t, kinds, callevents.KindCallLeave)
	require.Equal(t, 1, repo.CountKind(callevents.KindSessionStart))
	require.Equal(t, 1, repo.CountKind(callevents.KindSessionEnd))
}

func TestRunnerJoinFailureEntersError(t *testing.T) {
	prov := room.NewFakeProvider()
	prov.JoinErr = context.DeadlineExceeded
	repo := callevents.NewMemoryRepo()
	mgr := newTestManager(t, prov, repo, liveBooking())
	defer mgr.Shutdown(context.Background())

	r, err := mgr.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)

	waitPhase(t, r, PhasePreCall)
	require.True(t, r.Join())
	waitPhase(t, r, PhaseError)

	mgr.Logger().Wait()
	require.Equal(t, 1, repo.CountKind(callevents.KindCallError))

	// The failed handle must not leak.
	_, ok := prov.HandleFor("room-bk-run")
	require.False(t, ok)
}

func TestRunnerBookingFetchFailure(t *testing.T) {
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()

	m, err := NewManager(ManagerConfig{
		Provider:     prov,
		Logger:       callevents.NewLogger(quietLogger(), repo),
		Tokens:       staticTokens{},
		Bookings:     stubBookings{err: booking.ErrNotFound},
		FetchTimeout: time.Second,
		TickInterval: 10 * time.Millisecond,
		Log:          quietLogger(),
	})
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	r, err := m.Open(context.Background(), "bk-missing", "user-1", "fan")
	require.NoError(t, err)

	waitPhase(t, r, PhaseError)
	require.Equal(t, "Booking not found.", r.Snapshot().ErrorMessage)
}

func TestRunnerStopsItselfAfterCallEnds(t *testing.T) {
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()
	mgr := newTestManager(t, prov, repo, liveBooking())
	defer mgr.Shutdown(context.Background())

	r, err := mgr.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)

	waitPhase(t, r, PhasePreCall)
	require.True(t, r.Join())
	waitPhase(t, r, PhaseInCall)
	require.True(t, r.Leave())
	waitPhase(t, r, PhaseEnded)

	// The redirect is still delivered before teardown.
	require.Eventually(t, func() bool {
		return r.Snapshot().RedirectTo == "/bookings/bk-run/summary"
	}, time.Second, 5*time.Millisecond)

	// Nobody sends an explicit close; the runner must tear itself down after
	// the linger and release the booking's slot.
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner kept running after the session ended")
	}

	r2, err := mgr.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)
	require.NotSame(t, r, r2)
	mgr.Close("bk-run")
}

func TestRunnerStopsItselfAfterError(t *testing.T) {
	prov := room.NewFakeProvider()
	prov.JoinErr = context.DeadlineExceeded
	repo := callevents.NewMemoryRepo()
	mgr := newTestManager(t, prov, repo, liveBooking())
	defer mgr.Shutdown(context.Background())

	r, err := mgr.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)

	waitPhase(t, r, PhasePreCall)
	require.True(t, r.Join())
	waitPhase(t, r, PhaseError)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("runner kept running after entering the error phase")
	}
}

func TestJoinCompletingAfterStopReleasesHandle(t *testing.T) {
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()

	r, err := NewRunner(RunnerConfig{
		BookingID: "bk-run",
		UserID:    "user-1",
		Role:      "fan",
		Machine:   NewMachine(DefaultPolicy()),
		Provider:  prov,
		Logger:    callevents.NewLogger(quietLogger(), repo),
		Tokens:    staticTokens{},
		Fetch: func(context.Context) (booking.Booking, error) {
			return liveBooking(), nil
		},
		TickInterval: 10 * time.Millisecond,
		Log:          quietLogger(),
	})
	require.NoError(t, err)

	r.Start(context.Background())
	r.Stop()
	<-r.Done()

	r.mu.Lock()
	r.state.RoomURL = "https://example.daily.co/room-bk-run"
	r.mu.Unlock()

	// The join result has nowhere to be delivered; the joined handle must be
	// destroyed instead of leaking in the provider.
	r.doJoin()
	_, ok := prov.HandleFor("room-bk-run")
	require.False(t, ok)
}

func TestSnapshotKeepsFinalDurationAfterEnd(t *testing.T) {
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()

	r, err := NewRunner(RunnerConfig{
		BookingID: "bk-run",
		Machine:   NewMachine(DefaultPolicy()),
		Provider:  prov,
		Logger:    callevents.NewLogger(quietLogger(), repo),
		Tokens:    staticTokens{},
		Fetch: func(context.Context) (booking.Booking, error) {
			return liveBooking(), nil
		},
		Log: quietLogger(),
	})
	require.NoError(t, err)

	r.mu.Lock()
	r.state.Phase = PhaseEnded
	r.state.DurationSeconds = 900
	r.state.FinalElapsedSeconds = 500
	r.mu.Unlock()

	snap := r.Snapshot()
	require.Equal(t, 500, snap.ElapsedSeconds)
	require.Equal(t, 400, snap.RemainingSeconds)
}

func TestRunnerSignalsFlowThroughSource(t *testing.T) {
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()
	mgr := newTestManager(t, prov, repo, liveBooking())
	defer mgr.Shutdown(context.Background())

	r, err := mgr.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)

	waitPhase(t, r, PhasePreCall)
	require.True(t, r.Join())
	waitPhase(t, r, PhaseInCall)

	require.True(t, mgr.Signal("bk-run", SignalHidden))
	require.Eventually(t, func() bool {
		mgr.Logger().Wait()
		return repo.CountKind(callevents.KindDisconnectionInvoluntary) == 1
	}, time.Second, 5*time.Millisecond)

	require.True(t, mgr.Signal("bk-run", SignalVisible))
	require.Eventually(t, func() bool {
		mgr.Logger().Wait()
		return repo.CountKind(callevents.KindCallReconnect) == 1
	}, time.Second, 5*time.Millisecond)

	require.False(t, mgr.Signal("bk-run", SignalKind("bogus")))
	require.False(t, mgr.Signal("bk-other", SignalHidden))
}

func TestManagerSlotIsExclusive(t *testing.T) {
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()
	slots := NewMemorySlotStore()

	newMgr := func() *Manager {
		m, err := NewManager(ManagerConfig{
			Provider:     prov,
			Logger:       callevents.NewLogger(quietLogger(), repo),
			Tokens:       staticTokens{},
			Bookings:     stubBookings{b: liveBooking()},
			Slots:        slots,
			FetchTimeout: time.Second,
			TickInterval: 10 * time.Millisecond,
			Log:          quietLogger(),
		})
		require.NoError(t, err)
		return m
	}

	a := newMgr()
	b := newMgr()
	defer a.Shutdown(context.Background())
	defer b.Shutdown(context.Background())

	r1, err := a.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)

	// Reopening locally returns the same runner.
	r2, err := a.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)
	require.Same(t, r1, r2)

	// Another instance sharing the store is locked out.
	_, err = b.Open(context.Background(), "bk-run", "user-1", "fan")
	require.ErrorIs(t, err, ErrSessionActive)

	// Closing releases the slot.
	a.Close("bk-run")
	r3, err := b.Open(context.Background(), "bk-run", "user-1", "fan")
	require.NoError(t, err)
	require.NotSame(t, r1, r3)
}
