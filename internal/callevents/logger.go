package callevents

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Logger submits call events to its sinks, best-effort.
//
// Contract (deliberate simplicity/availability trade-off):
// - Record never returns an error and never blocks the caller.
// - Each call is an independent write: no retry, no ordering guarantee
//   across events.
// - Sink failures are swallowed and logged at debug level only; losing an
//   occasional audit event is acceptable, stalling the call flow is not.
type Logger struct {
	sinks []Repository
	log   *slog.Logger
	clock func() time.Time

	// writeTimeout bounds each sink write so a slow sink cannot pile up
	// goroutines indefinitely.
	writeTimeout time.Duration

	wg sync.WaitGroup
}

func NewLogger(log *slog.Logger, sinks ...Repository) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		sinks:        sinks,
		log:          log,
		clock:        time.Now,
		writeTimeout: 5 * time.Second,
	}
}

// Record submits one event, fire-and-forget.
// Invalid input is dropped (and debug-logged) rather than surfaced: logging
// must never be a source of user-visible failure.
func (l *Logger) Record(bookingID string, kind Kind, meta Metadata) {
	if bookingID == "" || !kind.Valid() {
		l.log.Debug("call event dropped", "booking_id", bookingID, "event", string(kind))
		return
	}

	payload := ""
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			l.log.Debug("call event metadata marshal failed", "event", string(kind), "err", err)
		} else {
			payload = string(raw)
		}
	}

	e := Event{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		Kind:      kind,
		Metadata:  payload,
		CreatedAt: l.clock().UTC(),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
		defer cancel()
		for _, s := range l.sinks {
			if err := s.Append(ctx, e); err != nil {
				l.log.Debug("call event write failed", "booking_id", e.BookingID, "event", string(e.Kind), "err", err)
			}
		}
	}()
}

// Wait blocks until all in-flight writes have finished.
// Used at shutdown and in tests; never on the session path.
func (l *Logger) Wait() {
	l.wg.Wait()
}
