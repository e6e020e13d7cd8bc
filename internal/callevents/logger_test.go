package callevents

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLogger_RecordWritesEvent(t *testing.T) {
	repo := NewMemoryRepo()
	l := NewLogger(testLogger(), repo)

	l.Record("bk_1", KindDisconnectionVoluntary, DisconnectMeta{Reason: "user-action", DurationSeconds: 500})
	l.Wait()

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.BookingID != "bk_1" || e.Kind != KindDisconnectionVoluntary {
		t.Fatalf("unexpected event %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", e)
	}

	var meta DisconnectMeta
	if err := json.Unmarshal([]byte(e.Metadata), &meta); err != nil {
		t.Fatalf("metadata decode: %v", err)
	}
	if meta.Reason != "user-action" || meta.DurationSeconds != 500 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestLogger_DropsInvalidInput(t *testing.T) {
	repo := NewMemoryRepo()
	l := NewLogger(testLogger(), repo)

	l.Record("", KindCallJoin, nil)
	l.Record("bk_1", Kind("NOT_A_KIND"), nil)
	l.Wait()

	if got := len(repo.Events()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

type failingRepo struct{}

func (failingRepo) Append(ctx context.Context, e Event) error { return errors.New("down") }

func TestLogger_SwallowsSinkFailures(t *testing.T) {
	repo := NewMemoryRepo()
	l := NewLogger(testLogger(), failingRepo{}, repo)

	// The failing sink must not prevent the healthy one from being written.
	l.Record("bk_1", KindPreCallEntered, nil)
	l.Wait()

	if got := len(repo.Events()); got != 1 {
		t.Fatalf("expected 1 event despite failing sink, got %d", got)
	}
}

func TestHTTPSink_PostsEvent(t *testing.T) {
	var got sinkPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}

	l := NewLogger(testLogger(), sink)
	l.Record("bk_9", KindCallError, ErrorMeta{Stage: "join", Reason: "room unreachable"})
	l.Wait()

	if got.BookingID != "bk_9" || got.Event != "CALL_ERROR" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestHTTPSink_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, _ := NewHTTPSink(srv.URL)
	err := sink.Append(context.Background(), Event{BookingID: "bk_1", Kind: KindCallJoin})
	if err == nil {
		t.Fatalf("expected error for non-2xx")
	}
}
