package booking

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_GetDecodesBooking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bookings/bk_1" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"booking":{"id":"bk_1","status":"CONFIRMED","callOffer":{"title":"Coffee chat","dateTime":"2026-03-01T17:00:00Z","duration":30},"roomUrl":"https://rooms.example.com/bk-1-room","isTestBooking":false}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	b, err := c.Get(context.Background(), "bk_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %q", b.Status)
	}
	if b.CallOffer.DurationMinutes != 30 {
		t.Fatalf("expected duration 30, got %d", b.CallOffer.DurationMinutes)
	}
	if b.DurationSeconds() != 1800 {
		t.Fatalf("expected 1800s, got %d", b.DurationSeconds())
	}
	if got := b.ScheduledEnd(); !got.Equal(b.CallOffer.DateTime.Add(30 * time.Minute)) {
		t.Fatalf("unexpected scheduled end %v", got)
	}
}

func TestClient_GetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	_, err := c.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_GetTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, 20*time.Millisecond)
	if _, err := c.Get(context.Background(), "bk_1"); err == nil {
		t.Fatalf("expected timeout error")
	}
}
