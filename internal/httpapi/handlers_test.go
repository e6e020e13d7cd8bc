package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/auth"
	"github.com/StreallyX/callastar-sub000/internal/booking"
	"github.com/StreallyX/callastar-sub000/internal/callevents"
	"github.com/StreallyX/callastar-sub000/internal/config"
	"github.com/StreallyX/callastar-sub000/internal/rbac"
	"github.com/StreallyX/callastar-sub000/internal/room"
	"github.com/StreallyX/callastar-sub000/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router   *gin.Engine
	provider *room.FakeProvider
	repo     *callevents.MemoryRepo
	sessions *session.Manager
	auth     *auth.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bookingSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bookings/bk-http" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"booking": map[string]any{
				"id":     "bk-http",
				"status": "CONFIRMED",
				"callOffer": map[string]any{
					"title":    "Portfolio review",
					"dateTime": time.Now().UTC().Format(time.RFC3339),
					"duration": 30,
				},
				"roomUrl": "https://example.daily.co/room-bk-http",
			},
		})
	}))
	t.Cleanup(bookingSrv.Close)

	bookings, err := booking.NewClient(bookingSrv.URL, time.Second)
	require.NoError(t, err)

	authMgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:    "test-secret",
		JWTIssuer:    "callastar",
		CallTokenTTL: 10 * time.Minute,
	})
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov := room.NewFakeProvider()
	repo := callevents.NewMemoryRepo()
	logger := callevents.NewLogger(quiet, repo)

	sessions, err := session.NewManager(session.ManagerConfig{
		Provider:     prov,
		Logger:       logger,
		Tokens:       authMgr,
		Bookings:     bookings,
		FetchTimeout: time.Second,
		TickInterval: 10 * time.Millisecond,
		Log:          quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Shutdown(context.Background()) })

	h := Handlers{
		Auth:     authMgr,
		Sessions: sessions,
		Bookings: bookings,
		Events:   logger,
	}

	r := gin.New()
	r.POST("/v1/call-access-token", h.IssueCallAccessToken)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireCallToken(authMgr))
	v1.POST("/call-events", h.RecordEvent)

	sess := v1.Group("/bookings/:booking_id")
	sess.Use(rbac.RequireBookingScope("booking_id"))
	{
		sess.POST("/session", h.OpenSession)
		sess.GET("/session", h.GetSession)
		sess.DELETE("/session", h.CloseSession)
		sess.POST("/session/join", h.JoinCall)
		sess.POST("/session/leave", h.LeaveCall)
		sess.POST("/session/media", h.UpdateMedia)
		sess.POST("/session/signals", h.ReportSignal)
	}

	return &fixture{router: r, provider: prov, repo: repo, sessions: sessions, auth: authMgr}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) accessToken(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/call-access-token", "", map[string]string{
		"user_id":    "user-1",
		"booking_id": "bk-http",
		"role":       "fan",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func (f *fixture) waitPhase(t *testing.T, token string, want session.Phase) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/v1/bookings/bk-http/session", token, nil)
		if w.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
		return snap.Phase == want
	}, 2*time.Second, 10*time.Millisecond, "never reached phase %s", want)
	return snap
}

func TestCallSessionOverHTTP(t *testing.T) {
	f := newFixture(t)
	token := f.accessToken(t)

	w := f.do(t, http.MethodPost, "/v1/bookings/bk-http/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	snap := f.waitPhase(t, token, session.PhasePreCall)
	require.True(t, snap.PreviewActive)
	require.Equal(t, "Portfolio review", snap.Title)

	w = f.do(t, http.MethodPost, "/v1/bookings/bk-http/session/join", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	snap = f.waitPhase(t, token, session.PhaseInCall)
	require.Equal(t, "room-bk-http", snap.CallID)

	w = f.do(t, http.MethodPost, "/v1/bookings/bk-http/session/media", token, map[string]bool{"camera": false})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, "/v1/bookings/bk-http/session/signals", token, map[string]string{"signal": "hidden"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, "/v1/bookings/bk-http/session/leave", token, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	f.waitPhase(t, token, session.PhaseEnded)

	w = f.do(t, http.MethodDelete, "/v1/bookings/bk-http/session", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	f.sessions.Logger().Wait()
	kinds := f.repo.Kinds()
	require.Contains(t, kinds, callevents.KindPreCallEntered)
	require.Contains(t, kinds, callevents.KindSessionStart)
	require.Contains(t, kinds, callevents.KindCameraToggled)
	require.Contains(t, kinds, callevents.KindDisconnectionInvoluntary)
	require.Contains(t, kinds, callevents.KindSessionEnd)
}

func TestSessionEndpointsRequireToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/bookings/bk-http/session", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenIsScopedToItsBooking(t *testing.T) {
	f := newFixture(t)
	token := f.accessToken(t)

	w := f.do(t, http.MethodPost, "/v1/bookings/bk-other/session", token, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAccessTokenRejectsUnknownBooking(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/call-access-token", "", map[string]string{
		"user_id":    "user-1",
		"booking_id": "bk-missing",
		"role":       "fan",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordEventValidatesKind(t *testing.T) {
	f := newFixture(t)
	token := f.accessToken(t)

	w := f.do(t, http.MethodPost, "/v1/call-events", token, map[string]any{
		"event": "NOT_A_THING",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/call-events", token, map[string]any{
		"event":    "FULLSCREEN_ENTERED",
		"metadata": map[string]any{},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	f.sessions.Logger().Wait()
	require.Equal(t, 1, f.repo.CountKind(callevents.KindFullscreenEntered))
}

type stubDispatcher struct {
	callID string
	ev     room.Event
	ok     bool
}

func (d *stubDispatcher) DispatchWebhook(callID string, ev room.Event) bool {
	d.callID = callID
	d.ev = ev
	return d.ok
}

func TestRoomWebhookDispatches(t *testing.T) {
	gin.SetMode(gin.TestMode)
	d := &stubDispatcher{ok: true}
	h := Handlers{Webhooks: d}

	r := gin.New()
	r.POST("/webhooks/room/:call_id", h.RoomWebhook)

	body, _ := json.Marshal(map[string]any{
		"type":           "participant-joined",
		"participant_id": "p-9",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/room/room-xyz", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "room-xyz", d.callID)
	require.Equal(t, room.EventParticipantJoined, d.ev.Type)

	d.ok = false
	req = httptest.NewRequest(http.MethodPost, "/webhooks/room/room-xyz", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
