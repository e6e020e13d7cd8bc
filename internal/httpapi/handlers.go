package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/StreallyX/callastar-sub000/internal/auth"
	"github.com/StreallyX/callastar-sub000/internal/booking"
	"github.com/StreallyX/callastar-sub000/internal/callevents"
	"github.com/StreallyX/callastar-sub000/internal/rbac"
	"github.com/StreallyX/callastar-sub000/internal/room"
	"github.com/StreallyX/callastar-sub000/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// EventLister reads back a booking's recorded call events.
// *callevents.PostgresRepo satisfies it.
type EventLister interface {
	ListByBooking(ctx context.Context, bookingID string) ([]callevents.Event, error)
}

// WebhookDispatcher routes provider webhook events to the owning session.
// *room.DailyProvider satisfies it.
type WebhookDispatcher interface {
	DispatchWebhook(callID string, ev room.Event) bool
}

type Handlers struct {
	Auth     *auth.Manager
	Sessions *session.Manager
	Bookings *booking.Client
	Events   *callevents.Logger
	History  EventLister
	Webhooks WebhookDispatcher
}

/* ===================== tokens ===================== */

type callAccessTokenRequest struct {
	UserID    string `json:"user_id"`
	BookingID string `json:"booking_id"`
	Role      string `json:"role"`
}

// IssueCallAccessToken mints the short-lived token the call page presents on
// every session endpoint. The token is pinned to the booking's room, so it
// cannot open anyone else's call.
//
// NOTE: upstream platform auth is assumed to have already identified the user.
func (h Handlers) IssueCallAccessToken(c *gin.Context) {
	var req callAccessTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.BookingID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, booking_id, role required"})
		return
	}
	if req.Role != rbac.RoleFan && req.Role != rbac.RoleCreator && req.Role != rbac.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	b, err := h.Bookings.Get(c.Request.Context(), req.BookingID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "booking not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "booking lookup failed"})
		return
	}

	roomName, err := room.CallIDFromURL(b.RoomURL)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "booking has no usable room"})
		return
	}

	tok, err := h.Auth.IssueCallToken(time.Now(), req.UserID, req.BookingID, roomName, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

/* ===================== session lifecycle ===================== */

// OpenSession starts (or returns) the caller's session for the booking. The
// response is the current snapshot; the client polls GetSession afterwards.
func (h Handlers) OpenSession(c *gin.Context) {
	bookingID := c.Param("booking_id")
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())

	r, err := h.Sessions.Open(c.Request.Context(), bookingID, userID, role)
	if err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a session for this booking is already active"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session open failed"})
		return
	}
	c.JSON(http.StatusOK, r.Snapshot())
}

func (h Handlers) GetSession(c *gin.Context) {
	r, ok := h.Sessions.Get(c.Param("booking_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, r.Snapshot())
}

func (h Handlers) JoinCall(c *gin.Context) {
	r, ok := h.Sessions.Get(c.Param("booking_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	r.Join()
	c.JSON(http.StatusAccepted, r.Snapshot())
}

func (h Handlers) LeaveCall(c *gin.Context) {
	r, ok := h.Sessions.Get(c.Param("booking_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	r.Leave()
	c.JSON(http.StatusAccepted, r.Snapshot())
}

// CloseSession tears the session down, releasing the room handle, the preview
// claim and the booking's session slot.
func (h Handlers) CloseSession(c *gin.Context) {
	h.Sessions.Close(c.Param("booking_id"))
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

/* ===================== in-call controls ===================== */

type mediaRequest struct {
	Camera *bool `json:"camera,omitempty"`
	Mic    *bool `json:"mic,omitempty"`
}

// UpdateMedia toggles camera and/or mic. Absent fields are untouched.
func (h Handlers) UpdateMedia(c *gin.Context) {
	r, ok := h.Sessions.Get(c.Param("booking_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Camera == nil && req.Mic == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "camera or mic required"})
		return
	}
	if req.Camera != nil {
		r.ToggleCamera(*req.Camera)
	}
	if req.Mic != nil {
		r.ToggleMic(*req.Mic)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

type fullscreenRequest struct {
	Entered bool `json:"entered"`
}

func (h Handlers) UpdateFullscreen(c *gin.Context) {
	r, ok := h.Sessions.Get(c.Param("booking_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	var req fullscreenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	r.SetFullscreen(req.Entered)
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

// MediaPermissionDenied reports a camera/mic permission denial from the
// pre-call preview. Non-fatal for the session.
func (h Handlers) MediaPermissionDenied(c *gin.Context) {
	r, ok := h.Sessions.Get(c.Param("booking_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	r.MediaPermissionDenied()
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

/* ===================== lifecycle signals ===================== */

type signalRequest struct {
	Signal string `json:"signal"`
}

// ReportSignal feeds a client lifecycle signal (hidden, visible,
// before-unload) into the booking's session.
func (h Handlers) ReportSignal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	k := session.SignalKind(req.Signal)
	if !k.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown signal"})
		return
	}
	if !h.Sessions.Signal(c.Param("booking_id"), k) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "ok"})
}

/* ===================== call events ===================== */

type recordEventRequest struct {
	Event    string          `json:"event"`
	Metadata eventMetaFields `json:"metadata"`
}

// eventMetaFields is the superset of client-suppliable metadata fields; the
// recorded variant is chosen by kind.
type eventMetaFields struct {
	Reason          string `json:"reason,omitempty"`
	Stage           string `json:"stage,omitempty"`
	DurationSeconds int    `json:"duration,omitempty"`
	Enabled         *bool  `json:"enabled,omitempty"`
	ParticipantID   string `json:"participant_id,omitempty"`
	CallID          string `json:"call_id,omitempty"`
}

// RecordEvent appends one client-reported call event for the token's booking.
// Fire-and-forget: the response only acknowledges receipt.
func (h Handlers) RecordEvent(c *gin.Context) {
	bookingID, err := auth.BookingID(c.Request.Context())
	if err != nil || bookingID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "booking_id required"})
		return
	}

	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	kind := callevents.Kind(req.Event)
	if !kind.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown event"})
		return
	}

	h.Events.Record(bookingID, kind, metaForKind(kind, req.Metadata))
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func metaForKind(kind callevents.Kind, f eventMetaFields) callevents.Metadata {
	switch kind {
	case callevents.KindDisconnectionVoluntary, callevents.KindDisconnectionInvoluntary:
		return callevents.DisconnectMeta{Reason: f.Reason, DurationSeconds: f.DurationSeconds}
	case callevents.KindCallReconnect:
		return callevents.ReconnectMeta{Reason: f.Reason}
	case callevents.KindCallError:
		return callevents.ErrorMeta{Stage: f.Stage, Reason: f.Reason}
	case callevents.KindCameraToggled, callevents.KindMicToggled:
		enabled := false
		if f.Enabled != nil {
			enabled = *f.Enabled
		}
		return callevents.ToggleMeta{Enabled: enabled}
	case callevents.KindParticipantJoined, callevents.KindParticipantLeft:
		return callevents.ParticipantMeta{ParticipantID: f.ParticipantID}
	case callevents.KindCallJoin, callevents.KindSessionStart,
		callevents.KindCallLeave, callevents.KindSessionEnd:
		return callevents.SessionMeta{CallID: f.CallID, DurationSeconds: f.DurationSeconds}
	default:
		return nil
	}
}

// ListEvents returns a booking's recorded events in insertion order.
// RBAC: creator or admin.
func (h Handlers) ListEvents(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "event history not configured"})
		return
	}
	bookingID := c.Param("booking_id")
	events, err := h.History.ListByBooking(c.Request.Context(), bookingID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking_id": bookingID, "events": events})
}

/* ===================== provider webhooks ===================== */

type roomWebhookRequest struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id,omitempty"`
	Message       string `json:"message,omitempty"`
	Fatal         bool   `json:"fatal,omitempty"`
	Quality       int    `json:"quality,omitempty"`
	Connection    string `json:"connection,omitempty"`
}

// RoomWebhook ingests a provider room event and routes it to the session that
// owns the call.
//
// NOTE: production deployments must verify the provider's webhook signature.
func (h Handlers) RoomWebhook(c *gin.Context) {
	if h.Webhooks == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "webhooks not configured"})
		return
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return
	}
	var req roomWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ev := room.Event{
		Type:          room.EventType(req.Type),
		ParticipantID: req.ParticipantID,
		Message:       req.Message,
		Fatal:         req.Fatal,
		Quality:       req.Quality,
		Connection:    room.ConnectionType(req.Connection),
	}
	if !h.Webhooks.DispatchWebhook(callID, ev) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no live call for this room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dispatched"})
}
