package room

import (
	"context"
	"errors"
	"sync"
)

// FakeProvider is a scriptable in-memory provider for tests and local runs.
// Tests drive the session by emitting events on a handle via Emit.
type FakeProvider struct {
	// JoinErr, when set, makes every Join fail with this error.
	JoinErr error

	// CreateErr, when set, makes CreateRoom fail.
	CreateErr error

	mu      sync.Mutex
	handles map[string]*FakeHandle
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{handles: make(map[string]*FakeHandle)}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *FakeProvider) CreateRoom(ctx context.Context, opts RoomOptions) (Handle, error) {
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	callID, err := CallIDFromURL(opts.URL)
	if err != nil {
		return nil, err
	}

	h := &FakeHandle{
		provider: p,
		callID:   callID,
		events:   make(chan Event, 32),
	}
	p.mu.Lock()
	p.handles[callID] = h
	p.mu.Unlock()
	return h, nil
}

// HandleFor returns the live handle for a call id, if any.
func (p *FakeProvider) HandleFor(callID string) (*FakeHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[callID]
	return h, ok
}

type FakeHandle struct {
	provider *FakeProvider
	callID   string

	mu        sync.Mutex
	joined    bool
	left      bool
	destroyed bool
	video     bool
	audio     bool
	events    chan Event
}

func (h *FakeHandle) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	if h.provider.JoinErr != nil {
		return JoinResult{}, h.provider.JoinErr
	}
	if req.Token == "" {
		return JoinResult{}, errors.New("room: join token is required")
	}
	h.mu.Lock()
	h.joined = true
	h.mu.Unlock()
	h.Emit(Event{Type: EventJoinedMeeting})
	return JoinResult{CallID: h.callID}, nil
}

func (h *FakeHandle) Leave(ctx context.Context) error {
	h.mu.Lock()
	h.left = true
	h.mu.Unlock()
	h.Emit(Event{Type: EventLeftMeeting})
	return nil
}

func (h *FakeHandle) SetLocalVideo(enabled bool) {
	h.mu.Lock()
	h.video = enabled
	h.mu.Unlock()
}

func (h *FakeHandle) SetLocalAudio(enabled bool) {
	h.mu.Lock()
	h.audio = enabled
	h.mu.Unlock()
}

func (h *FakeHandle) Events() <-chan Event { return h.events }

func (h *FakeHandle) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	close(h.events)
	h.mu.Unlock()

	h.provider.mu.Lock()
	delete(h.provider.handles, h.callID)
	h.provider.mu.Unlock()
}

// Emit injects a provider event, as a webhook dispatcher would.
func (h *FakeHandle) Emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return
	}
	select {
	case h.events <- ev:
	default:
	}
}

// Joined reports whether Join completed on this handle.
func (h *FakeHandle) Joined() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joined
}

// Left reports whether Leave was requested on this handle.
func (h *FakeHandle) Left() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.left
}

// Destroyed reports whether the handle has been torn down.
func (h *FakeHandle) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}
