package session

// SignalKind names a client lifecycle signal: the ambient browser state
// (document visibility, page unload) reported by the call page.
type SignalKind string

const (
	SignalHidden       SignalKind = "hidden"
	SignalVisible      SignalKind = "visible"
	SignalBeforeUnload SignalKind = "before-unload"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalHidden, SignalVisible, SignalBeforeUnload:
		return true
	default:
		return false
	}
}

// SignalSource abstracts where lifecycle signals come from, so the state
// machine can be driven without a real client: tests use a ChannelSignalSource
// and emit hide/show/unload deterministically.
type SignalSource interface {
	Signals() <-chan SignalKind
}

// ChannelSignalSource is the channel-backed SignalSource used both by the
// HTTP layer (signals reported by the call page) and by tests.
type ChannelSignalSource struct {
	ch chan SignalKind
}

func NewChannelSignalSource() *ChannelSignalSource {
	return &ChannelSignalSource{ch: make(chan SignalKind, 8)}
}

func (s *ChannelSignalSource) Signals() <-chan SignalKind { return s.ch }

// Emit delivers one signal. Non-blocking: if the session is not draining
// signals (already torn down), the signal is dropped.
func (s *ChannelSignalSource) Emit(k SignalKind) bool {
	select {
	case s.ch <- k:
		return true
	default:
		return false
	}
}
