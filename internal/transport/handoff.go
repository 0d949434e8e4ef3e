package transport

import "sync"

// NoticeType classifies what a pushed source's client reported.
type NoticeType string

const (
	// NoticeConnected means the client connected and its subscription is live.
	NoticeConnected NoticeType = "connected"
	// NoticeFrames means new frames are waiting in the source's inbox.
	NoticeFrames NoticeType = "frames"
	// NoticeLost means an established connection dropped.
	NoticeLost NoticeType = "lost"
	// NoticeConnectFailed means a connect or subscribe attempt failed.
	NoticeConnectFailed NoticeType = "connect_failed"
)

// Notice is a client callback turned into a message for the consumer.
type Notice struct {
	SourceID string
	Type     NoticeType
	Err      error
}

// Handoff is the single-consumer channel that client goroutines post to.
// Once closed, posts are dropped instead of blocking.
type Handoff struct {
	ch        chan Notice
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandoff returns a handoff buffered to size notices.
func NewHandoff(size int) *Handoff {
	if size < 1 {
		size = 64
	}
	return &Handoff{
		ch:   make(chan Notice, size),
		done: make(chan struct{}),
	}
}

// C is the receive side, drained by the consumer only.
func (h *Handoff) C() <-chan Notice { return h.ch }

// Done is closed when the consumer stops accepting notices.
func (h *Handoff) Done() <-chan struct{} { return h.done }

// Post delivers n, blocking while the buffer is full. It returns false when
// the handoff was closed first.
func (h *Handoff) Post(n Notice) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.ch <- n:
		return true
	case <-h.done:
		return false
	}
}

// Close stops accepting notices. Safe to call more than once.
func (h *Handoff) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
