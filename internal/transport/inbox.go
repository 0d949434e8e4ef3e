package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultInboxSize = 256

// inbox buffers frames received on client goroutines until the consumer
// polls. It wakes the consumer with at most one pending NoticeFrames.
type inbox struct {
	sourceID string
	handoff  *Handoff

	mu      sync.Mutex
	frames  []Frame
	limit   int
	dropped uint64

	pending atomic.Bool
}

func newInbox(sourceID string, h *Handoff, limit int) *inbox {
	if limit < 1 {
		limit = defaultInboxSize
	}
	return &inbox{sourceID: sourceID, handoff: h, limit: limit}
}

// push stores data and wakes the consumer. When full the oldest frame is
// dropped so that the consumer always sees the freshest readings.
func (b *inbox) push(data []byte) {
	f := Frame{SourceID: b.sourceID, Data: append([]byte(nil), data...), At: time.Now()}

	b.mu.Lock()
	if len(b.frames) >= b.limit {
		b.frames = b.frames[1:]
		b.dropped++
	}
	b.frames = append(b.frames, f)
	b.mu.Unlock()

	if b.pending.CompareAndSwap(false, true) && b.handoff != nil {
		if !b.handoff.Post(Notice{SourceID: b.sourceID, Type: NoticeFrames}) {
			b.pending.Store(false)
		}
	}
}

// drain returns and clears buffered frames.
func (b *inbox) drain() []Frame {
	b.pending.Store(false)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil
	}
	out := b.frames
	b.frames = nil
	return out
}

func (b *inbox) droppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
