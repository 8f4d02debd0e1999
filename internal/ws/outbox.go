package ws

import "sync"

// outbox holds frames waiting for a connection's write pump. It has two
// lanes: replies to the connection's own requests, which are never dropped,
// and broadcast events, which are bounded and shed their oldest entry when
// full.
type outbox struct {
	mu      sync.Mutex
	replies [][]byte
	events  [][]byte
	limit   int
	dropped int
	ready   chan struct{}
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// pushEvent queues a broadcast frame and reports whether an older frame had
// to be dropped to make room.
func (o *outbox) pushEvent(msg []byte) (dropped bool) {
	o.mu.Lock()
	if len(o.events) >= o.limit {
		o.events[0] = nil
		o.events = o.events[1:]
		o.dropped++
		dropped = true
	}
	o.events = append(o.events, msg)
	o.mu.Unlock()
	o.signal()
	return dropped
}

func (o *outbox) pushReply(msg []byte) {
	o.mu.Lock()
	o.replies = append(o.replies, msg)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

// drain takes everything queued. dropped is the number of events shed since
// the previous drain.
func (o *outbox) drain() (replies, events [][]byte, dropped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	replies, events, dropped = o.replies, o.events, o.dropped
	o.replies, o.events, o.dropped = nil, nil, 0
	return replies, events, dropped
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.replies) + len(o.events)
}
