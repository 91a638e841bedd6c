package session

import (
	"context"
	"log"
	"sync"

	"github.com/coder/websocket"
	"github.com/docker/go-units"
)

// DefaultOutboxSize bounds buffered output when no size is configured.
const DefaultOutboxSize = 1024 * 1024

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// Outbox decouples process output from socket writes. Frames are queued in
// order; once the queued bytes exceed the limit the oldest frames are
// dropped whole until the queue fits again. The newest frame is always
// kept, even if it alone exceeds the limit.
type Outbox struct {
	mu        sync.Mutex
	queue     []frame
	size      int
	max       int
	dropped   int64
	closed    bool
	notify    chan struct{}
	logPrefix string
}

// NewOutbox creates an outbox holding at most max bytes.
// If max <= 0, DefaultOutboxSize is used.
func NewOutbox(max int, logPrefix string) *Outbox {
	if max <= 0 {
		max = DefaultOutboxSize
	}
	return &Outbox{
		max:       max,
		notify:    make(chan struct{}, 1),
		logPrefix: logPrefix,
	}
}

// Push queues a frame. It never blocks.
func (o *Outbox) Push(typ websocket.MessageType, data []byte) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, frame{typ: typ, data: data})
	o.size += len(data)
	for o.size > o.max && len(o.queue) > 1 {
		n := len(o.queue[0].data)
		o.queue[0] = frame{}
		o.queue = o.queue[1:]
		o.size -= n
		o.dropped += int64(n)
	}
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Close discards queued frames and stops Run.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.queue = nil
	o.size = 0
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Buffered returns the number of queued bytes.
func (o *Outbox) Buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// Dropped returns the bytes discarded since the last drain.
func (o *Outbox) Dropped() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

func (o *Outbox) pop() (frame, bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return frame{}, false, true
	}
	if len(o.queue) == 0 {
		if o.dropped > 0 {
			log.Printf("%s slow client, dropped %s of output", o.logPrefix, units.HumanSize(float64(o.dropped)))
			o.dropped = 0
		}
		return frame{}, false, false
	}
	f := o.queue[0]
	o.queue[0] = frame{}
	o.queue = o.queue[1:]
	o.size -= len(f.data)
	return f, true, false
}

// Run writes queued frames in order until the outbox is closed, ctx is
// cancelled, or write fails. Write errors are returned.
func (o *Outbox) Run(ctx context.Context, write func(ctx context.Context, typ websocket.MessageType, p []byte) error) error {
	for {
		f, ok, closed := o.pop()
		if closed {
			return nil
		}
		if ok {
			if err := write(ctx, f.typ, f.data); err != nil {
				return err
			}
			continue
		}
		select {
		case <-o.notify:
		case <-ctx.Done():
			return nil
		}
	}
}
