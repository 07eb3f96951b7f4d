package proxy

import (
	"context"
	"sync"
)

// outbox queues messages for one socket. Pending counts bytes queued or
// being written, so it stands in for the socket's unsent buffer.
type outbox struct {
	mu      sync.Mutex
	queue   []Message
	pending int64
	notify  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

// Pending returns the number of bytes not yet written.
func (o *outbox) Pending() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

func (o *outbox) push(m Message) {
	o.mu.Lock()
	o.queue = append(o.queue, m)
	o.pending += int64(m.Len())
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) pop() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.queue) == 0 {
		return nil, false
	}
	m := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return m, true
}

// done releases the bytes of a message after its write completed.
func (o *outbox) done(m Message) {
	o.mu.Lock()
	o.pending -= int64(m.Len())
	o.mu.Unlock()
}

// drain writes queued messages in order until ctx is done or write fails.
func (o *outbox) drain(ctx context.Context, write func(Message) error) error {
	for {
		for {
			m, ok := o.pop()
			if !ok {
				break
			}
			err := write(m)
			o.done(m)
			if err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-o.notify:
		}
	}
}
