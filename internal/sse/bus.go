package sse

import "sync"

// busCapacity bounds how far a slow consumer can lag a fast producer before
// the producer blocks (§4.5, §5: "back-pressure ... is acceptable and
// bounded by the client's read speed").
const busCapacity = 64

// Bus is a single-episode event pipe: one producer (the episode runtime),
// one consumer (the HTTP handler draining to the wire). If the client
// disconnects, the handler's Pump switches to Drain, which discards the
// remaining events so the runtime is never blocked on writing them (§4.5: "runtime continues to completion ... further events
// are discarded").
type Bus struct {
	ch     chan Event
	once   sync.Once
	closed chan struct{}
}

// NewBus constructs a Bus with the standard bounded capacity.
func NewBus() *Bus {
	return &Bus{ch: make(chan Event, busCapacity), closed: make(chan struct{})}
}

// Publish enqueues an event, blocking if the bus is full. It is a no-op
// after Close. Safe to call from exactly one producer goroutine only
// (ordering within an episode is producer-sequential per §5).
func (b *Bus) Publish(e Event) {
	select {
	case <-b.closed:
		return
	default:
	}
	select {
	case b.ch <- e:
	case <-b.closed:
	}
}

// Close signals no further events will be published. Idempotent.
func (b *Bus) Close() {
	b.once.Do(func() { close(b.closed) })
}

// Events returns the receive side for a consumer to range over. The channel
// is never closed directly (Publish after Close would panic on a closed
// channel); consumers should instead watch for an IsTerminal() event and
// stop reading, as Close only stops the producer from blocking further.
func (b *Bus) Events() <-chan Event { return b.ch }

// Drain consumes and discards every event until a terminal one arrives or
// the bus is closed, so the producer never blocks when nobody is listening
// to the wire anymore.
func (b *Bus) Drain() {
	for {
		select {
		case e, ok := <-b.ch:
			if !ok {
				return
			}
			if e.IsTerminal() {
				return
			}
		case <-b.closed:
			return
		}
	}
}
