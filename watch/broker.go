// Package watch fans a live CallEvent stream out to subscribers and
// serves it over HTTP as Server-Sent Events, the observability surface
// a running epcd daemon exposes to the terminal UI.
package watch

import (
	"sync"

	"github.com/eval-exec/go-epc/detect"
	"github.com/eval-exec/go-epc/epc"
)

// subscriberCapacity bounds each subscriber's buffered channel. A
// publish to a full subscriber is dropped rather than blocking the
// publisher, so one slow watcher can never stall the connections
// feeding the broker.
const subscriberCapacity = 256

// Broker fans out CallEvents published from one or more engines to any
// number of subscribers (typically one per open /api/events request).
type Broker struct {
	mu          sync.Mutex
	subscribers map[chan epc.CallEvent]struct{}
	detector    *detect.Detector
}

// NewBroker returns a Broker with no detector attached; events are
// forwarded to subscribers unannotated.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[chan epc.CallEvent]struct{})}
}

// WithDetector attaches a call-storm detector: every Call event, in
// either direction, is recorded under its direction-qualified
// method+args signature, and the copy forwarded to subscribers has
// Flood set once the threshold is crossed within the window.
func (b *Broker) WithDetector(d *detect.Detector) *Broker {
	b.detector = d
	return b
}

// Subscribe registers a new subscriber channel; the caller must call
// the returned cancel function when done watching.
func (b *Broker) Subscribe() (<-chan epc.CallEvent, func()) {
	ch := make(chan epc.CallEvent, subscriberCapacity)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish fans ev out to every current subscriber, non-blocking.
func (b *Broker) Publish(ev epc.CallEvent) {
	if b.detector != nil && ev.Kind == epc.KindCall {
		sig := detect.Signature(ev.Direction.String(), ev.Method, ev.Args)
		if r := b.detector.Record(sig, ev.StartTime); r.Matched {
			ev.Flood = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run drains events off src and publishes each one, until src is
// closed. Intended to be run in its own goroutine, fed by an Engine's
// WithEvents channel.
func (b *Broker) Run(src <-chan epc.CallEvent) {
	for ev := range src {
		b.Publish(ev)
	}
}
