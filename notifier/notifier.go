// Package notifier is a minimal fan-out primitive: pipeline runs
// publish "something changed" ticks, websocket streams subscribe.
package notifier

import (
	"sync"
)

type Notifier struct {
	mu          sync.Mutex
	subscribers map[chan struct{}]struct{}
}

func New() Notifier {
	return Notifier{
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel that receives a tick whenever
// NotifyAll is called. The channel has a buffer of one; ticks are
// coalesced, never queued.
func (n *Notifier) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *Notifier) Unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	delete(n.subscribers, ch)
	close(ch)
	n.mu.Unlock()
}

func (n *Notifier) NotifyAll() {
	n.mu.Lock()
	for ch := range n.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// subscriber already has a pending tick
		}
	}
	n.mu.Unlock()
}
