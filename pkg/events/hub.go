package events

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventHub fans progress events out to any number of subscribers. A nil
// hub drops everything, so producers never need to check for one.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[chan Event]filter
	closed bool
}

// filter selects event names for one subscriber. A nil filter passes all.
type filter map[string]struct{}

func (f filter) pass(name string) bool {
	if f == nil {
		return true
	}
	_, ok := f[name]
	return ok
}

const defaultBuffer = 64

func NewEventHub() *EventHub { return &EventHub{subs: make(map[chan Event]filter)} }

// Subscribe returns a channel receiving every event published from now on.
// The channel is closed by Unsubscribe or Close.
func (h *EventHub) Subscribe() chan Event {
	return h.SubscribeNames(defaultBuffer)
}

// SubscribeNames is like Subscribe, but the channel only receives events
// with one of the given names (all events if none are given) and holds up
// to buffer of them. A subscriber that knows how many events it will get
// can size buffer so nothing is dropped.
func (h *EventHub) SubscribeNames(buffer int, names ...string) chan Event {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	var f filter
	if len(names) > 0 {
		f = make(filter, len(names))
		for _, n := range names {
			f[n] = struct{}{}
		}
	}

	ch := make(chan Event, buffer)
	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subs[ch] = f
	}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Close closes every subscriber channel. Later publishes are dropped.
func (h *EventHub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	for ch := range h.subs {
		close(ch)
	}
	h.subs = map[chan Event]filter{}
	h.closed = true
	h.mu.Unlock()
}

func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Debug("failed to encode event")
		return
	}
	msg := Event{Name: name, Data: b}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for ch, f := range h.subs {
		if !f.pass(name) {
			continue
		}
		// Non-blocking send; drop if subscriber is slow
		select {
		case ch <- msg:
		default:
		}
	}
}
