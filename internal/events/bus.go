package events

import (
	"sync"
)

// Envelope tags a payload with its topic for subscribers of several topics.
type Envelope struct {
	Topic   Event `json:"topic"`
	Payload any   `json:"payload"`
}

type subscriber struct {
	ch   chan any
	wrap bool
}

// Bus is a lightweight pub/sub broker using channels. A nil *Bus drops everything.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]*subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]*subscriber)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	return b.subscribe([]Event{e}, buffer, false)
}

// SubscribeAll registers one listener for several events. Payloads arrive wrapped in Envelope.
func (b *Bus) SubscribeAll(topics []Event, buffer int) (<-chan any, func()) {
	return b.subscribe(topics, buffer, true)
}

func (b *Bus) subscribe(topics []Event, buffer int, wrap bool) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscriber{ch: make(chan any, buffer), wrap: wrap}
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], s)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				subs := b.subs[e]
				for i, cur := range subs {
					if cur == s {
						b.subs[e] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			close(s.ch)
		})
	}

	return s.ch, unsub
}

// Publish fan-outs the payload to subscribers asynchronously to avoid blocking.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[e] {
		msg := payload
		if s.wrap {
			msg = Envelope{Topic: e, Payload: payload}
		}
		select {
		case s.ch <- msg:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}
