package api

import (
	"sync"
)

// Event is one sync/ingest lifecycle event fanned out to operator
// streams (SSE per appointment, websocket firehose).
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// The wildcard topic receives every published event.
const topicAll = "*"

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // appointmentId (or "*") -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[topic]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(appointmentID string, eventType string, data map[string]any) {
	evt := Event{Type: eventType, Data: data}
	b.mu.Lock()
	for _, topic := range []string{appointmentID, topicAll} {
		for ch := range b.subs[topic] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	b.mu.Unlock()
}
