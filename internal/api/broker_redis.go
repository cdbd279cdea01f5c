package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// EventBroker fans sync/ingest events to subscribed operator streams.
type EventBroker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(appointmentID string, eventType string, data map[string]any)
}

// RedisBroker implements EventBroker over Redis Pub/Sub so multiple
// instances share one event stream.
type RedisBroker struct {
	rdb *redis.Client

	mu  sync.Mutex
	sub map[chan Event]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), sub: map[chan Event]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	var ps *redis.PubSub
	if topic == topicAll {
		ps = b.rdb.PSubscribe(ctx, "appointment:*")
	} else {
		ps = b.rdb.Subscribe(ctx, "appointment:"+topic)
	}
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.sub[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	ps := b.sub[ch]
	delete(b.sub, ch)
	b.mu.Unlock()
	// closing the PubSub ends its channel; the reader goroutine then closes ch
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(appointmentID string, eventType string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, _ := json.Marshal(Event{Type: eventType, Data: data})
	_ = b.rdb.Publish(ctx, "appointment:"+appointmentID, payload).Err()
}
