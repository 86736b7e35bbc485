package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/darwishdev/abc-hotels/hotel"
)

// =============================================================================
// HUB - In-process fan-out for SSE clients
// =============================================================================

// Hub routes events to subscribed listeners. A targeted event reaches the
// listeners of that subscriber; a broadcast event reaches everyone. Slow
// listeners lose events rather than slowing the hub.
type Hub struct {
	mu        sync.RWMutex
	listeners map[*listener]struct{}
}

type listener struct {
	subscriber hotel.Subscriber
	ch         chan Event
}

func NewHub() *Hub {
	return &Hub{listeners: make(map[*listener]struct{})}
}

// Subscribe registers a listener. Call cancel to unregister; the channel is
// closed afterwards.
func (h *Hub) Subscribe(sub hotel.Subscriber, buffer int) (events <-chan Event, cancel func()) {
	if buffer < 1 {
		buffer = 16
	}
	l := &listener{subscriber: sub, ch: make(chan Event, buffer)}
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return l.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, l)
			h.mu.Unlock()
			close(l.ch)
		})
	}
}

func (h *Hub) Send(_ context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		if e.Subscriber != "" && l.subscriber != e.Subscriber {
			continue
		}
		select {
		case l.ch <- e:
		default:
		}
	}
	return nil
}

// Listeners returns the number of registered listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// =============================================================================
// REDIS SINK - Pub/Sub across processes
// =============================================================================

// RedisSink publishes events as JSON to "<prefix>:progress:<subscriber>", or
// "<prefix>:progress:broadcast" for untargeted events.
type RedisSink struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisSink(rdb redis.UniversalClient, prefix string) *RedisSink {
	return &RedisSink{rdb: rdb, prefix: prefix}
}

// Channel returns the channel an event for sub is published on.
func (s *RedisSink) Channel(sub hotel.Subscriber) string {
	if sub == "" {
		return fmt.Sprintf("%s:progress:broadcast", s.prefix)
	}
	return fmt.Sprintf("%s:progress:%s", s.prefix, sub)
}

func (s *RedisSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Name, err)
	}
	return s.rdb.Publish(ctx, s.Channel(e.Subscriber), body).Err()
}

// Forward relays events published by other processes into the hub until ctx
// is done. Targeted and broadcast channels are both followed.
func (s *RedisSink) Forward(ctx context.Context, hub *Hub) error {
	ps := s.rdb.PSubscribe(ctx, fmt.Sprintf("%s:progress:*", s.prefix))
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe progress channels: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var raw struct {
				Event
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &raw); err != nil {
				continue
			}
			e := raw.Event
			e.Payload = raw.Payload
			_ = hub.Send(ctx, e)
		}
	}
}

var (
	_ Sink = (*Hub)(nil)
	_ Sink = (*RedisSink)(nil)
)
