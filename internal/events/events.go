// Package events is the in-process pub/sub bus the pipeline publishes domain
// events to. Subscribers register and unregister explicitly; delivery never
// blocks the publisher.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topics published by the pipeline.
const (
	TopicCaptured  = "clip.captured"
	TopicUpdated   = "clip.updated"
	TopicRelocated = "clip.relocated"
	TopicBounced   = "capture.bounced"
	TopicDropped   = "capture.dropped"
	TopicExcluded  = "capture.excluded"
	TopicFailed    = "capture.failed"
	TopicPaused    = "capture.paused"
)

// Event is one domain event.
type Event struct {
	Topic      string    `json:"topic"`
	At         time.Time `json:"at"`
	Database   string    `json:"database,omitempty"`
	ClipID     uint      `json:"clip_id,omitempty"`
	Collection uint      `json:"collection_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Source     string    `json:"source,omitempty"`
	Count      int       `json:"count,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Subscriber receives events. Send must not block.
type Subscriber interface {
	ID() string
	Send(Event)
}

// Bus fans events out to every subscriber whose topic filter matches.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]entry
	latest map[string]Event
}

type entry struct {
	sub    Subscriber
	topics map[string]struct{}
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[string]entry),
		latest: make(map[string]Event),
	}
}

// Subscribe registers s for the given topics, or for every topic when none
// are given. Subscribing again replaces the previous topic filter.
func (b *Bus) Subscribe(s Subscriber, topics ...string) {
	var set map[string]struct{}
	if len(topics) > 0 {
		set = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			set[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[s.ID()] = entry{sub: s, topics: set}
	total := len(b.subs)
	b.mu.Unlock()

	slog.Debug("event subscriber registered", "subscriber", s.ID(), "topics", topics, "total", total)
}

// Unsubscribe removes s. Unknown subscribers are ignored.
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	delete(b.subs, s.ID())
	total := len(b.subs)
	b.mu.Unlock()

	slog.Debug("event subscriber unregistered", "subscriber", s.ID(), "total", total)
}

// Publish stamps e if needed, records it as the latest event of its topic and
// delivers it to matching subscribers.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	b.latest[e.Topic] = e
	targets := make([]Subscriber, 0, len(b.subs))
	for _, en := range b.subs {
		if en.topics != nil {
			if _, ok := en.topics[e.Topic]; !ok {
				continue
			}
		}
		targets = append(targets, en.sub)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.Send(e)
	}
}

// Latest returns the most recent event published on topic.
func (b *Bus) Latest(topic string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.latest[topic]
	return e, ok
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ChanSubscriber buffers events in a channel and drops them when the reader
// falls behind.
type ChanSubscriber struct {
	id string
	ch chan Event

	mu      sync.Mutex
	dropped int
}

// NewChanSubscriber returns a subscriber with the given buffer size.
func NewChanSubscriber(buffer int) *ChanSubscriber {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSubscriber{id: uuid.NewString(), ch: make(chan Event, buffer)}
}

func (c *ChanSubscriber) ID() string { return c.id }

// Send implements Subscriber.
func (c *ChanSubscriber) Send(e Event) {
	select {
	case c.ch <- e:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		slog.Debug("event subscriber full, dropping", "subscriber", c.id, "topic", e.Topic)
	}
}

// C returns the receive side of the buffer.
func (c *ChanSubscriber) C() <-chan Event { return c.ch }

// Dropped returns how many events were discarded because the buffer was full.
func (c *ChanSubscriber) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
