package server

import (
	"context"
	"sync"
	"time"
)

// Change feed topics. TopicAll subscribers receive every event.
const (
	TopicAll         = "all"
	TopicToday       = "today"
	TopicStreak      = "streak"
	TopicFavorites   = "favorites"
	TopicHistory     = "history"
	TopicEntitlement = "entitlement"

	eventHeartbeat = "heartbeat"
)

var knownTopics = map[string]struct{}{
	TopicAll:         {},
	TopicToday:       {},
	TopicStreak:      {},
	TopicFavorites:   {},
	TopicHistory:     {},
	TopicEntitlement: {},
}

// ChangeEvent tells subscribers that state under a topic changed.
type ChangeEvent struct {
	Topic     string    `json:"topic"`
	Day       string    `json:"day,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventDispatcher fans change events out to in-process subscribers. Sends
// never block: a subscriber whose buffer is full misses the event.
type EventDispatcher struct {
	mu         sync.RWMutex
	topics     map[string]map[*subscription]struct{}
	bufferSize int
}

type subscription struct {
	topic  string
	stream chan ChangeEvent
	once   sync.Once
}

func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		topics:     make(map[string]map[*subscription]struct{}),
		bufferSize: 16,
	}
}

// Subscribe returns a stream of events for topic and a cancel function.
// The subscription ends when ctx is done or cancel is called, whichever comes
// first; either way the stream is closed exactly once, so readers can range
// over it. An unknown topic yields an already closed stream.
func (d *EventDispatcher) Subscribe(ctx context.Context, topic string) (<-chan ChangeEvent, func()) {
	if _, ok := knownTopics[topic]; !ok {
		closed := make(chan ChangeEvent)
		close(closed)
		return closed, func() {}
	}

	sub := &subscription{topic: topic, stream: make(chan ChangeEvent, d.bufferSize)}
	d.mu.Lock()
	if d.topics[topic] == nil {
		d.topics[topic] = make(map[*subscription]struct{})
	}
	d.topics[topic][sub] = struct{}{}
	d.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { d.remove(sub) })
	return sub.stream, func() {
		stop()
		d.remove(sub)
	}
}

// Publish delivers event to subscribers of its topic and of TopicAll. Events
// without a topic, or addressed to TopicAll itself, are dropped.
func (d *EventDispatcher) Publish(event ChangeEvent) {
	if event.Topic == "" || event.Topic == TopicAll {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Sends happen under the read lock so remove cannot close a stream mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, topic := range [...]string{event.Topic, TopicAll} {
		for sub := range d.topics[topic] {
			select {
			case sub.stream <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (d *EventDispatcher) SubscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[topic])
}

func (d *EventDispatcher) remove(sub *subscription) {
	sub.once.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if subs := d.topics[sub.topic]; subs != nil {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(d.topics, sub.topic)
			}
		}
		close(sub.stream)
	})
}
