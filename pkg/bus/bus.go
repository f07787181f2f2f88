package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel capacity. Sized to absorb
// token-chunk bursts from several agents streaming in parallel.
const subscriberBuffer = 256

// terminalSendTimeout bounds how long Publish blocks on a full subscriber
// for events that must not be dropped.
const terminalSendTimeout = 2 * time.Second

// Bus fans out collaboration events to per-session subscribers.
// Safe for concurrent use.
type Bus struct {
	mu sync.RWMutex
	// channel name → subscriber id → subscriber
	channels map[string]map[string]*subscriber

	// clockMu guards the per-channel timestamp floor so event timestamps
	// are monotonically non-decreasing within a session.
	clockMu sync.Mutex
	floor   map[string]time.Time
}

type subscriber struct {
	id   string
	ch   chan Event
	done chan struct{}

	// inflight counts publishers currently holding a reference to this
	// subscriber. The data channel closes only after they all return, so a
	// publisher blocked on a full buffer never sends on a closed channel.
	inflight sync.WaitGroup
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		channels: make(map[string]map[string]*subscriber),
		floor:    make(map[string]time.Time),
	}
}

// Subscribe registers a subscriber for a session's collaboration channel.
// The returned cancel func unregisters the subscriber and closes the channel
// once in-flight publishes drain; it is safe to call more than once.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	channel := SessionChannel(sessionID)
	sub := &subscriber{
		id:   uuid.New().String(),
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if _, ok := b.channels[channel]; !ok {
		b.channels[channel] = make(map[string]*subscriber)
	}
	b.channels[channel][sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.channels[channel]; ok {
				delete(subs, sub.id)
				if len(subs) == 0 {
					delete(b.channels, channel)
				}
			}
			b.mu.Unlock()
			close(sub.done)
			// Close the data channel only after in-flight publishers have
			// observed done and released the subscriber.
			go func() {
				sub.inflight.Wait()
				close(sub.ch)
			}()
		})
	}
	return sub.ch, cancel
}

// Publish stamps and delivers an event to every subscriber of the session's
// channel. Token-chunk events (agent_thought) are dropped for subscribers
// whose buffer is full; all other events block up to terminalSendTimeout.
func (b *Bus) Publish(sessionID string, evt Event) {
	channel := SessionChannel(sessionID)
	evt.Timestamp = b.stamp(channel)

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.channels[channel]))
	for _, s := range b.channels[channel] {
		s.inflight.Add(1)
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.send(s, evt, channel)
		s.inflight.Done()
	}
}

// send delivers one event to one subscriber. A subscriber cancelled while
// the publisher is blocked releases the publisher via its done channel.
func (b *Bus) send(s *subscriber, evt Event, channel string) {
	if evt.Type == EventAgentThought {
		select {
		case s.ch <- evt:
		default:
			// Slow subscriber: token deltas are reconstructable from the
			// final artifact, so dropping here is preferable to stalling
			// the producing stream.
		}
		return
	}

	timer := time.NewTimer(terminalSendTimeout)
	defer timer.Stop()
	select {
	case s.ch <- evt:
	case <-s.done:
		// Subscription cancelled mid-publish; the event has nowhere to go.
	case <-timer.C:
		slog.Warn("Event bus subscriber stalled, dropping event",
			"channel", channel, "type", evt.Type)
	}
}

// SubscriberCount returns the number of subscribers on a session's channel.
// Used by tests to poll instead of sleeping.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[SessionChannel(sessionID)])
}

// stamp returns an RFC3339Nano timestamp that never moves backwards within
// a channel, even if the wall clock does.
func (b *Bus) stamp(channel string) string {
	b.clockMu.Lock()
	defer b.clockMu.Unlock()

	now := time.Now().UTC()
	if last, ok := b.floor[channel]; ok && now.Before(last) {
		now = last
	}
	b.floor[channel] = now
	return now.Format(time.RFC3339Nano)
}

// Release drops the timestamp floor for a finished session's channel.
// Called by the gateway when a session closes to avoid unbounded growth.
func (b *Bus) Release(sessionID string) {
	channel := SessionChannel(sessionID)
	b.clockMu.Lock()
	delete(b.floor, channel)
	b.clockMu.Unlock()
}
