// Package broadcast delivers ordered per-session events to a single
// subscriber.
//
// This is point-to-point, not pub/sub: a session has at most one
// subscriber and a new subscription replaces the previous one. Events
// published while nobody is subscribed are dropped.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/logging"
)

// ErrTopicNotFound is returned when subscribing to a session that was
// never opened or has already closed.
var ErrTopicNotFound = errors.New("broadcast: session not found")

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultSendTimeout       = 5 * time.Second
	defaultBuffer            = 64
)

// Observer receives delivery outcomes, typically for metrics.
type Observer interface {
	EventPublished(EventType)
	EventDropped(EventType)
	SubscriberDetached(reason string)
}

type nopObserver struct{}

func (nopObserver) EventPublished(EventType)  {}
func (nopObserver) EventDropped(EventType)    {}
func (nopObserver) SubscriberDetached(string) {}

// Config configures a Broadcaster.
type Config struct {
	// HeartbeatInterval between keep-alive events while subscribed.
	// Negative disables heartbeats.
	HeartbeatInterval time.Duration
	// SendTimeout bounds how long Publish waits on a full subscriber
	// buffer before detaching the subscriber.
	SendTimeout time.Duration
	Buffer      int
	Logger      *logging.Logger
	Observer    Observer
}

// Broadcaster routes events by session id.
type Broadcaster struct {
	heartbeat   time.Duration
	sendTimeout time.Duration
	buffer      int
	logger      *logging.Logger
	observer    Observer

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	id string

	// mu serializes delivery so subscribers observe production order.
	mu     sync.Mutex
	sub    *Subscription
	closed bool
	// sealed topics deliver only the end event.
	sealed bool

	attached   chan struct{}
	attachOnce sync.Once
}

// Subscription is the receiving end of one session's stream.
type Subscription struct {
	topic  *topic
	events chan Event

	done       chan struct{}
	doneOnce   sync.Once
	eventsOnce sync.Once
}

func New(cfg Config) *Broadcaster {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Broadcaster{
		heartbeat:   cfg.HeartbeatInterval,
		sendTimeout: cfg.SendTimeout,
		buffer:      cfg.Buffer,
		logger:      logging.OrNop(cfg.Logger).Named("broadcast"),
		observer:    cfg.Observer,
		topics:      map[string]*topic{},
	}
}

// Open registers a session so it can be subscribed to. Idempotent.
func (b *Broadcaster) Open(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[id]; ok {
		return
	}
	b.topics[id] = &topic{id: id, attached: make(chan struct{})}
}

// Close ends a session's stream. Buffered events remain readable; the
// subscriber's channel is closed after them and later publishes drop.
func (b *Broadcaster) Close(id string) {
	b.mu.Lock()
	t, ok := b.topics[id]
	delete(b.topics, id)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.sub != nil {
		t.detachLocked(t.sub)
		b.observer.SubscriberDetached("closed")
	}
}

func (b *Broadcaster) lookup(id string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[id]
}

// Subscribe attaches the single subscriber for id, replacing any previous
// one. The first event on the subscription is always connected.
func (b *Broadcaster) Subscribe(id string) (*Subscription, error) {
	t := b.lookup(id)
	if t == nil {
		return nil, ErrTopicNotFound
	}
	sub := &Subscription{
		topic:  t,
		events: make(chan Event, b.buffer),
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTopicNotFound
	}
	if old := t.sub; old != nil {
		t.detachLocked(old)
		b.observer.SubscriberDetached("replaced")
		b.logger.Info(logging.WithSessionID(context.Background(), id), "subscriber replaced")
	}
	t.sub = sub
	sub.events <- Connected(id)
	t.mu.Unlock()
	b.observer.EventPublished(EventConnected)

	t.attachOnce.Do(func() { close(t.attached) })
	if b.heartbeat > 0 {
		go b.heartbeatLoop(t, sub)
	}
	return sub, nil
}

// WaitSubscriber blocks until id has had a subscriber attached at least
// once, or ctx ends.
func (b *Broadcaster) WaitSubscriber(ctx context.Context, id string) error {
	t := b.lookup(id)
	if t == nil {
		return ErrTopicNotFound
	}
	select {
	case <-t.attached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seal stops delivery of everything but the end event for id, including
// heartbeats. It is called when a session is stopped, before its loop has
// observed the cancellation.
func (b *Broadcaster) Seal(id string) {
	t := b.lookup(id)
	if t == nil {
		return
	}
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// Publish delivers ev to id's current subscriber. It returns false when the
// event was dropped. Publish never waits longer than the send timeout.
// An end event seals the topic: nothing is delivered after it.
func (b *Broadcaster) Publish(id string, ev Event) bool {
	t := b.lookup(id)
	if t == nil {
		b.observer.EventDropped(ev.Type)
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		b.observer.EventDropped(ev.Type)
		return false
	}
	if t.sealed && ev.Type != EventEnd {
		b.observer.EventDropped(ev.Type)
		return false
	}
	if ev.Type == EventEnd {
		t.closed = true
	}
	if t.sub == nil {
		b.observer.EventDropped(ev.Type)
		return false
	}
	return b.deliverLocked(t, t.sub, ev)
}

func (b *Broadcaster) deliverLocked(t *topic, sub *Subscription, ev Event) bool {
	select {
	case sub.events <- ev:
		b.observer.EventPublished(ev.Type)
		return true
	default:
	}

	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()
	select {
	case sub.events <- ev:
		b.observer.EventPublished(ev.Type)
		return true
	case <-sub.done:
		b.observer.EventDropped(ev.Type)
		return false
	case <-timer.C:
		t.detachLocked(sub)
		b.observer.EventDropped(ev.Type)
		b.observer.SubscriberDetached("slow")
		b.logger.Warn(logging.WithSessionID(context.Background(), t.id), "detached slow subscriber",
			zap.String("event", string(ev.Type)),
			zap.Duration("send_timeout", b.sendTimeout),
		)
		return false
	}
}

func (b *Broadcaster) heartbeatLoop(t *topic, sub *Subscription) {
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-sub.done:
			return
		case now := <-ticker.C:
			t.mu.Lock()
			if t.closed || t.sealed || t.sub != sub {
				t.mu.Unlock()
				return
			}
			b.deliverLocked(t, sub, Heartbeat(now))
			t.mu.Unlock()
		}
	}
}

// detachLocked must be called with t.mu held.
func (t *topic) detachLocked(sub *Subscription) {
	if t.sub == sub {
		t.sub = nil
	}
	sub.stop()
	sub.eventsOnce.Do(func() { close(sub.events) })
}

// Events yields the session's events in production order. The channel is
// closed after the stream ends or the subscription is replaced.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed once the subscription stops receiving.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.stop()
	t := s.topic
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detachLocked(s)
}

func (s *Subscription) stop() {
	s.doneOnce.Do(func() { close(s.done) })
}
