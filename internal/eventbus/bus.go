package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Bus orchestrates topic-based publish/subscribe messaging between the
// switch coordinator and attached observer surfaces. Delivery is
// best-effort: a subscriber that cannot keep up loses its oldest events
// rather than blocking publishers.
type Bus struct {
	logger       *log.Logger
	mu           sync.RWMutex
	subscribers  map[Topic]map[uint64]*Subscription
	topicBuffers map[Topic]int
	nextID       uint64

	publishTotal atomic.Uint64
	droppedTotal atomic.Uint64
}

// New constructs a bus with default topic buffer sizes.
func New(opts ...BusOption) *Bus {
	defaults := map[Topic]int{
		TopicDestinationsChanged: 64,
		TopicDestinationActive:   64,
		TopicSwitchPending:       32,
		TopicNotifyUser:          64,
	}

	bus := &Bus{
		logger:       log.Default(),
		subscribers:  make(map[Topic]map[uint64]*Subscription),
		topicBuffers: defaults,
	}

	for _, opt := range opts {
		opt(bus)
	}

	return bus
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the default subscription buffer size for a topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		if b.topicBuffers == nil {
			b.topicBuffers = make(map[Topic]int)
		}
		b.topicBuffers[topic] = size
	}
}

// Metrics summarises bus activity counters.
type Metrics struct {
	PublishTotal uint64
	DroppedTotal uint64
}

// Metrics returns a snapshot of the bus counters.
func (b *Bus) Metrics() Metrics {
	return Metrics{
		PublishTotal: b.publishTotal.Load(),
		DroppedTotal: b.droppedTotal.Load(),
	}
}

// publish sends the envelope to all subscribers of the topic.
func (b *Bus) publish(ctx context.Context, env Envelope) {
	if env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.publishTotal.Add(1)

	b.mu.RLock()
	subs := b.subscribers[env.Topic]
	for _, sub := range subs {
		sub.deliver(ctx, env, b)
	}
	b.mu.RUnlock()
}

// Subscribe registers a subscriber for the given topic.
// If b is nil the returned Subscription has a closed channel and Close is a no-op.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		ch := make(chan Envelope)
		close(ch)
		done := make(chan struct{})
		close(done)
		sub := &Subscription{ch: ch, done: done}
		sub.closed.Store(true)
		return sub
	}

	cfg := subscriptionConfig{
		bufferSize: b.topicBuffers[topic],
	}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = 1
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := atomic.AddUint64(&b.nextID, 1)
	sub := &Subscription{
		topic: topic,
		id:    id,
		name:  cfg.name,
		ch:    make(chan Envelope, cfg.bufferSize),
		done:  make(chan struct{}),
		bus:   b,
	}

	b.mu.Lock()
	if _, exists := b.subscribers[topic]; !exists {
		b.subscribers[topic] = make(map[uint64]*Subscription)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()

	return sub
}

// Shutdown closes all subscriptions and empties routing tables.
// If b is nil the call is a no-op.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for id, sub := range subs {
			sub.closeLocked()
			delete(subs, id)
		}
		delete(b.subscribers, topic)
	}
}

// SubscriptionOption customises individual subscriptions.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	bufferSize int
	name       string
}

// WithSubscriptionBuffer overrides the channel buffer for a subscription.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithSubscriptionName records a human friendly identifier used in logs.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		cfg.name = name
	}
}

// Subscription represents a consumer listening to a topic.
type Subscription struct {
	topic Topic
	id    uint64
	name  string
	ch    chan Envelope
	done  chan struct{} // closed when the subscription is closed

	bus     *Bus
	closed  atomic.Bool
	dropped atomic.Uint64
}

// C exposes the event channel.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Close removes the subscription and closes the channel.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)

	if s.bus == nil {
		close(s.ch)
		return
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if subs, ok := s.bus.subscribers[s.topic]; ok {
		delete(subs, s.id)
	}
	close(s.ch)
}

func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	close(s.ch)
}

func (s *Subscription) deliver(ctx context.Context, env Envelope, bus *Bus) {
	if s.closed.Load() {
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	// Fast path: non-blocking send.
	select {
	case s.ch <- env:
		return
	default:
	}

	// Channel full — drop the oldest queued event to make room.
	select {
	case <-s.ch:
		s.recordDrop(bus)
	default:
	}

	select {
	case s.ch <- env:
	default:
		s.recordDrop(bus)
	}
}

func (s *Subscription) recordDrop(bus *Bus) {
	count := s.dropped.Add(1)
	bus.droppedTotal.Add(1)
	if bus.logger != nil {
		name := s.name
		if name == "" {
			name = "subscription"
		}
		bus.logger.Printf("[eventbus] dropped event #%d for %s on topic %s", count, name, s.topic)
	}
}
