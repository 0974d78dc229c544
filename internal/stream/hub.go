// Package stream provides real-time event distribution to in-process
// subscribers and websocket clients.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"omni-trader/internal/models"
)

// Topic groups events for subscription.
type Topic string

const (
	TopicTrades  Topic = "trades"
	TopicMetrics Topic = "metrics"
	TopicSignals Topic = "signals"
	TopicSystem  Topic = "system"
)

// EventType identifies a single event kind.
type EventType string

const (
	EventTradeOpened EventType = "trade_opened"
	EventTradeClosed EventType = "trade_closed"
	EventMetrics     EventType = "metrics"
	EventSignals     EventType = "signals"
	EventHalt        EventType = "halt"
)

// Event is one message on the stream.
type Event struct {
	Seq     uint64                     `json:"seq"`
	Type    EventType                  `json:"type"`
	Topic   Topic                      `json:"topic"`
	Time    time.Time                  `json:"time"`
	Trade   *models.Trade              `json:"trade,omitempty"`
	Metrics *models.PerformanceMetrics `json:"metrics,omitempty"`
	Signals []models.Signal            `json:"signals,omitempty"`
	Reason  string                     `json:"reason,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub fans events out to subscribers. Publishing never blocks; a full
// buffer drops the event and counts it.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	events      chan Event
	done        chan struct{}
	started     bool
	stopped     bool
	seq         atomic.Uint64

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Subscriber receives events for its topics. An empty topic set receives
// everything.
type Subscriber struct {
	ID        string
	Channel   chan Event
	CreatedAt time.Time

	topics  map[Topic]bool
	dropped atomic.Uint64
}

func (s *Subscriber) wants(t Topic) bool {
	return len(s.topics) == 0 || s.topics[t]
}

// Dropped returns how many events this subscriber missed.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// NewHub creates a new hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string]*Subscriber),
		events:      make(chan Event, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the distribution loop. It returns immediately.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.drain()
			h.Stop()
			return
		case <-h.done:
			return
		case ev := <-h.events:
			h.received.Add(1)
			h.broadcast(ev)
		}
	}
}

// drain delivers whatever is already queued.
func (h *Hub) drain() {
	for {
		select {
		case ev := <-h.events:
			h.received.Add(1)
			h.broadcast(ev)
		default:
			return
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)

	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// Subscribe adds a subscriber for topics.
func (h *Hub) Subscribe(topics ...Topic) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		Channel:   make(chan Event, h.config.SubscriberBufferSize),
		CreatedAt: time.Now(),
		topics:    make(map[Topic]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(sub.Channel)
		return sub
	}
	h.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.ID]; ok {
		close(sub.Channel)
		delete(h.subscribers, sub.ID)
	}
}

// Publish queues an event for distribution.
func (h *Hub) Publish(ev Event) {
	ev.Seq = h.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
	}
}

// broadcast delivers ev to every interested subscriber without blocking.
// The read lock is held across the sends so Stop cannot close a channel
// mid-delivery.
func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.wants(ev.Topic) {
			continue
		}
		select {
		case sub.Channel <- ev:
			h.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// TradeOpened implements trading.Observer.
func (h *Hub) TradeOpened(t models.Trade) {
	h.Publish(Event{Type: EventTradeOpened, Topic: TopicTrades, Trade: &t})
}

// TradeClosed implements trading.Observer.
func (h *Hub) TradeClosed(t models.Trade) {
	h.Publish(Event{Type: EventTradeClosed, Topic: TopicTrades, Trade: &t})
}

// PublishMetrics publishes a performance snapshot.
func (h *Hub) PublishMetrics(m models.PerformanceMetrics) {
	h.Publish(Event{Type: EventMetrics, Topic: TopicMetrics, Metrics: &m})
}

// PublishSignals publishes the admissible signals of one sweep.
func (h *Hub) PublishSignals(sigs []models.Signal) {
	h.Publish(Event{Type: EventSignals, Topic: TopicSignals, Signals: sigs})
}

// PublishHalt publishes a system halt.
func (h *Hub) PublishHalt(reason string, err error) {
	ev := Event{Type: EventHalt, Topic: TopicSystem, Reason: reason}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Publish(ev)
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received    uint64 `json:"received"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	return HubMetrics{
		Received:    h.received.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: h.SubscriberCount(),
	}
}
