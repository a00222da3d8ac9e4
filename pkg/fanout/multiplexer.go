// ABOUTME: Multi-subscriber event fan-out with per-category ordered outputs.
// ABOUTME: Bounded per-subscriber buffers, drop-oldest overflow, exactly-once close.

package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/forcedotcom/agentforce-service-go/pkg/event"
)

// DefaultBufferSize is the per-subscriber channel buffer when none is given.
const DefaultBufferSize = 64

// categoryAll keys subscribers to the combined output in the registry.
const categoryAll event.Category = "all"

// subscriber is one bounded output. dropped counts records discarded since
// the last overflow notice was delivered.
type subscriber struct {
	ch      chan *event.Record
	dropped int
}

// Multiplexer republishes each ingress record to the matching category
// subscribers and to all combined-output subscribers.
type Multiplexer struct {
	mu      sync.Mutex
	subs    map[event.Category]map[string]*subscriber
	bufSize int
	closed  bool
	logger  *slog.Logger
}

// New creates a multiplexer. bufSize <= 0 selects DefaultBufferSize. Pass
// nil logger for default.
func New(bufSize int, logger *slog.Logger) *Multiplexer {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		subs:    make(map[event.Category]map[string]*subscriber),
		bufSize: bufSize,
		logger:  logger.With("component", "fanout"),
	}
}

// Subscribe registers a subscriber for one category output. The returned
// channel is closed exactly once, on Close or when ctx is cancelled. The
// second return is the subscription ID for Unsubscribe.
func (m *Multiplexer) Subscribe(ctx context.Context, cat event.Category) (<-chan *event.Record, string) {
	return m.subscribe(ctx, cat)
}

// SubscribeAll registers a subscriber for the combined output.
func (m *Multiplexer) SubscribeAll(ctx context.Context) (<-chan *event.Record, string) {
	return m.subscribe(ctx, categoryAll)
}

func (m *Multiplexer) subscribe(ctx context.Context, cat event.Category) (<-chan *event.Record, string) {
	subID := uuid.New().String()
	sub := &subscriber{ch: make(chan *event.Record, m.bufSize)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(sub.ch)
		return sub.ch, subID
	}
	if _, ok := m.subs[cat]; !ok {
		m.subs[cat] = make(map[string]*subscriber)
	}
	m.subs[cat][subID] = sub
	m.mu.Unlock()

	m.logger.Debug("subscriber added", "category", string(cat), "sub_id", subID)

	if ctx != nil {
		go func() {
			<-ctx.Done()
			m.unsubscribe(cat, subID)
		}()
	}

	return sub.ch, subID
}

// Unsubscribe removes a subscription from whichever output holds it and
// closes its channel.
func (m *Multiplexer) Unsubscribe(subID string) {
	m.mu.Lock()
	cats := make([]event.Category, 0, len(m.subs))
	for cat := range m.subs {
		cats = append(cats, cat)
	}
	m.mu.Unlock()

	for _, cat := range cats {
		m.unsubscribe(cat, subID)
	}
}

func (m *Multiplexer) unsubscribe(cat event.Category, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subs[cat]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(sub.ch)
	if len(subs) == 0 {
		delete(m.subs, cat)
	}

	m.logger.Debug("subscriber removed", "category", string(cat), "sub_id", subID)
}

// Publish delivers one record in ingress order to its category output and
// the combined output. Called only by the stream reader; never blocks. A
// full subscriber buffer drops its oldest record and defers an overflow
// notice until the buffer has room again.
func (m *Multiplexer) Publish(rec *event.Record) {
	cat := rec.Category()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	targets := make([]*subscriber, 0, 4)
	for _, sub := range m.subs[cat] {
		targets = append(targets, sub)
	}
	for _, sub := range m.subs[categoryAll] {
		targets = append(targets, sub)
	}

	for _, sub := range targets {
		m.deliverLocked(sub, cat, rec)
	}
	m.mu.Unlock()
}

// deliverLocked pushes a record onto one subscriber buffer, applying the
// drop-oldest overflow policy. Must be called with mu held; per-subscriber
// state is only touched under the registry lock.
func (m *Multiplexer) deliverLocked(sub *subscriber, cat event.Category, rec *event.Record) {
	// A pending overflow notice goes out first so the subscriber observes
	// the gap before anything that follows it. Needs two free slots so
	// the record itself still fits.
	if sub.dropped > 0 && len(sub.ch) <= cap(sub.ch)-2 {
		sub.ch <- event.NewOverflowNotice(cat, sub.dropped)
		sub.dropped = 0
	}

	select {
	case sub.ch <- rec:
		return
	default:
	}

	// Full: discard the oldest buffered record to make room.
	select {
	case <-sub.ch:
		sub.dropped++
	default:
	}

	select {
	case sub.ch <- rec:
	default:
		// Lost the race with a concurrent reader refilling; drop the new
		// record instead.
		sub.dropped++
	}

	m.logger.Debug("subscriber overflow", "category", string(cat), "dropped", sub.dropped)
}

// flushOverflowLocked delivers a deferred overflow notice before a channel
// closes, so a subscriber that overflowed never completes without learning
// about the gap. A full buffer drops its oldest record to make room. Must be
// called with mu held.
func (m *Multiplexer) flushOverflowLocked(sub *subscriber, cat event.Category) {
	if sub.dropped == 0 {
		return
	}

	select {
	case sub.ch <- event.NewOverflowNotice(cat, sub.dropped):
		sub.dropped = 0
		return
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped++
	default:
	}
	select {
	case sub.ch <- event.NewOverflowNotice(cat, sub.dropped):
		sub.dropped = 0
	default:
	}
}

// Close completes every open subscriber channel exactly once and rejects
// further publishes. Safe to call multiple times.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for cat, subs := range m.subs {
		for subID, sub := range subs {
			m.flushOverflowLocked(sub, cat)
			close(sub.ch)
			delete(subs, subID)
		}
		delete(m.subs, cat)
	}

	m.logger.Debug("multiplexer closed")
}
