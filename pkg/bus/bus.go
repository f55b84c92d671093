package bus

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/relay/pkg/errdefs"
	"github.com/meshworks/relay/pkg/log"
	"github.com/meshworks/relay/pkg/metrics"
	"github.com/meshworks/relay/pkg/types"
)

// Handler processes one delivered event. A returned error is logged and
// counted; the bus never retries and never unsubscribes a failing handler.
type Handler func(e *types.Event) error

// Token identifies a subscription. Tokens are monotonic and never reused.
type Token uint64

// Transformer may enrich an event between publish and delivery. A failing
// transformer is logged and skipped; it cannot veto delivery.
type Transformer func(e *types.Event) error

// Sink is the publish-only view of the broker handed to connectors and
// the registry, so they cannot subscribe or tear the bus down.
type Sink interface {
	Publish(e *types.Event) error
}

// Options tunes broker capacities
type Options struct {
	// HistoryCap bounds the event history ring buffer (default 1000)
	HistoryCap int

	// MailboxCap bounds each subscriber mailbox (default 1024)
	MailboxCap int

	// Workers bounds concurrent handler executions (default NumCPU)
	Workers int
}

func (o Options) withDefaults() Options {
	if o.HistoryCap <= 0 {
		o.HistoryCap = 1000
	}
	if o.MailboxCap <= 0 {
		o.MailboxCap = 1024
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Broker routes events between publishers and subscribers. Fan-out is
// at-most-once: a full mailbox drops its oldest queued event, and history
// replay covers the gap.
type Broker struct {
	opts Options

	mu        sync.RWMutex
	subs      map[Token]*subscription
	nextToken Token
	closed    bool

	transformMu  sync.RWMutex
	transformers []Transformer

	history *ring

	// sem bounds concurrent handler executions across subscriptions
	sem chan struct{}

	inflight atomic.Int64
	wg       sync.WaitGroup
}

type subscription struct {
	token   Token
	pattern string
	filter  *types.EventFilter
	handler Handler
	mailbox chan *types.Event
	done    chan struct{}

	// overflow coalescing: pendingDrops accumulates under dropMu and is
	// flushed to a single bus:overflow event by the delivery goroutine.
	// notify has capacity 1 so the overflow signal itself cannot overflow.
	dropMu       sync.Mutex
	pendingDrops int
	notify       chan struct{}
}

// NewBroker creates an event broker
func NewBroker(opts Options) *Broker {
	opts = opts.withDefaults()
	return &Broker{
		opts:    opts,
		subs:    make(map[Token]*subscription),
		history: newRing(opts.HistoryCap),
		sem:     make(chan struct{}, opts.Workers),
	}
}

// SubscribeOption adjusts a single subscription
type SubscribeOption func(*subscription)

// WithMailbox overrides the mailbox capacity for one subscription
func WithMailbox(capacity int) SubscribeOption {
	return func(s *subscription) {
		if capacity > 0 {
			s.mailbox = make(chan *types.Event, capacity)
		}
	}
}

// Subscribe registers a handler for a type pattern: a literal event type,
// a namespace prefix such as "camera:*", or "*" for everything.
func (b *Broker) Subscribe(pattern string, h Handler, opts ...SubscribeOption) Token {
	return b.add(&subscription{pattern: pattern, handler: h}, opts...)
}

// SubscribeFiltered registers a handler behind an event filter
func (b *Broker) SubscribeFiltered(f *types.EventFilter, h Handler, opts ...SubscribeOption) Token {
	return b.add(&subscription{filter: f, handler: h}, opts...)
}

func (b *Broker) add(sub *subscription, opts ...SubscribeOption) Token {
	sub.mailbox = make(chan *types.Event, b.opts.MailboxCap)
	sub.done = make(chan struct{})
	sub.notify = make(chan struct{}, 1)
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.nextToken++
	sub.token = b.nextToken
	b.subs[sub.token] = sub
	b.mu.Unlock()

	metrics.BusSubscribers.Inc()
	b.wg.Add(1)
	go b.deliver(sub)
	return sub.token
}

// Unsubscribe removes a subscription. Queued events are discarded.
func (b *Broker) Unsubscribe(token Token) {
	b.mu.Lock()
	sub, ok := b.subs[token]
	if ok {
		delete(b.subs, token)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
		metrics.BusSubscribers.Dec()
	}
}

// AddTransformer installs an event transformer. Transformers run in
// installation order inside Publish, before history and fan-out.
func (b *Broker) AddTransformer(t Transformer) {
	b.transformMu.Lock()
	b.transformers = append(b.transformers, t)
	b.transformMu.Unlock()
}

// Publish validates and normalises the event, appends it to history, and
// enqueues it to every matching subscription. The caller never blocks
// longer than the bounded enqueue.
func (b *Broker) Publish(e *types.Event) error {
	if e == nil || e.Type == "" {
		return errdefs.New(errdefs.KindConfig, "event type is required")
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return errdefs.New(errdefs.KindLifecycle, "bus is closed")
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Source == "" {
		e.Source = types.SourceSystem
	}
	e.Normalize()

	b.transformMu.RLock()
	transformers := b.transformers
	b.transformMu.RUnlock()
	for _, t := range transformers {
		if err := t(e); err != nil {
			logger := log.WithComponent("bus")
			logger.Warn().Err(err).Str("event_type", e.Type).Msg("event transformer failed")
		}
	}

	b.history.append(e)
	metrics.EventsPublishedTotal.WithLabelValues(string(e.Category)).Inc()

	// Marshal the payload once; filter subscriptions share it.
	var dataJSON []byte
	b.mu.RLock()
	for _, sub := range b.subs {
		if sub.filter != nil && dataJSON == nil && len(sub.filter.DataPaths) > 0 {
			dataJSON, _ = json.Marshal(e.Data)
		}
		if !sub.matches(e, dataJSON) {
			continue
		}
		dropped := sub.enqueue(e)
		// Queued events count as inflight from enqueue so Drain cannot
		// observe an empty mailbox before the handler has run.
		b.inflight.Add(int64(1 - dropped))
		if dropped > 0 {
			b.recordDrops(sub, dropped)
		}
	}
	b.mu.RUnlock()
	return nil
}

// matches reports whether the subscription wants the event
func (s *subscription) matches(e *types.Event, dataJSON []byte) bool {
	if s.filter != nil {
		return matchFilter(s.filter, e, dataJSON)
	}
	switch {
	case s.pattern == "*":
		return true
	case strings.HasSuffix(s.pattern, ":*"):
		return strings.HasPrefix(e.Type, s.pattern[:len(s.pattern)-1])
	default:
		return e.Type == s.pattern
	}
}

// enqueue places the event into the mailbox, evicting the oldest queued
// events while full. Returns the number of evictions.
func (s *subscription) enqueue(e *types.Event) int {
	dropped := 0
	for {
		select {
		case s.mailbox <- e:
			return dropped
		default:
		}
		select {
		case <-s.mailbox:
			dropped++
		default:
			// Drainer emptied the mailbox between the two selects; retry.
		}
	}
}

func (b *Broker) recordDrops(sub *subscription, n int) {
	metrics.EventsDroppedTotal.Add(float64(n))
	sub.dropMu.Lock()
	sub.pendingDrops += n
	sub.dropMu.Unlock()
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

// deliver is the per-subscription delivery loop. One goroutine per
// subscription preserves per-publisher ordering for that subscriber.
func (b *Broker) deliver(sub *subscription) {
	defer b.wg.Done()
	logger := log.WithComponent("bus")
	for {
		select {
		case <-sub.done:
			// Discarded queued events were counted at enqueue; settle the
			// inflight counter so Drain does not wait on them.
			for {
				select {
				case <-sub.mailbox:
					b.inflight.Add(-1)
				default:
					return
				}
			}
		case <-sub.notify:
			b.flushOverflow(sub)
		case e := <-sub.mailbox:
			b.sem <- struct{}{}
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Interface("panic", r).Str("event_type", e.Type).
							Uint64("token", uint64(sub.token)).Msg("subscriber handler panicked")
					}
				}()
				if err := sub.handler(e); err != nil {
					logger.Warn().Err(err).Str("event_type", e.Type).
						Uint64("token", uint64(sub.token)).Msg("subscriber handler failed")
				}
			}()
			<-b.sem
			b.inflight.Add(-1)
			metrics.EventsDeliveredTotal.Inc()
		}
	}
}

// flushOverflow publishes a single coalesced bus:overflow event for all
// drops recorded since the last flush.
func (b *Broker) flushOverflow(sub *subscription) {
	sub.dropMu.Lock()
	n := sub.pendingDrops
	sub.pendingDrops = 0
	sub.dropMu.Unlock()
	if n == 0 {
		return
	}
	_ = b.Publish(&types.Event{
		Type:     types.EventBusOverflow,
		Source:   types.SourceSystem,
		Priority: types.PriorityLow,
		Data: map[string]any{
			"subscriber": uint64(sub.token),
			"dropped":    n,
		},
	})
}

// History scans the ring buffer newest first, applying the optional
// filter, then offset and limit. A zero limit means no limit.
func (b *Broker) History(f *types.EventFilter, limit, offset int) []*types.Event {
	return b.history.scan(f, limit, offset)
}

// SubscriberCount returns the number of active subscriptions
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Drain waits until every mailbox is empty and no handler is running, or
// the context expires. Used at shutdown to finish delivering queued
// events within a bounded wait.
func (b *Broker) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broker) idle() bool {
	if b.inflight.Load() != 0 {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.mailbox) != 0 {
			return false
		}
	}
	return true
}

// Close stops all delivery goroutines. Publish fails afterwards.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[Token]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
		metrics.BusSubscribers.Dec()
	}
	b.wg.Wait()
}
