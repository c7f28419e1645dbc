package eventlog

import (
	"context"
	"log/slog"
	"sync"

	"zkbounty/core/events"
	"zkbounty/core/types"
)

const defaultSubscriberBuffer = 64

// Broker journals every emitted event and fans the resulting records out to
// live subscribers. It implements events.Emitter.
type Broker struct {
	journal *Journal
	logger  *slog.Logger
	buffer  int

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithLogger sets the logger used to report journal failures.
func WithLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBroker constructs a broker persisting to journal.
func NewBroker(journal *Journal, opts ...BrokerOption) *Broker {
	b := &Broker{
		journal: journal,
		logger:  slog.Default(),
		buffer:  defaultSubscriberBuffer,
		subs:    make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Journal returns the backing journal.
func (b *Broker) Journal() *Journal { return b.journal }

// Emit implements events.Emitter. Journal failures are logged; the ledger
// state has already committed when events are released.
func (b *Broker) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	payload, ok := events.Unwrap(evt)
	if !ok {
		payload = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec, err := b.journal.Append(context.Background(), payload)
	if err != nil {
		b.logger.Error("journal append failed", slog.String("type", payload.Type), slog.Any("error", err))
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- rec:
		default:
			b.logger.Warn("dropping slow event subscriber", slog.Int64("sequence", rec.Sequence))
			sub.dropped = true
			b.removeLocked(sub)
		}
	}
}

// Subscribe returns the records after cursor plus a subscription that
// receives every record appended afterwards. The backlog and the live stream
// never overlap or leave a gap. The subscription ends when ctx is cancelled,
// Close is called, or the subscriber falls more than the buffer behind.
func (b *Broker) Subscribe(ctx context.Context, cursor int64) (*Subscription, []Record, error) {
	b.mu.Lock()
	backlog, err := b.journal.Since(ctx, cursor, 0)
	if err != nil {
		b.mu.Unlock()
		return nil, nil, err
	}
	sub := &Subscription{broker: b, ch: make(chan Record, b.buffer), done: make(chan struct{})}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, backlog, nil
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) removeLocked(sub *Subscription) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
	close(sub.done)
}

// Subscription delivers live records. C is closed when the subscription ends.
type Subscription struct {
	broker  *Broker
	ch      chan Record
	done    chan struct{}
	dropped bool
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan Record { return s.ch }

// Dropped reports whether the broker ended the subscription because the
// consumer fell behind. Only meaningful after C is closed.
func (s *Subscription) Dropped() bool {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.dropped
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.removeLocked(s)
}
