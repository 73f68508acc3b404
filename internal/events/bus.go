package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Subscriber receives every published event, synchronously, in id order.
type Subscriber interface {
	Name() string
	OnEvent(ev Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc struct {
	SubName string
	Fn      func(ev Event)
}

func (s SubscriberFunc) Name() string     { return s.SubName }
func (s SubscriberFunc) OnEvent(ev Event) { s.Fn(ev) }

// Bus is the single-writer event fan-out. Publish assigns the next id,
// appends the record to the log, then invokes subscribers in registration
// order. A panicking subscriber is recorded as a follow-up warn event and
// never prevents delivery to the others.
type Bus struct {
	mu     sync.Mutex
	log    *Log
	nextID int64
	subs   []Subscriber
	logger *zap.Logger

	now func() time.Time
}

// NewBus wires a bus over an opened log. nextID comes from OpenLog.
func NewBus(log *Log, nextID int64, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		log:    log,
		nextID: nextID,
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers a subscriber. Registration order is delivery order.
// Subscribers are registered at startup, before the first publish.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Publish sanitizes, assigns an id, persists the record, then delivers it.
// The log write strictly precedes every subscriber invocation.
func (b *Bus) Publish(evType, message string, severity Severity, source string, metadata map[string]any) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := Event{
		ID:       b.nextID,
		TS:       b.now().UTC(),
		Type:     evType,
		Severity: normalizeSeverity(severity),
		Source:   source,
		Message:  Sanitize(message),
		Metadata: metadata,
	}
	b.nextID++

	if err := b.log.Append(ev); err != nil {
		// Transient I/O failure: the in-memory event still flows so
		// cognition keeps moving; the gap is logged for the operator.
		b.logger.Warn("event log append failed",
			zap.Int64("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err))
	}

	for _, sub := range b.subs {
		b.deliver(sub, ev)
	}
	return ev
}

// RotateLog archives the backing log file and starts a fresh one,
// serialized against publishes.
func (b *Bus) RotateLog(archivePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.log.Rotate(archivePath)
}

// NextID reports the id the next published event will receive.
func (b *Bus) NextID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

func (b *Bus) deliver(sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event subscriber panicked",
				zap.String("subscriber", sub.Name()),
				zap.Int64("event_id", ev.ID),
				zap.Any("panic", r))
			b.publishSubscriberError(sub.Name(), ev.ID, fmt.Sprint(r))
		}
	}()
	sub.OnEvent(ev)
}

// publishSubscriberError records a subscriber failure as its own event.
// Called with b.mu held; it appends directly and delivers to no one to
// avoid recursive failure loops.
func (b *Bus) publishSubscriberError(subscriber string, causeID int64, detail string) {
	ev := Event{
		ID:       b.nextID,
		TS:       b.now().UTC(),
		Type:     "eventbus.subscriber_error",
		Severity: SeverityWarn,
		Source:   "eventbus",
		Message:  Sanitize(fmt.Sprintf("subscriber %s failed on event %d: %s", subscriber, causeID, detail)),
		Metadata: map[string]any{"subscriber": subscriber, "cause_event_id": causeID},
	}
	b.nextID++
	if err := b.log.Append(ev); err != nil {
		b.logger.Warn("event log append failed for subscriber error", zap.Error(err))
	}
}
