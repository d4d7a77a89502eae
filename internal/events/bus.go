// Package events is the in-process side-channel between the engine and its
// observers. The bus is an optimization for liveness, not durability: the
// persisted events table is the authoritative log, and observers that must
// not miss anything read that with a cursor instead.
package events

import (
	"sync"

	"github.com/termcoder/tc/internal/domain"
)

// DefaultBuffer is the per-subscriber buffer when none is given.
const DefaultBuffer = 256

// SubscribeOptions filter a subscription. Zero values match everything.
type SubscribeOptions struct {
	Kinds  []domain.EventKind
	Entity func(entityType, entityID string) bool
	Buffer int
}

// Subscription is one bounded observer. Read from C; slow readers lose the
// oldest undelivered events, flagged by a synthesized overflow event.
type Subscription struct {
	C <-chan domain.Event

	ch         chan domain.Event
	kinds      map[domain.EventKind]bool
	entity     func(string, string) bool
	overflowed bool
}

func (s *Subscription) matches(ev domain.Event) bool {
	if len(s.kinds) > 0 && !s.kinds[ev.Kind] {
		return false
	}
	if s.entity != nil && !s.entity(ev.EntityType, ev.EntityID) {
		return false
	}
	return true
}

// Bus is a single-process publish/subscribe fan-out with bounded,
// drop-oldest delivery.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a filtered observer.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	buf := opts.Buffer
	if buf <= 0 {
		buf = DefaultBuffer
	}
	sub := &Subscription{
		ch:     make(chan domain.Event, buf),
		entity: opts.Entity,
	}
	if len(opts.Kinds) > 0 {
		sub.kinds = make(map[domain.EventKind]bool, len(opts.Kinds))
		for _, k := range opts.Kinds {
			sub.kinds[k] = true
		}
	}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes the observer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish fans the event out to matching subscribers. Never blocks: a full
// subscriber drops its oldest undelivered event, and a single overflow event
// is injected per loss episode so the observer can detect the gap.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.overflowed = false
		default:
			b.dropOldestAndSend(sub, ev)
		}
	}
}

func (b *Bus) dropOldestAndSend(sub *Subscription, ev domain.Event) {
	needMarker := !sub.overflowed

	// Make room by discarding the oldest undelivered event. An overflow
	// marker pulled out this way must survive, so evict one more real event
	// and re-inject the marker below.
	select {
	case old := <-sub.ch:
		if old.Kind == domain.EventOverflow {
			needMarker = true
			select {
			case <-sub.ch:
			default:
			}
		}
	default:
	}

	sub.overflowed = true
	if needMarker {
		overflow := domain.Event{
			ProjectID:  ev.ProjectID,
			Kind:       domain.EventOverflow,
			EntityType: domain.EntityProject,
			EntityID:   ev.ProjectID,
		}
		select {
		case sub.ch <- overflow:
		default:
		}
	}

	// The triggering event rides in the freed slot when one is left; with a
	// one-slot buffer the marker alone communicates the loss.
	select {
	case sub.ch <- ev:
	default:
	}
}

// Close shuts the bus down and closes every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
