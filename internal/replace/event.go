package replace

import (
	"context"
	"log/slog"
	"time"

	modelsync "github.com/hyperengineering/linkedevents/internal/sync"
	"github.com/hyperengineering/linkedevents/internal/types"
)

// EventStore is the persistence the event policy needs.
type EventStore interface {
	SoftDeleteEvent(ctx context.Context, id string, withSubEvents bool) (bool, error)
}

// EventPolicy soft-deletes events together with their sub-events. Events
// that have already ended are kept, since feeds drop past events.
type EventPolicy struct {
	store       EventStore
	now         func() time.Time
	deleteEnded bool
}

var _ modelsync.DeletionPolicy[*types.Event] = (*EventPolicy)(nil)

// EventOption configures an EventPolicy.
type EventOption func(*EventPolicy)

// WithDeleteEnded also deletes events that have ended.
func WithDeleteEnded() EventOption {
	return func(p *EventPolicy) { p.deleteEnded = true }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EventOption {
	return func(p *EventPolicy) { p.now = now }
}

// NewEventPolicy creates a policy over s.
func NewEventPolicy(s EventStore, opts ...EventOption) *EventPolicy {
	p := &EventPolicy{store: s, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EventPolicy) IsDeleted(ev *types.Event) bool {
	return ev.Deleted
}

func (p *EventPolicy) MayDelete(context.Context, *types.Event) (bool, error) {
	return true, nil
}

// Delete soft-deletes ev and its sub-events unless ev has ended.
func (p *EventPolicy) Delete(ctx context.Context, ev *types.Event) (bool, error) {
	if ev.Deleted {
		return false, nil
	}
	if !p.deleteEnded && !ev.EndTime.IsZero() && ev.EndTime.Before(p.now()) {
		slog.Debug("keeping ended event",
			"component", "replace",
			"event", ev.ID,
			"end_time", ev.EndTime,
		)
		return false, nil
	}
	deleted, err := p.store.SoftDeleteEvent(ctx, ev.ID, true)
	if err != nil {
		return false, err
	}
	if deleted {
		ev.MarkDeleted()
	}
	return deleted, nil
}

// entity is what SimplePolicy needs from an entity.
type entity interface {
	EntityID() string
	IsDeleted() bool
	MarkDeleted()
}

// SimplePolicy soft-deletes entities and nothing else.
type SimplePolicy[T entity] struct {
	softDelete func(ctx context.Context, id string) (bool, error)
}

// NewSimplePolicy creates a policy that deletes with softDelete, which
// reports whether the row changed.
func NewSimplePolicy[T entity](softDelete func(ctx context.Context, id string) (bool, error)) *SimplePolicy[T] {
	return &SimplePolicy[T]{softDelete: softDelete}
}

func (p *SimplePolicy[T]) IsDeleted(obj T) bool {
	return obj.IsDeleted()
}

func (p *SimplePolicy[T]) MayDelete(context.Context, T) (bool, error) {
	return true, nil
}

func (p *SimplePolicy[T]) Delete(ctx context.Context, obj T) (bool, error) {
	if obj.IsDeleted() {
		return false, nil
	}
	deleted, err := p.softDelete(ctx, obj.EntityID())
	if err != nil {
		return false, err
	}
	if deleted {
		obj.MarkDeleted()
	}
	return deleted, nil
}
