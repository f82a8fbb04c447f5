package chatlog

import (
	"context"
	"slices"
	"time"
)

// EventHandler processes a single neutral event.
type EventHandler func(ctx context.Context, event *Event) error

// EventDispatcher accepts neutral events for dispatching into the kernel.
type EventDispatcher interface {
	// Publish submits an event to downstream subscribers.
	Publish(ctx context.Context, event *Event) error
}

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming event when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued event before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// InterestSet narrows which events a subscription receives.
type InterestSet struct {
	// Kinds restricts delivery to these kinds; empty accepts every kind.
	Kinds []EventKind
}

// Matches reports whether an event satisfies the declared interest set.
func (i InterestSet) Matches(event *Event) bool {
	if event == nil {
		return false
	}
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, event.Kind) {
		return false
	}

	return true
}

// SubscriptionSpec configures a single consumer subscription.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// NewDefaultSubscriptionSpec returns a spec that lets the bus fill in defaults.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name}
}

// NewOrderedSubscriptionSpec returns a single-worker blocking spec so events
// are handled one at a time in publish order without drops.
func NewOrderedSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{
		Name:         name,
		Workers:      1,
		Backpressure: BackpressureBlock,
	}
}

// Subscription controls an active event stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}
