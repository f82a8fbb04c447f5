package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tglogger/pkg/chatlog"
)

var errBusClosed = errors.New("event bus closed")

// EventBus fans published events out to bounded subscriber queues.
type EventBus struct {
	mu                    sync.RWMutex
	nextID                int64
	closed                bool
	subscriptions         map[int64]*busSubscription
	defaultBuffer         int
	defaultWorkers        int
	defaultHandlerTimeout time.Duration
	onAsyncError          func(context.Context, string, error)
}

// NewEventBus creates an event bus whose subscriptions inherit the given defaults.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		subscriptions:         make(map[int64]*busSubscription),
		defaultBuffer:         defaultBuffer,
		defaultWorkers:        defaultWorkers,
		defaultHandlerTimeout: defaultHandlerTimeout,
		onAsyncError:          onAsyncError,
	}
}

// Publish validates event and enqueues it on every matching subscription.
//
// Drops caused by backpressure and closed subscriptions are reported through
// the async error sink; only blocking enqueue failures are returned.
func (b *EventBus) Publish(ctx context.Context, event *chatlog.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subs, err := b.snapshotSubscriptions()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var publishErrs []error
	for _, sub := range subs {
		if !sub.interest.Matches(event) {
			continue
		}
		if err := sub.enqueue(ctx, event); err != nil {
			if errors.Is(err, chatlog.ErrEventDropped) || errors.Is(err, chatlog.ErrSubscriptionClosed) {
				b.reportAsyncError(ctx, sub.spec.Name, err)
				continue
			}
			publishErrs = append(publishErrs, err)
		}
	}

	if len(publishErrs) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(publishErrs...))
	}

	return nil
}

// Subscribe registers handler for events matching interest.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest chatlog.InterestSet,
	spec chatlog.SubscriptionSpec,
	handler chatlog.EventHandler,
) (chatlog.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler: %w", spec.Name, chatlog.ErrInvalidSubscription)
	}

	subID := atomic.AddInt64(&b.nextID, 1)
	spec, err := b.normalizeSpec(spec, subID)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, errBusClosed)
	}
	sub := newBusSubscription(subID, interest, spec, handler, b)
	b.subscriptions[subID] = sub

	return sub, nil
}

// Close stops every subscription and rejects later publishes and subscribes.
// Workers finish the event they are handling; queued events are discarded.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[int64]*busSubscription)
	b.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	if len(closeErrs) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(closeErrs...))
	}

	return nil
}

// snapshotSubscriptions copies the live subscription set so fan-out runs unlocked.
func (b *EventBus) snapshotSubscriptions() ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errBusClosed
	}

	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}

	return subs, nil
}

// normalizeSpec fills omitted fields from bus defaults and rejects unknown policies.
func (b *EventBus) normalizeSpec(spec chatlog.SubscriptionSpec, subID int64) (chatlog.SubscriptionSpec, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", subID)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaultBuffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaultWorkers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaultHandlerTimeout
	}

	switch spec.Backpressure {
	case "":
		spec.Backpressure = chatlog.BackpressureDropNewest
	case chatlog.BackpressureDropNewest, chatlog.BackpressureDropOldest, chatlog.BackpressureBlock:
	default:
		return spec, fmt.Errorf("backpressure %q: %w", spec.Backpressure, chatlog.ErrInvalidSubscription)
	}

	return spec, nil
}

// unsubscribe removes and stops one subscription.
func (b *EventBus) unsubscribe(ctx context.Context, subID int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[subID]
	if found {
		delete(b.subscriptions, subID)
	}
	b.mu.Unlock()

	if !found {
		return nil
	}

	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// busSubscription owns one queue and its worker goroutines.
// Workers stop on context cancellation; the queue channel is never closed.
type busSubscription struct {
	id       int64
	interest chatlog.InterestSet
	spec     chatlog.SubscriptionSpec
	handler  chatlog.EventHandler
	queue    chan *chatlog.Event
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
	bus      *EventBus
}

func newBusSubscription(
	subID int64,
	interest chatlog.InterestSet,
	spec chatlog.SubscriptionSpec,
	handler chatlog.EventHandler,
	bus *EventBus,
) *busSubscription {
	subCtx, cancel := context.WithCancel(context.Background())
	if len(interest.Kinds) > 0 {
		interest.Kinds = append([]chatlog.EventKind(nil), interest.Kinds...)
	}

	sub := &busSubscription{
		id:       subID,
		interest: interest,
		spec:     spec,
		handler:  handler,
		queue:    make(chan *chatlog.Event, spec.Buffer),
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		bus:      bus,
	}
	sub.startWorkers()

	return sub
}

// Name returns the subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters the subscription from its bus and waits for its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) enqueue(ctx context.Context, event *chatlog.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, chatlog.ErrSubscriptionClosed)
	}

	switch s.spec.Backpressure {
	case chatlog.BackpressureDropNewest:
		return s.enqueueDropNewest(event)
	case chatlog.BackpressureDropOldest:
		return s.enqueueDropOldest(event)
	case chatlog.BackpressureBlock:
		return s.enqueueBlock(ctx, event)
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, chatlog.ErrInvalidSubscription)
	}
}

func (s *busSubscription) enqueueDropNewest(event *chatlog.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		return fmt.Errorf("enqueue %s message %d: %w", s.spec.Name, event.MessageID, chatlog.ErrEventDropped)
	}
}

// enqueueDropOldest evicts one queued event to make room for the new one.
func (s *busSubscription) enqueueDropOldest(event *chatlog.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
	}

	select {
	case <-s.queue:
	default:
	}

	select {
	case s.queue <- event:
		return nil
	default:
		return fmt.Errorf("enqueue %s message %d: %w", s.spec.Name, event.MessageID, chatlog.ErrEventDropped)
	}
}

// enqueueBlock waits for queue space, caller cancellation, or subscription close.
func (s *busSubscription) enqueueBlock(ctx context.Context, event *chatlog.Event) error {
	select {
	case s.queue <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
	case <-s.ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, chatlog.ErrSubscriptionClosed)
	}
}

func (s *busSubscription) startWorkers() {
	workerWG := &sync.WaitGroup{}
	for workerID := range s.spec.Workers {
		workerWG.Add(1)
		go s.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(s.done)
	}()
}

// runWorker drains the queue until the subscription is canceled.
func (s *busSubscription) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.handleEvent(s.ctx, workerID, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// handleEvent runs the handler under the subscription timeout with panic recovery.
func (s *busSubscription) handleEvent(ctx context.Context, workerID int, event *chatlog.Event) error {
	handlerCtx := ctx
	if s.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
		defer cancel()
	}

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(handlerCtx, event)
	}); err != nil {
		return fmt.Errorf("handle %s message %d: %w", event.Kind, event.MessageID, err)
	}

	return nil
}

func (s *busSubscription) signalClose() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// shutdown cancels workers and waits for them until ctx expires.
func (s *busSubscription) shutdown(ctx context.Context) error {
	s.signalClose()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
