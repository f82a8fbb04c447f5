package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tglogger/pkg/chatlog"
)

// moduleRecord tracks one registered module and the subscriptions wired for it.
type moduleRecord struct {
	name   string
	module chatlog.Module

	mu            sync.Mutex
	subscriptions []chatlog.Subscription
}

func (r *moduleRecord) addSubscription(subscription chatlog.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscriptions = append(r.subscriptions, subscription)
}

// closeSubscriptions closes subscriptions in reverse order and forgets them.
func (r *moduleRecord) closeSubscriptions(ctx context.Context) error {
	r.mu.Lock()
	subscriptions := r.subscriptions
	r.subscriptions = nil
	r.mu.Unlock()

	var closeErr error
	for idx := len(subscriptions) - 1; idx >= 0; idx-- {
		subscription := subscriptions[idx]
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// runSafely runs fn and turns a panic into an error tagged with scope.
// Goroutine and lifecycle boundaries go through it so one bad handler cannot
// take the process down.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
