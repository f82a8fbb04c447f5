package chatlog

import "context"

// ModuleHandler binds one subscription to one handler.
type ModuleHandler struct {
	// Interest filters which events reach Handler.
	Interest InterestSet
	// Subscription configures queueing for Handler.
	Subscription SubscriptionSpec
	// Handler processes matched events.
	Handler EventHandler
}

// ModuleSpec declares the handlers a module wants subscribed.
type ModuleSpec struct {
	Handlers []ModuleHandler
}

// Module is a lifecycle-aware event consumer.
//
// Handlers may run on multiple workers when their subscription asks for it, so
// module state must be concurrency-safe.
type Module interface {
	// Name returns a stable module identifier.
	Name() string
	// Spec declares subscriptions the kernel wires on registration.
	Spec() ModuleSpec
	// OnStart is called when the kernel begins runtime execution.
	OnStart(ctx context.Context) error
	// OnShutdown is called during orderly shutdown.
	OnShutdown(ctx context.Context) error
}

// Driver produces neutral events from an external platform.
type Driver interface {
	// Name returns a stable driver identifier.
	Name() string
	// Start consumes external updates and publishes neutral events.
	// It returns only after context cancellation or a fatal error.
	Start(ctx context.Context, dispatcher EventDispatcher) error
	// Shutdown stops external resources that are not tied to Start context alone.
	Shutdown(ctx context.Context) error
}
