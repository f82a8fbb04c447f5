package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tglogger/pkg/chatlog"
	"tglogger/pkg/history"
	"tglogger/pkg/journal"
)

const moduleName = "monitor"

// Journal is the append-only sink the monitor writes records and failures to.
type Journal interface {
	// Append writes one message activity record.
	Append(ctx context.Context, record journal.Record) error
	// AppendError writes one handler failure description.
	AppendError(ctx context.Context, message string) error
}

// Option mutates monitor module configuration.
type Option func(*Module)

// WithLogger injects the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithCache replaces the default history cache.
func WithCache(cache *history.Cache) Option {
	return func(module *Module) {
		if cache != nil {
			module.cache = cache
		}
	}
}

// WithAllowedChats restricts logging to the given marked chat ids.
// An empty list logs every chat.
func WithAllowedChats(chatIDs []int64) Option {
	return func(module *Module) {
		module.allowed = make(map[int64]struct{}, len(chatIDs))
		for _, chatID := range chatIDs {
			module.allowed[chatID] = struct{}{}
		}
	}
}

// WithClock overrides the wall clock used for cache and record timestamps.
func WithClock(clock func() time.Time) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

// WithRegisterer registers the module collectors with registerer.
// Without it the collectors are kept unregistered.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(module *Module) {
		module.registerer = registerer
	}
}

// Module routes message events through the history cache into the journal.
type Module struct {
	logger     *slog.Logger
	journal    Journal
	cache      *history.Cache
	allowed    map[int64]struct{}
	clock      func() time.Time
	registerer prometheus.Registerer
	metrics    *metrics
}

// New creates a monitor module writing to sink.
func New(sink Journal, options ...Option) (*Module, error) {
	if sink == nil {
		return nil, fmt.Errorf("new monitor: nil journal")
	}

	module := &Module{
		logger:  slog.Default(),
		journal: sink,
		cache:   history.New(),
		allowed: map[int64]struct{}{},
		clock:   time.Now,
	}
	for _, option := range options {
		option(module)
	}

	module.metrics = newMetrics(module.cache)
	if module.registerer != nil {
		if err := module.metrics.register(module.registerer); err != nil {
			return nil, fmt.Errorf("new monitor: %w", err)
		}
	}

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return moduleName
}

// Spec declares one ordered subscription for every message event kind.
// A single worker keeps an edit or delete from overtaking the message it refers to.
func (m *Module) Spec() chatlog.ModuleSpec {
	return chatlog.ModuleSpec{
		Handlers: []chatlog.ModuleHandler{
			{
				Interest: chatlog.InterestSet{
					Kinds: []chatlog.EventKind{
						chatlog.EventKindMessageCreated,
						chatlog.EventKindMessageEdited,
						chatlog.EventKindMessageDeleted,
					},
				},
				Subscription: chatlog.NewOrderedSubscriptionSpec("monitor-router"),
				Handler:      m.handleEvent,
			},
		},
	}
}

// Cache exposes the history cache backing the module.
func (m *Module) Cache() *history.Cache {
	return m.cache
}

// OnStart logs the effective configuration.
func (m *Module) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"monitor module started",
		"module", m.Name(),
		"allowed_chats", len(m.allowed),
		"retention", m.cache.Retention(),
		"sweep_interval", m.cache.SweepInterval(),
	)

	return nil
}

// OnShutdown reports how many messages were still cached.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"monitor module shutdown",
		"module", m.Name(),
		"entries", m.cache.Len(),
	)

	return nil
}

// allows reports whether chatID passes the allow-list.
func (m *Module) allows(chatID int64) bool {
	if len(m.allowed) == 0 {
		return true
	}
	_, ok := m.allowed[chatID]

	return ok
}
