package history

import (
	"sync"
	"time"
)

const (
	// DefaultRetention is how long an entry survives without an applied edit.
	DefaultRetention = 5 * time.Hour
	// DefaultSweepInterval is the minimum gap between two sweep passes.
	DefaultSweepInterval = time.Hour
)

// Entry is one cached message record.
type Entry struct {
	// ReceivedAt is when the message first entered the cache. Never changed by edits.
	ReceivedAt time.Time
	// UpdatedAt is the insert time or the time of the last applied edit.
	// Retention ages entries by this field.
	UpdatedAt time.Time
	// Text is the current best-known message body.
	Text string
	// Sender is the display label captured on insert.
	Sender string
	// ChatID is the marked chat id captured on insert.
	ChatID int64
	// ChatTitle is the chat title captured on insert.
	ChatTitle string
}

// Chat identifies the conversation an entry was captured in.
type Chat struct {
	ID    int64
	Title string
}

// UpdateResult reports what Update did.
type UpdateResult int

const (
	// UpdateMissing means no entry exists for the id.
	UpdateMissing UpdateResult = iota
	// UpdateUnchanged means the stored text already equals the new text.
	UpdateUnchanged
	// UpdateApplied means the text and update time were overwritten.
	UpdateApplied
)

// String returns a stable label for logs and metrics.
func (r UpdateResult) String() string {
	switch r {
	case UpdateMissing:
		return "missing"
	case UpdateUnchanged:
		return "unchanged"
	case UpdateApplied:
		return "applied"
	default:
		return "unknown"
	}
}

// Option mutates cache configuration.
type Option func(*Cache)

// WithRetention sets how old an entry must be before a sweep removes it.
func WithRetention(retention time.Duration) Option {
	return func(cache *Cache) {
		if retention > 0 {
			cache.retention = retention
		}
	}
}

// WithSweepInterval sets the cooldown between two sweep passes.
func WithSweepInterval(interval time.Duration) Option {
	return func(cache *Cache) {
		if interval > 0 {
			cache.sweepInterval = interval
		}
	}
}

// Cache maps message ids to their latest known content.
//
// Every operation runs inside one exclusive section, so read-check-write
// sequences such as Take and Update cannot interleave with each other.
type Cache struct {
	retention     time.Duration
	sweepInterval time.Duration

	mu        sync.Mutex
	entries   map[int]Entry
	lastSweep time.Time
}

// New creates an empty cache.
func New(options ...Option) *Cache {
	cache := &Cache{
		retention:     DefaultRetention,
		sweepInterval: DefaultSweepInterval,
		entries:       make(map[int]Entry),
	}
	for _, option := range options {
		option(cache)
	}

	return cache
}

// Retention returns the configured retention window.
func (c *Cache) Retention() time.Duration {
	return c.retention
}

// SweepInterval returns the configured sweep cooldown.
func (c *Cache) SweepInterval() time.Duration {
	return c.sweepInterval
}

// Put inserts or overwrites the entry for id.
func (c *Cache) Put(id int, at time.Time, text string, sender string, chat Chat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id] = Entry{
		ReceivedAt: at,
		UpdatedAt:  at,
		Text:       text,
		Sender:     sender,
		ChatID:     chat.ID,
		ChatTitle:  chat.Title,
	}
}

// Get returns the entry for id without mutating the cache.
func (c *Cache) Get(id int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]

	return entry, ok
}

// Take removes the entry for id and returns it.
func (c *Cache) Take(id int) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}

	return entry, ok
}

// Update replaces the text of an existing entry.
//
// The returned entry is the state before the call. When the id is unknown or
// the text is unchanged nothing is written, so a no-op edit does not extend
// the entry's retention.
func (c *Cache) Update(id int, at time.Time, text string) (Entry, UpdateResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous, ok := c.entries[id]
	if !ok {
		return Entry{}, UpdateMissing
	}
	if previous.Text == text {
		return previous, UpdateUnchanged
	}

	updated := previous
	updated.Text = text
	updated.UpdatedAt = at
	c.entries[id] = updated

	return previous, UpdateApplied
}

// Sweep removes entries last updated before now minus the retention window.
//
// A pass runs at most once per sweep interval; calls inside the cooldown
// return ran=false without scanning. The first call always runs.
func (c *Cache) Sweep(now time.Time) (removed int, ran bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastSweep.IsZero() && now.Sub(c.lastSweep) < c.sweepInterval {
		return 0, false
	}
	c.lastSweep = now

	cutoff := now.Add(-c.retention)
	for id, entry := range c.entries {
		if entry.UpdatedAt.Before(cutoff) {
			delete(c.entries, id)
			removed++
		}
	}

	return removed, true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
