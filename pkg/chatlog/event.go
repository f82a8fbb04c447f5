package chatlog

import (
	"fmt"
	"strings"
	"time"
)

// EventKind identifies a neutral message event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMessageEdited is emitted when an existing message is edited.
	EventKindMessageEdited EventKind = "message.edited"
	// EventKindMessageDeleted is emitted when a message is deleted.
	EventKindMessageDeleted EventKind = "message.deleted"
)

// ChatType identifies conversation scope.
type ChatType string

const (
	// ChatTypePrivate is a direct/private conversation.
	ChatTypePrivate ChatType = "private"
	// ChatTypeGroup is a basic group or a megagroup.
	ChatTypeGroup ChatType = "group"
	// ChatTypeChannel is a broadcast channel.
	ChatTypeChannel ChatType = "channel"
)

// Event is the neutral envelope published by drivers and consumed by modules.
//
// Text is the message body for message.created and the new body for
// message.edited; message.deleted carries no text.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects the event semantics.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Source names the driver instance that produced the event.
	Source string
	// Chat identifies where the event happened. It may be unknown for deletions.
	Chat Chat
	// Sender identifies who authored the message when known.
	Sender Sender
	// MessageID is the platform message identifier the event refers to.
	MessageID int
	// Text carries the current message body for created and edited events.
	Text string
}

// Chat identifies the neutral conversation where an event occurred.
type Chat struct {
	// ID is the marked chat identifier; zero means the platform did not say.
	ID int64
	// Type describes the conversation scope.
	Type ChatType
	// Title is the group or channel title. Private chats have none.
	Title string
}

// Known reports whether the chat identifier was provided by the platform.
func (c Chat) Known() bool {
	return c.ID != 0
}

// Sender identifies the account that authored a message.
type Sender struct {
	// ID is the platform identifier of the author when available.
	ID int64
	// Username is the platform handle without the leading @.
	Username string
	// FirstName is the first name, or the title for chat-authored posts.
	FirstName string
	// LastName is the optional last name.
	LastName string
}

// Label returns the human-readable sender label: the username when set,
// otherwise the first name followed by the last name. Empty when nothing is known.
func (s Sender) Label() string {
	if username := strings.TrimSpace(s.Username); username != "" {
		return username
	}

	first := strings.TrimSpace(s.FirstName)
	if first == "" {
		return ""
	}
	if last := strings.TrimSpace(s.LastName); last != "" {
		return first + " " + last
	}

	return first
}

// Validate checks event envelope coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.MessageID <= 0 {
		return fmt.Errorf("%w: message id must be > 0", ErrInvalidEvent)
	}

	switch e.Kind {
	case EventKindMessageCreated, EventKindMessageEdited:
		if !e.Chat.Known() {
			return fmt.Errorf("%w: %s requires chat id", ErrInvalidEvent, e.Kind)
		}
	case EventKindMessageDeleted:
	case "":
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
