package telegram

import (
	"context"
	"fmt"
	"time"

	"tglogger/pkg/chatlog"
)

// Decoder converts Telegram update DTOs into neutral chatlog events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*chatlog.Event, error)
}

// DefaultDecoder provides default Telegram-to-chatlog mappings.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*chatlog.Event, error) {
	event := newBaseEvent(update)

	switch update.Type {
	case UpdateTypeMessage:
		if update.Message == nil {
			return nil, fmt.Errorf("decode message: missing message payload")
		}
		event.Kind = chatlog.EventKindMessageCreated
		event.MessageID = update.Message.ID
		event.Text = update.Message.Text
	case UpdateTypeEdit:
		if update.Edit == nil {
			return nil, fmt.Errorf("decode edit: missing edit payload")
		}
		event.Kind = chatlog.EventKindMessageEdited
		event.MessageID = update.Edit.MessageID
		event.Text = update.Edit.Text
	case UpdateTypeDelete:
		if update.Delete == nil {
			return nil, fmt.Errorf("decode delete: missing delete payload")
		}
		event.Kind = chatlog.EventKindMessageDeleted
		event.MessageID = update.Delete.MessageID
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

// newBaseEvent builds the shared envelope fields used by all update mappings.
func newBaseEvent(update Update) *chatlog.Event {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return &chatlog.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Source:     DriverType,
		Chat: chatlog.Chat{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Sender: chatlog.Sender{
			ID:        update.Sender.ID,
			Username:  update.Sender.Username,
			FirstName: update.Sender.FirstName,
			LastName:  update.Sender.LastName,
		},
	}
}
