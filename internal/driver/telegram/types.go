package telegram

import (
	"context"
	"time"

	"tglogger/pkg/chatlog"
)

// UpdateHandler consumes one mapped Telegram update.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource streams Telegram updates into the driver.
type UpdateSource interface {
	// Consume runs the update loop until context cancellation or fatal error.
	Consume(ctx context.Context, handler UpdateHandler) error
}

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new message updates.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeEdit identifies edited message updates.
	UpdateTypeEdit UpdateType = "edit"
	// UpdateTypeDelete identifies deleted message updates.
	UpdateTypeDelete UpdateType = "delete"
)

// Update is the Telegram adapter's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Sender     SenderRef
	Message    *MessagePayload
	Edit       *EditPayload
	Delete     *DeletePayload
}

// ChatRef identifies Telegram chat context.
//
// ID is in marked form: user id for private chats, -id for basic groups, and
// -100 followed by the id for channels and supergroups. Zero means unknown.
type ChatRef struct {
	ID    int64
	Title string
	Type  chatlog.ChatType
}

// SenderRef identifies who authored a message.
type SenderRef struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// MessagePayload represents a Telegram message projection.
type MessagePayload struct {
	ID   int
	Text string
}

// EditPayload carries the edited body. Telegram does not send prior content.
type EditPayload struct {
	MessageID int
	Text      string
}

// DeletePayload identifies one deleted message.
type DeletePayload struct {
	MessageID int
}
