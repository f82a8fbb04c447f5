package journal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// TimestampLayout formats every timestamp written to journal files.
	TimestampLayout = "2006-01-02 15:04:05"

	privateChatTitle = "Private Chat"
	unknownChatName  = "unknown"
	recordSeparator  = "----------------------------------------"
	errorsFileName   = "errors.log"
)

// Action identifies which journal file a record lands in.
type Action string

const (
	// ActionReceived records a new message.
	ActionReceived Action = "received"
	// ActionEdited records an edit with old and new text.
	ActionEdited Action = "edited"
	// ActionDeleted records a deletion with the last known text.
	ActionDeleted Action = "deleted"
)

// Record is one journal entry.
type Record struct {
	Action    Action
	ChatID    int64
	ChatTitle string
	MessageID int
	At        time.Time
	Sender    string
	// Text is the message body for received and deleted records.
	Text string
	// OldText and NewText are set for edited records.
	OldText string
	NewText string
}

// Validate checks that the record can be formatted.
func (r Record) Validate() error {
	switch r.Action {
	case ActionReceived, ActionEdited, ActionDeleted:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	if r.MessageID <= 0 {
		return fmt.Errorf("message id must be > 0")
	}
	if r.At.IsZero() {
		return fmt.Errorf("missing timestamp")
	}

	return nil
}

// FileName returns the journal file name for one chat and action.
func FileName(chatID int64, action Action) string {
	return chatFileToken(chatID) + "_" + string(action) + "_messages.log"
}

func chatFileToken(chatID int64) string {
	if chatID == 0 {
		return unknownChatName
	}

	return strconv.FormatInt(chatID, 10)
}

// Format renders one record as a text block terminated by a separator line.
func Format(record Record) string {
	var builder strings.Builder

	title := record.ChatTitle
	if strings.TrimSpace(title) == "" {
		title = privateChatTitle
	}

	heading := "Received"
	stampLabel := "Received At"
	switch record.Action {
	case ActionEdited:
		heading = "Edited"
		stampLabel = "Edited At"
	case ActionDeleted:
		heading = "Deleted"
		stampLabel = "Deleted At"
	}

	fmt.Fprintf(&builder, "%s Message in Chat: %s (ID: %s)\n", heading, title, chatFileToken(record.ChatID))
	if record.Sender != "" {
		fmt.Fprintf(&builder, "From User: %s\n", record.Sender)
	}
	fmt.Fprintf(&builder, "Message ID: %d\n", record.MessageID)
	if record.Action == ActionEdited {
		fmt.Fprintf(&builder, "Old Message: %s\n", record.OldText)
		fmt.Fprintf(&builder, "New Message: %s\n", record.NewText)
	} else {
		fmt.Fprintf(&builder, "Message: %s\n", record.Text)
	}
	fmt.Fprintf(&builder, "%s: %s\n", stampLabel, record.At.Format(TimestampLayout))
	builder.WriteString(recordSeparator)
	builder.WriteByte('\n')

	return builder.String()
}

// FormatError renders one error block.
func FormatError(message string, at time.Time) string {
	return "Error: " + message + "\n" +
		"Time: " + at.Format(TimestampLayout) + "\n" +
		recordSeparator + "\n"
}
