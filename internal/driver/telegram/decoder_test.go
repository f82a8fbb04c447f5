package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tglogger/pkg/chatlog"
)

func TestDefaultDecoderDecode(t *testing.T) {
	t.Parallel()

	decoder := NewDefaultDecoder()
	occurredAt := time.Unix(1_700_000_000, 0)
	chat := ChatRef{ID: -1001234567890, Title: "devs", Type: chatlog.ChatTypeGroup}
	sender := SenderRef{ID: 42, Username: "alice", FirstName: "Alice"}

	tests := []struct {
		name   string
		update Update
		want   *chatlog.Event
	}{
		{
			name: "message",
			update: Update{
				ID:         "tg:message:-1001234567890:7:1700000000",
				Type:       UpdateTypeMessage,
				OccurredAt: occurredAt,
				Chat:       chat,
				Sender:     sender,
				Message:    &MessagePayload{ID: 7, Text: "hello"},
			},
			want: &chatlog.Event{
				ID:         "tg:message:-1001234567890:7:1700000000",
				Kind:       chatlog.EventKindMessageCreated,
				OccurredAt: occurredAt,
				Source:     DriverType,
				Chat:       chatlog.Chat{ID: -1001234567890, Type: chatlog.ChatTypeGroup, Title: "devs"},
				Sender:     chatlog.Sender{ID: 42, Username: "alice", FirstName: "Alice"},
				MessageID:  7,
				Text:       "hello",
			},
		},
		{
			name: "edit",
			update: Update{
				ID:         "tg:edit:-1001234567890:7:1700000000",
				Type:       UpdateTypeEdit,
				OccurredAt: occurredAt,
				Chat:       chat,
				Sender:     sender,
				Edit:       &EditPayload{MessageID: 7, Text: "hello there"},
			},
			want: &chatlog.Event{
				ID:         "tg:edit:-1001234567890:7:1700000000",
				Kind:       chatlog.EventKindMessageEdited,
				OccurredAt: occurredAt,
				Source:     DriverType,
				Chat:       chatlog.Chat{ID: -1001234567890, Type: chatlog.ChatTypeGroup, Title: "devs"},
				Sender:     chatlog.Sender{ID: 42, Username: "alice", FirstName: "Alice"},
				MessageID:  7,
				Text:       "hello there",
			},
		},
		{
			name: "chatless delete",
			update: Update{
				ID:         "tg:delete:0:7:1700000000",
				Type:       UpdateTypeDelete,
				OccurredAt: occurredAt,
				Delete:     &DeletePayload{MessageID: 7},
			},
			want: &chatlog.Event{
				ID:         "tg:delete:0:7:1700000000",
				Kind:       chatlog.EventKindMessageDeleted,
				OccurredAt: occurredAt,
				Source:     DriverType,
				MessageID:  7,
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := decoder.Decode(context.Background(), testCase.update)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if diff := cmp.Diff(testCase.want, got); diff != "" {
				t.Fatalf("decoded event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultDecoderDecodeRejectsInvalidUpdates(t *testing.T) {
	t.Parallel()

	decoder := NewDefaultDecoder()
	occurredAt := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name        string
		update      Update
		wantInvalid bool
	}{
		{
			name:   "missing message payload",
			update: Update{ID: "a", Type: UpdateTypeMessage, OccurredAt: occurredAt, Chat: ChatRef{ID: 1}},
		},
		{
			name:   "missing edit payload",
			update: Update{ID: "b", Type: UpdateTypeEdit, OccurredAt: occurredAt, Chat: ChatRef{ID: 1}},
		},
		{
			name:   "missing delete payload",
			update: Update{ID: "c", Type: UpdateTypeDelete, OccurredAt: occurredAt},
		},
		{
			name:   "unsupported type",
			update: Update{ID: "d", Type: UpdateType("typing"), OccurredAt: occurredAt},
		},
		{
			name: "message without chat",
			update: Update{
				ID:         "e",
				Type:       UpdateTypeMessage,
				OccurredAt: occurredAt,
				Message:    &MessagePayload{ID: 1, Text: "x"},
			},
			wantInvalid: true,
		},
		{
			name: "non-positive message id",
			update: Update{
				ID:         "f",
				Type:       UpdateTypeDelete,
				OccurredAt: occurredAt,
				Delete:     &DeletePayload{MessageID: 0},
			},
			wantInvalid: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := decoder.Decode(context.Background(), testCase.update)
			if err == nil {
				t.Fatal("expected decode error")
			}
			if errors.Is(err, chatlog.ErrInvalidEvent) != testCase.wantInvalid {
				t.Fatalf("error = %v, want invalid event %v", err, testCase.wantInvalid)
			}
		})
	}
}

func TestDefaultDecoderDecodeFillsMissingTimestamp(t *testing.T) {
	t.Parallel()

	before := time.Now()
	got, err := NewDefaultDecoder().Decode(context.Background(), Update{
		ID:     "tg:delete:0:3",
		Type:   UpdateTypeDelete,
		Delete: &DeletePayload{MessageID: 3},
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.OccurredAt.Before(before) {
		t.Fatalf("occurred at = %v, want not before %v", got.OccurredAt, before)
	}
}
