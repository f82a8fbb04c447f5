package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel is a gotd update handler and raw stream implementation.
type GotdUpdateChannel struct {
	updates chan any
}

// NewGotdUpdateChannel creates a stream bridge between gotd updates and the source loop.
// A non-positive buffer selects the default size.
func NewGotdUpdateChannel(buffer int) (*GotdUpdateChannel, error) {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{
		updates: make(chan any, buffer),
	}, nil
}

// Updates returns the active stream channel.
func (s *GotdUpdateChannel) Updates(ctx context.Context) (<-chan any, error) {
	if ctx == nil {
		return nil, fmt.Errorf("gotd update channel: nil context")
	}
	if s.updates == nil {
		return nil, fmt.Errorf("gotd update channel: not initialized")
	}

	return s.updates, nil
}

// Handle flattens gotd update batches and forwards each unit to the stream.
// It blocks while the stream is full so updates are never silently lost.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		if err := s.publish(ctx, item); err != nil {
			return fmt.Errorf("handle gotd updates publish: %w", err)
		}
	}

	return nil
}

func (s *GotdUpdateChannel) publish(ctx context.Context, item gotdUpdateEnvelope) error {
	if s.updates == nil {
		return fmt.Errorf("publish gotd update: stream not initialized")
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("publish gotd update: %w", ctx.Err())
	case s.updates <- item:
		return nil
	}
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats)
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users, typed.Chats)
	case *tg.UpdateShort:
		return flattenSingleGotdUpdate(typed.Update, intToTime(typed.Date), nil, nil)
	case *tg.UpdateShortMessage:
		return flattenShortMessage(typed)
	case *tg.UpdateShortChatMessage:
		return flattenShortChatMessage(typed)
	case *tg.UpdatesTooLong, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenGotdBatch(
	updates []tg.UpdateClass,
	date int,
	users []tg.UserClass,
	chats []tg.ChatClass,
) ([]gotdUpdateEnvelope, error) {
	occurredAt := intToTime(date)
	usersByID := indexGotdUsers(users)
	chatsByID := indexGotdChats(chats)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		items, err := flattenSingleGotdUpdate(update, occurredAt, usersByID, chatsByID)
		if err != nil {
			return nil, fmt.Errorf("flatten gotd batch: %w", err)
		}

		batch = append(batch, items...)
	}

	return batch, nil
}

// flattenSingleGotdUpdate wraps one update, splitting multi-id deletions
// into one envelope per message id.
func flattenSingleGotdUpdate(
	update tg.UpdateClass,
	occurredAt time.Time,
	usersByID map[int64]*tg.User,
	chatsByID map[int64]gotdChatInfo,
) ([]gotdUpdateEnvelope, error) {
	if update == nil {
		return nil, fmt.Errorf("flatten gotd update: nil update")
	}

	wrap := func(unit tg.UpdateClass) gotdUpdateEnvelope {
		return gotdUpdateEnvelope{
			update:      unit,
			occurredAt:  occurredAt,
			usersByID:   usersByID,
			chatsByID:   chatsByID,
			updateClass: update.TypeName(),
		}
	}

	switch typed := update.(type) {
	case *tg.UpdateDeleteMessages:
		items := make([]gotdUpdateEnvelope, 0, len(typed.Messages))
		for _, messageID := range typed.Messages {
			clone := *typed
			clone.Messages = []int{messageID}
			items = append(items, wrap(&clone))
		}
		return items, nil
	case *tg.UpdateDeleteChannelMessages:
		items := make([]gotdUpdateEnvelope, 0, len(typed.Messages))
		for _, messageID := range typed.Messages {
			clone := *typed
			clone.Messages = []int{messageID}
			items = append(items, wrap(&clone))
		}
		return items, nil
	default:
		return []gotdUpdateEnvelope{wrap(update)}, nil
	}
}

// flattenShortMessage expands a private-chat short update. Outgoing messages
// keep FromID empty so the mapper attributes them to the authorized account.
func flattenShortMessage(update *tg.UpdateShortMessage) ([]gotdUpdateEnvelope, error) {
	if update == nil {
		return nil, fmt.Errorf("flatten short message: nil update")
	}

	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerUser{UserID: update.UserID},
		Date:    update.Date,
		Message: update.Message,
	}
	if !update.Out {
		message.SetFromID(&tg.PeerUser{UserID: update.UserID})
	}

	return []gotdUpdateEnvelope{
		{
			update: &tg.UpdateNewMessage{
				Message:  message,
				Pts:      update.Pts,
				PtsCount: update.PtsCount,
			},
			occurredAt:  intToTime(update.Date),
			updateClass: update.TypeName(),
		},
	}, nil
}

func flattenShortChatMessage(update *tg.UpdateShortChatMessage) ([]gotdUpdateEnvelope, error) {
	if update == nil {
		return nil, fmt.Errorf("flatten short chat message: nil update")
	}

	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerChat{ChatID: update.ChatID},
		Date:    update.Date,
		Message: update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.FromID})

	return []gotdUpdateEnvelope{
		{
			update: &tg.UpdateNewMessage{
				Message:  message,
				Pts:      update.Pts,
				PtsCount: update.PtsCount,
			},
			occurredAt:  intToTime(update.Date),
			updateClass: update.TypeName(),
		},
	}, nil
}
