package monitor

import (
	"context"
	"fmt"
	"time"

	"tglogger/pkg/chatlog"
	"tglogger/pkg/history"
	"tglogger/pkg/journal"
)

// outcome labels how one event left the router.
type outcome string

const (
	outcomeLogged    outcome = "logged"
	outcomeFiltered  outcome = "filtered"
	outcomeUnchanged outcome = "unchanged"
	outcomeUnknown   outcome = "unknown"
	outcomeFailed    outcome = "failed"
)

type eventHandler func(ctx context.Context, event *chatlog.Event) (outcome, error)

// handleEvent dispatches by event kind. It never returns handler failures;
// they are written to the error sink instead.
func (m *Module) handleEvent(ctx context.Context, event *chatlog.Event) error {
	var (
		name    string
		handler eventHandler
	)
	switch event.Kind {
	case chatlog.EventKindMessageCreated:
		name, handler = "received handler", m.handleReceived
	case chatlog.EventKindMessageEdited:
		name, handler = "edited handler", m.handleEdited
	case chatlog.EventKindMessageDeleted:
		name, handler = "deleted handler", m.handleDeleted
	default:
		return nil
	}

	result := m.guard(ctx, name, event, handler)
	m.metrics.events.WithLabelValues(string(event.Kind), string(result)).Inc()

	return nil
}

// guard runs handler and converts errors and panics into error sink records.
func (m *Module) guard(ctx context.Context, name string, event *chatlog.Event, handler eventHandler) (result outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.reportFailure(ctx, name, event, fmt.Errorf("panic recovered: %v", recovered))
			result = outcomeFailed
		}
	}()

	result, err := handler(ctx, event)
	if err != nil {
		m.reportFailure(ctx, name, event, err)
		return outcomeFailed
	}

	return result
}

// reportFailure logs err and appends it to the error sink. The sink write is
// detached from ctx so a handler that hit its deadline is still recorded.
func (m *Module) reportFailure(ctx context.Context, name string, event *chatlog.Event, err error) {
	m.logger.ErrorContext(ctx,
		"monitor handler failed",
		"handler", name,
		"kind", event.Kind,
		"chat_id", event.Chat.ID,
		"message_id", event.MessageID,
		"error", err,
	)

	message := fmt.Sprintf("Error in %s: %v", name, err)
	if sinkErr := m.journal.AppendError(context.WithoutCancel(ctx), message); sinkErr != nil {
		m.logger.ErrorContext(ctx,
			"monitor error sink write failed",
			"handler", name,
			"error", sinkErr,
		)
	}
}

// handleReceived sweeps stale history, caches the message, and records it.
func (m *Module) handleReceived(ctx context.Context, event *chatlog.Event) (outcome, error) {
	if !m.allows(event.Chat.ID) {
		return outcomeFiltered, nil
	}

	now := m.clock()
	m.sweep(ctx, now)

	sender := event.Sender.Label()
	m.cache.Put(event.MessageID, now, event.Text, sender, history.Chat{
		ID:    event.Chat.ID,
		Title: event.Chat.Title,
	})

	err := m.journal.Append(ctx, journal.Record{
		Action:    journal.ActionReceived,
		ChatID:    event.Chat.ID,
		ChatTitle: event.Chat.Title,
		MessageID: event.MessageID,
		At:        now,
		Sender:    sender,
		Text:      event.Text,
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("record received message %d: %w", event.MessageID, err)
	}

	return outcomeLogged, nil
}

// handleEdited records an edit of a cached message when its text changed.
func (m *Module) handleEdited(ctx context.Context, event *chatlog.Event) (outcome, error) {
	if !m.allows(event.Chat.ID) {
		return outcomeFiltered, nil
	}

	now := m.clock()
	previous, result := m.cache.Update(event.MessageID, now, event.Text)
	switch result {
	case history.UpdateMissing:
		return outcomeUnknown, nil
	case history.UpdateUnchanged:
		return outcomeUnchanged, nil
	}

	err := m.journal.Append(ctx, journal.Record{
		Action:    journal.ActionEdited,
		ChatID:    event.Chat.ID,
		ChatTitle: event.Chat.Title,
		MessageID: event.MessageID,
		At:        now,
		Sender:    previous.Sender,
		OldText:   previous.Text,
		NewText:   event.Text,
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("record edited message %d: %w", event.MessageID, err)
	}

	return outcomeLogged, nil
}

// handleDeleted removes a cached message and records its last known text.
//
// Deletions may arrive without a chat. Those are dropped under an allow-list
// and otherwise routed to the chat captured when the message was cached.
func (m *Module) handleDeleted(ctx context.Context, event *chatlog.Event) (outcome, error) {
	chat := event.Chat
	if !chat.Known() && len(m.allowed) > 0 {
		return outcomeFiltered, nil
	}
	if chat.Known() && !m.allows(chat.ID) {
		return outcomeFiltered, nil
	}

	entry, ok := m.cache.Take(event.MessageID)
	if !ok {
		return outcomeUnknown, nil
	}

	chatID, chatTitle := chat.ID, chat.Title
	if !chat.Known() {
		chatID = entry.ChatID
	}
	if chatTitle == "" && chatID == entry.ChatID {
		chatTitle = entry.ChatTitle
	}

	err := m.journal.Append(ctx, journal.Record{
		Action:    journal.ActionDeleted,
		ChatID:    chatID,
		ChatTitle: chatTitle,
		MessageID: event.MessageID,
		At:        m.clock(),
		Sender:    entry.Sender,
		Text:      entry.Text,
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("record deleted message %d: %w", event.MessageID, err)
	}

	return outcomeLogged, nil
}

// sweep prunes expired history at most once per sweep interval.
func (m *Module) sweep(ctx context.Context, now time.Time) {
	removed, ran := m.cache.Sweep(now)
	if !ran {
		return
	}

	m.metrics.sweeps.Inc()
	m.metrics.swept.Add(float64(removed))
	m.logger.InfoContext(ctx,
		"history sweep completed",
		"removed", removed,
		"remaining", m.cache.Len(),
	)
}
