package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/constant"
	"github.com/gotd/td/tg"

	"tglogger/pkg/chatlog"
)

// DefaultGotdUpdateMapper maps gotd updates into adapter DTO updates.
type DefaultGotdUpdateMapper struct {
	entities *EntityCache
	self     *SelfIdentity
	clock    func() time.Time
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithEntityCache remembers batch entities and resolves entity-less updates through cache.
func WithEntityCache(cache *EntityCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.entities = cache
		}
	}
}

// WithSelfIdentity attributes outgoing private messages to the authorized account.
func WithSelfIdentity(self *SelfIdentity) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if self != nil {
			mapper.self = self
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{clock: time.Now}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update value into an adapter update.
// Update classes other than message create, edit, and delete are skipped.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update context: %w", err)
	}

	envelope, err := m.normalizeGotdRaw(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}
	m.entities.RememberEnvelope(envelope)

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateNewChannelMessage:
		return m.mapNewMessage(update.Message, envelope)
	case *tg.UpdateEditMessage:
		return m.mapEditMessage(update.Message, envelope)
	case *tg.UpdateEditChannelMessage:
		return m.mapEditMessage(update.Message, envelope)
	case *tg.UpdateDeleteMessages:
		return m.mapDeleteMessages(update, envelope)
	case *tg.UpdateDeleteChannelMessages:
		return m.mapDeleteChannelMessages(update, envelope)
	default:
		return Update{}, false, nil
	}
}

func (m DefaultGotdUpdateMapper) normalizeGotdRaw(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  m.clock(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

// mapNewMessage maps regular messages. Service messages (joins, pins, title
// changes) have no text body to track and are skipped.
func (m DefaultGotdUpdateMapper) mapNewMessage(
	message tg.MessageClass,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	chat := m.resolveChatFromPeer(typed.PeerID, envelope)
	occurredAt := intToTime(typed.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}

	return Update{
		ID:         composeUpdateID(UpdateTypeMessage, chat.ID, typed.ID, occurredAt),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Sender:     m.resolveMessageSender(typed, envelope),
		Message: &MessagePayload{
			ID:   typed.ID,
			Text: typed.Message,
		},
	}, true, nil
}

func (m DefaultGotdUpdateMapper) mapEditMessage(
	message tg.MessageClass,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	chat := m.resolveChatFromPeer(typed.PeerID, envelope)
	occurredAt := envelope.occurredAt
	if editDate, ok := typed.GetEditDate(); ok {
		occurredAt = intToTime(editDate)
	}
	if occurredAt.IsZero() {
		occurredAt = intToTime(typed.Date)
	}

	return Update{
		ID:         composeUpdateID(UpdateTypeEdit, chat.ID, typed.ID, occurredAt),
		Type:       UpdateTypeEdit,
		OccurredAt: occurredAt,
		Chat:       chat,
		Sender:     m.resolveMessageSender(typed, envelope),
		Edit: &EditPayload{
			MessageID: typed.ID,
			Text:      typed.Message,
		},
	}, true, nil
}

// mapDeleteMessages maps private and basic-group deletions, which do not say
// which chat the message belonged to.
func (m DefaultGotdUpdateMapper) mapDeleteMessages(
	update *tg.UpdateDeleteMessages,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if update == nil || len(update.Messages) == 0 {
		return Update{}, false, nil
	}

	messageID := update.Messages[0]
	occurredAt := m.deletionTime(envelope)

	return Update{
		ID:         composeUpdateID(UpdateTypeDelete, 0, messageID, occurredAt),
		Type:       UpdateTypeDelete,
		OccurredAt: occurredAt,
		Delete:     &DeletePayload{MessageID: messageID},
	}, true, nil
}

func (m DefaultGotdUpdateMapper) mapDeleteChannelMessages(
	update *tg.UpdateDeleteChannelMessages,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if update == nil || len(update.Messages) == 0 {
		return Update{}, false, nil
	}

	chat := m.resolveChatByChannelID(update.ChannelID, envelope)
	messageID := update.Messages[0]
	occurredAt := m.deletionTime(envelope)

	return Update{
		ID:         composeUpdateID(UpdateTypeDelete, chat.ID, messageID, occurredAt),
		Type:       UpdateTypeDelete,
		OccurredAt: occurredAt,
		Chat:       chat,
		Delete:     &DeletePayload{MessageID: messageID},
	}, true, nil
}

func (m DefaultGotdUpdateMapper) deletionTime(envelope gotdUpdateEnvelope) time.Time {
	if !envelope.occurredAt.IsZero() {
		return envelope.occurredAt
	}

	return m.clock()
}

type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	chatsByID   map[int64]gotdChatInfo
	updateClass string
}

// gotdChatInfo is chat metadata keyed by marked chat id.
type gotdChatInfo struct {
	title    string
	username string
	kind     chatlog.ChatType
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

func indexGotdChats(chats []tg.ChatClass) map[int64]gotdChatInfo {
	if len(chats) == 0 {
		return nil
	}

	out := make(map[int64]gotdChatInfo, len(chats))
	for _, chat := range chats {
		switch typed := chat.(type) {
		case *tg.Chat:
			out[markedChatID(typed.ID)] = gotdChatInfo{title: typed.Title, kind: chatlog.ChatTypeGroup}
		case *tg.ChatForbidden:
			out[markedChatID(typed.ID)] = gotdChatInfo{title: typed.Title, kind: chatlog.ChatTypeGroup}
		case *tg.Channel:
			username, _ := typed.GetUsername()
			out[markedChannelID(typed.ID)] = gotdChatInfo{
				title:    typed.Title,
				username: username,
				kind:     channelKind(typed.Megagroup),
			}
		case *tg.ChannelForbidden:
			out[markedChannelID(typed.ID)] = gotdChatInfo{
				title: typed.Title,
				kind:  channelKind(typed.Megagroup),
			}
		}
	}

	return out
}

func channelKind(megagroup bool) chatlog.ChatType {
	if megagroup {
		return chatlog.ChatTypeGroup
	}

	return chatlog.ChatTypeChannel
}

func (m DefaultGotdUpdateMapper) resolveChatFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return ChatRef{
			ID:   markedUserID(typed.UserID),
			Type: chatlog.ChatTypePrivate,
		}
	case *tg.PeerChat:
		return m.resolveChatByMarkedID(markedChatID(typed.ChatID), chatlog.ChatTypeGroup, envelope)
	case *tg.PeerChannel:
		return m.resolveChatByChannelID(typed.ChannelID, envelope)
	default:
		return ChatRef{}
	}
}

func (m DefaultGotdUpdateMapper) resolveChatByChannelID(channelID int64, envelope gotdUpdateEnvelope) ChatRef {
	return m.resolveChatByMarkedID(markedChannelID(channelID), chatlog.ChatTypeChannel, envelope)
}

// resolveChatByMarkedID prefers batch entities, then the entity cache.
func (m DefaultGotdUpdateMapper) resolveChatByMarkedID(
	markedID int64,
	fallbackKind chatlog.ChatType,
	envelope gotdUpdateEnvelope,
) ChatRef {
	info, ok := m.lookupChat(markedID, envelope)
	if !ok {
		return ChatRef{ID: markedID, Type: fallbackKind}
	}

	return ChatRef{ID: markedID, Title: info.title, Type: info.kind}
}

func (m DefaultGotdUpdateMapper) lookupChat(markedID int64, envelope gotdUpdateEnvelope) (gotdChatInfo, bool) {
	if info, ok := envelope.chatsByID[markedID]; ok {
		return info, true
	}

	return m.entities.chat(markedID)
}

// resolveMessageSender picks the author: the explicit from peer, the
// authorized account for outgoing messages, or the private-chat peer.
func (m DefaultGotdUpdateMapper) resolveMessageSender(message *tg.Message, envelope gotdUpdateEnvelope) SenderRef {
	if message.FromID != nil {
		return m.resolveSenderFromPeer(message.FromID, envelope)
	}
	if message.Out {
		if self, ok := m.self.Get(); ok {
			return self
		}
		return SenderRef{}
	}

	return m.resolveSenderFromPeer(message.PeerID, envelope)
}

func (m DefaultGotdUpdateMapper) resolveSenderFromPeer(peer tg.PeerClass, envelope gotdUpdateEnvelope) SenderRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return m.resolveSenderByUserID(typed.UserID, envelope)
	case *tg.PeerChat:
		return m.resolveChatSender(markedChatID(typed.ChatID), envelope)
	case *tg.PeerChannel:
		return m.resolveChatSender(markedChannelID(typed.ChannelID), envelope)
	default:
		return SenderRef{}
	}
}

func (m DefaultGotdUpdateMapper) resolveSenderByUserID(userID int64, envelope gotdUpdateEnvelope) SenderRef {
	if userID == 0 {
		return SenderRef{}
	}
	if user, ok := envelope.usersByID[userID]; ok && user != nil {
		return senderFromUser(user)
	}
	if sender, ok := m.entities.User(userID); ok {
		return sender
	}

	return SenderRef{ID: userID}
}

// resolveChatSender projects channel posts and anonymous admins, whose author
// is the chat itself, with the title standing in for a first name.
func (m DefaultGotdUpdateMapper) resolveChatSender(markedID int64, envelope gotdUpdateEnvelope) SenderRef {
	info, ok := m.lookupChat(markedID, envelope)
	if !ok {
		return SenderRef{ID: markedID}
	}

	return SenderRef{
		ID:        markedID,
		Username:  info.username,
		FirstName: info.title,
	}
}

func senderFromUser(user *tg.User) SenderRef {
	username, _ := user.GetUsername()
	firstName, _ := user.GetFirstName()
	lastName, _ := user.GetLastName()

	return SenderRef{
		ID:        user.ID,
		Username:  strings.TrimSpace(username),
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
	}
}

func markedUserID(userID int64) int64 {
	var id constant.TDLibPeerID
	id.User(userID)

	return int64(id)
}

func markedChatID(chatID int64) int64 {
	var id constant.TDLibPeerID
	id.Chat(chatID)

	return int64(id)
}

func markedChannelID(channelID int64) int64 {
	var id constant.TDLibPeerID
	id.Channel(channelID)

	return int64(id)
}

func intToTime(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0)
}

func composeUpdateID(updateType UpdateType, chatID int64, messageID int, occurredAt time.Time) string {
	values := []string{
		"tg",
		string(updateType),
		strconv.FormatInt(chatID, 10),
		strconv.Itoa(messageID),
	}
	if !occurredAt.IsZero() {
		values = append(values, strconv.FormatInt(occurredAt.Unix(), 10))
	}

	return strings.Join(values, ":")
}
