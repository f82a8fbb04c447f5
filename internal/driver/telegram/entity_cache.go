package telegram

import (
	"sync"

	"github.com/gotd/td/tg"
)

// EntityCache stores users and chats discovered in inbound update batches.
//
// Short updates and deletions carry no entity data; the mapper falls back to
// this cache to resolve sender labels and chat titles for them.
type EntityCache struct {
	mu    sync.RWMutex
	users map[int64]SenderRef
	chats map[int64]gotdChatInfo
}

// NewEntityCache creates an empty, concurrency-safe entity cache.
func NewEntityCache() *EntityCache {
	return &EntityCache{
		users: make(map[int64]SenderRef),
		chats: make(map[int64]gotdChatInfo),
	}
}

// RememberEnvelope ingests entity data attached to one gotd update envelope.
func (c *EntityCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil || (len(envelope.usersByID) == 0 && len(envelope.chatsByID) == 0) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		c.users[userID] = senderFromUser(user)
	}
	for markedID, chat := range envelope.chatsByID {
		c.chats[markedID] = chat
	}
}

// RememberUser stores one user entity.
func (c *EntityCache) RememberUser(user *tg.User) {
	if c == nil || user == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[user.ID] = senderFromUser(user)
}

// User returns the cached projection of a plain user id.
func (c *EntityCache) User(userID int64) (SenderRef, bool) {
	if c == nil {
		return SenderRef{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	user, ok := c.users[userID]

	return user, ok
}

// chat returns cached chat metadata by marked id.
func (c *EntityCache) chat(markedID int64) (gotdChatInfo, bool) {
	if c == nil {
		return gotdChatInfo{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.chats[markedID]

	return info, ok
}
