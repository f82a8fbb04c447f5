package telegram

import (
	"sync"

	"github.com/gotd/td/tg"
)

// DriverType is the driver name used when none is configured.
const DriverType = "telegram"

// SelfIdentity remembers the authorized account.
//
// Outgoing messages in private chats carry no author peer, so the mapper
// attributes them to this account once the session is authorized.
type SelfIdentity struct {
	mu   sync.RWMutex
	self SenderRef
	set  bool
}

// NewSelfIdentity creates an empty identity holder.
func NewSelfIdentity() *SelfIdentity {
	return &SelfIdentity{}
}

// Set records the authorized user. Nil users are ignored.
func (s *SelfIdentity) Set(user *tg.User) {
	if s == nil || user == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = senderFromUser(user)
	s.set = true
}

// Get returns the authorized user when known.
func (s *SelfIdentity) Get() (SenderRef, bool) {
	if s == nil {
		return SenderRef{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.self, s.set
}
