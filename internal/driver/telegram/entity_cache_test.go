package telegram

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gotd/td/tg"

	"tglogger/pkg/chatlog"
)

func TestEntityCacheRemembersEnvelopeEntities(t *testing.T) {
	t.Parallel()

	cache := NewEntityCache()
	cache.RememberEnvelope(gotdUpdateEnvelope{
		usersByID: map[int64]*tg.User{
			42: newTGUser(42, " alice ", "Alice", ""),
			43: nil,
		},
		chatsByID: map[int64]gotdChatInfo{
			-1000000000500: {title: "news", kind: chatlog.ChatTypeChannel},
		},
	})

	user, ok := cache.User(42)
	if !ok {
		t.Fatal("expected user 42")
	}
	if diff := cmp.Diff(SenderRef{ID: 42, Username: "alice", FirstName: "Alice"}, user); diff != "" {
		t.Fatalf("user mismatch (-want +got):\n%s", diff)
	}
	if _, ok := cache.User(43); ok {
		t.Fatal("nil user must not be cached")
	}

	chat, ok := cache.chat(-1000000000500)
	if !ok {
		t.Fatal("expected channel in cache")
	}
	if diff := cmp.Diff(gotdChatInfo{title: "news", kind: chatlog.ChatTypeChannel}, chat, cmp.AllowUnexported(gotdChatInfo{})); diff != "" {
		t.Fatalf("chat mismatch (-want +got):\n%s", diff)
	}
	if _, ok := cache.chat(-1); ok {
		t.Fatal("unexpected chat -1")
	}
}

func TestEntityCacheAndSelfIdentityNilSafe(t *testing.T) {
	t.Parallel()

	var cache *EntityCache
	cache.RememberEnvelope(gotdUpdateEnvelope{usersByID: map[int64]*tg.User{1: newTGUser(1, "x", "", "")}})
	cache.RememberUser(newTGUser(1, "x", "", ""))
	if _, ok := cache.User(1); ok {
		t.Fatal("nil cache must not report users")
	}
	if _, ok := cache.chat(-1); ok {
		t.Fatal("nil cache must not report chats")
	}

	var self *SelfIdentity
	self.Set(newTGUser(1, "me", "", ""))
	if _, ok := self.Get(); ok {
		t.Fatal("nil identity must not report a user")
	}

	identity := NewSelfIdentity()
	if _, ok := identity.Get(); ok {
		t.Fatal("fresh identity must be empty")
	}
	identity.Set(nil)
	if _, ok := identity.Get(); ok {
		t.Fatal("nil user must be ignored")
	}
	identity.Set(newTGUser(7, "me", "Me", "Myself"))
	got, ok := identity.Get()
	if !ok || got != (SenderRef{ID: 7, Username: "me", FirstName: "Me", LastName: "Myself"}) {
		t.Fatalf("identity = %+v %v, want me", got, ok)
	}
}
