package telegram

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/throttle"
)

func TestMapRPCError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		typ  string
		want error
	}{
		{name: "usernameInvalid", code: 400, typ: "USERNAME_INVALID", want: resolve.ErrUsernameInvalid},
		{name: "usernameNotOccupied", code: 400, typ: "USERNAME_NOT_OCCUPIED", want: resolve.ErrChatNotFound},
		{name: "peerIDInvalid", code: 400, typ: "PEER_ID_INVALID", want: resolve.ErrChatNotFound},
		{name: "channelInvalid", code: 400, typ: "CHANNEL_INVALID", want: resolve.ErrChatNotFound},
		{name: "channelPrivate", code: 403, typ: "CHANNEL_PRIVATE", want: resolve.ErrChannelPrivate},
		{name: "adminRequired", code: 403, typ: "CHAT_ADMIN_REQUIRED", want: resolve.ErrChannelPrivate},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := mapRPCError(tgerr.New(tc.code, tc.typ))
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapRPCError(%s) = %v, want %v", tc.typ, got, tc.want)
			}
		})
	}
}

func TestMapRPCErrorPassthrough(t *testing.T) {
	t.Parallel()

	if got := mapRPCError(nil); got != nil {
		t.Fatalf("mapRPCError(nil) = %v, want nil", got)
	}

	plain := errors.New("connection reset")
	if got := mapRPCError(plain); got != plain {
		t.Fatalf("mapRPCError(plain) = %v, want original", got)
	}

	// RateLimited оборачивает FLOOD_WAIT, но наружу должен выйти нетронутым:
	// retry_after и курсор возобновления строит фасад.
	rl := &throttle.RateLimited{RetryAfter: 30 * time.Second, Err: tgerr.New(420, "FLOOD_WAIT_30")}
	if got := mapRPCError(rl); got != error(rl) {
		t.Fatalf("mapRPCError(RateLimited) = %v, want original", got)
	}
}

func TestRefFromChannel(t *testing.T) {
	t.Parallel()

	broadcast := &tg.Channel{
		ID:                1234567890,
		Title:             "Go News",
		Username:          "GoNews",
		Broadcast:         true,
		Verified:          true,
		ParticipantsCount: 52100,
	}
	ref := refFromChannel(broadcast)
	if ref.Kind != resolve.KindChannel {
		t.Fatalf("broadcast kind = %q, want channel", ref.Kind)
	}
	if ref.CanonicalID != -1001234567890 {
		t.Fatalf("canonical id = %d, want -1001234567890", ref.CanonicalID)
	}
	if ref.Username != "gonews" || !ref.Verified || ref.MemberCount != 52100 {
		t.Fatalf("ref = %+v", ref)
	}

	mega := &tg.Channel{
		ID:        99,
		Title:     "Gophers",
		Megagroup: true,
		Usernames: []tg.Username{{Username: "GopherChat", Active: true}},
	}
	if got := refFromChannel(mega); got.Kind != resolve.KindGroup || got.Username != "gopherchat" {
		t.Fatalf("megagroup ref = %+v", got)
	}

	private := &tg.Channel{ID: 5, Title: "Closed"}
	if got := refFromChannel(private); got.Username != "" {
		t.Fatalf("private channel username = %q, want empty", got.Username)
	}
}

func TestRefFromUser(t *testing.T) {
	t.Parallel()

	u := &tg.User{ID: 777000, FirstName: "Alice", LastName: "Liddell", Username: "Alice", Verified: true}
	ref := refFromUser(u)
	if ref.Kind != resolve.KindUser || ref.CanonicalID != 777000 {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.Title != "Alice Liddell" || ref.Username != "alice" || !ref.Verified {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestRefFromChatHasNoUsername(t *testing.T) {
	t.Parallel()

	ref := refFromChat(&tg.Chat{ID: 4123, Title: "Kitchen", ParticipantsCount: 12})
	if ref.Kind != resolve.KindGroup || ref.CanonicalID != -4123 {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.Username != "" {
		t.Fatalf("basic group username = %q, want empty", ref.Username)
	}
}

func TestSplitHistory(t *testing.T) {
	t.Parallel()

	msg := &tg.Message{ID: 7}
	user := &tg.User{ID: 1}
	chat := &tg.Chat{ID: 2}

	cases := []struct {
		name string
		raw  tg.MessagesMessagesClass
		n    int
	}{
		{name: "messages", raw: &tg.MessagesMessages{Messages: []tg.MessageClass{msg}, Users: []tg.UserClass{user}, Chats: []tg.ChatClass{chat}}, n: 1},
		{name: "slice", raw: &tg.MessagesMessagesSlice{Count: 100, Messages: []tg.MessageClass{msg}}, n: 1},
		{name: "channelMessages", raw: &tg.MessagesChannelMessages{Count: 100, Messages: []tg.MessageClass{msg}}, n: 1},
		{name: "notModified", raw: &tg.MessagesMessagesNotModified{}, n: 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, _, _ := splitHistory(tc.raw)
			if len(got) != tc.n {
				t.Fatalf("splitHistory() returned %d messages, want %d", len(got), tc.n)
			}
		})
	}
}
