package messages_test

import (
	"testing"

	"github.com/gotd/td/tg"

	"telegram-history-mcp/internal/domain/messages"
)

func TestFromTGUserMessage(t *testing.T) {
	t.Parallel()

	ent := messages.CollectEntities(
		[]tg.UserClass{&tg.User{
			ID:        42,
			Username:  "alice",
			FirstName: "Alice",
			LastName:  "Liddell",
			Verified:  true,
		}},
		nil,
	)

	msg := &tg.Message{
		ID:       1007,
		Date:     1700000000,
		Message:  "hello",
		FromID:   &tg.PeerUser{UserID: 42},
		PeerID:   &tg.PeerChannel{ChannelID: 100},
		Views:    15,
		Forwards: 3,
		Replies:  tg.MessageReplies{Replies: 2},
		Reactions: tg.MessageReactions{Results: []tg.ReactionCount{
			{Count: 4},
			{Count: 1},
		}},
		Pinned:    true,
		EditDate:  1700000100,
		GroupedID: 777,
		ReplyTo:   &tg.MessageReplyHeader{ReplyToMsgID: 1001},
	}

	m := messages.FromTG(msg, ent)

	if m.ID != 1007 || m.DateUnix != 1700000000 {
		t.Fatalf("FromTG() id/date = %d/%d, want 1007/1700000000", m.ID, m.DateUnix)
	}
	if m.Date != "2023-11-14T22:13:20Z" {
		t.Fatalf("FromTG() date = %q, want 2023-11-14T22:13:20Z", m.Date)
	}
	if m.Text != "hello" {
		t.Fatalf("FromTG() text = %q, want hello", m.Text)
	}
	if m.Views != 15 || m.Forwards != 3 || m.Replies != 2 || m.Reactions != 5 {
		t.Fatalf("FromTG() counters = %d/%d/%d/%d, want 15/3/2/5", m.Views, m.Forwards, m.Replies, m.Reactions)
	}
	if !m.Pinned {
		t.Fatal("FromTG() pinned = false, want true")
	}
	if m.EditDate != "2023-11-14T22:15:00Z" {
		t.Fatalf("FromTG() edit date = %q, want 2023-11-14T22:15:00Z", m.EditDate)
	}
	if m.ReplyToID != 1001 || m.TopicID != 0 {
		t.Fatalf("FromTG() reply/topic = %d/%d, want 1001/0", m.ReplyToID, m.TopicID)
	}
	if m.GroupedID != 777 {
		t.Fatalf("FromTG() grouped id = %d, want 777", m.GroupedID)
	}
	if m.MediaType != messages.KindText || m.HasMedia {
		t.Fatalf("FromTG() media = %q/%v, want text/false", m.MediaType, m.HasMedia)
	}

	if m.Sender == nil {
		t.Fatal("FromTG() sender = nil, want user")
	}
	if m.Sender.ID != 42 || m.Sender.Username != "alice" {
		t.Fatalf("sender = %d/%q, want 42/alice", m.Sender.ID, m.Sender.Username)
	}
	if m.Sender.Display != "Alice Liddell" {
		t.Fatalf("sender display = %q, want Alice Liddell", m.Sender.Display)
	}
	if !m.Sender.Verified || m.Sender.IsBot {
		t.Fatalf("sender flags = verified %v, bot %v, want true/false", m.Sender.Verified, m.Sender.IsBot)
	}
}

func TestFromTGChannelPost(t *testing.T) {
	t.Parallel()

	ent := messages.CollectEntities(nil, []tg.ChatClass{&tg.Channel{
		ID:       500,
		Username: "gonews",
		Title:    "Go News",
		Verified: true,
	}})

	msg := &tg.Message{
		ID:         2001,
		Date:       1700000000,
		Message:    "release notes",
		PeerID:     &tg.PeerChannel{ChannelID: 500},
		Post:       true,
		PostAuthor: "editor",
	}

	m := messages.FromTG(msg, ent)

	if !m.Post {
		t.Fatal("FromTG() post = false, want true")
	}
	if m.Sender == nil {
		t.Fatal("FromTG() sender = nil, want channel")
	}
	if m.Sender.ID != 500 || m.Sender.Username != "gonews" {
		t.Fatalf("sender = %d/%q, want 500/gonews", m.Sender.ID, m.Sender.Username)
	}
	if m.Sender.Display != "editor" {
		t.Fatalf("sender display = %q, want post author signature", m.Sender.Display)
	}
	if !m.Sender.Verified {
		t.Fatal("sender verified = false, want true")
	}
}

func TestFromTGUnknownSenderKeepsBareID(t *testing.T) {
	t.Parallel()

	msg := &tg.Message{
		ID:     3001,
		Date:   1700000000,
		FromID: &tg.PeerUser{UserID: 999},
		PeerID: &tg.PeerChannel{ChannelID: 500},
	}

	m := messages.FromTG(msg, messages.CollectEntities(nil, nil))
	if m.Sender == nil || m.Sender.ID != 999 {
		t.Fatalf("FromTG() sender = %+v, want bare id 999", m.Sender)
	}
	if m.Sender.Username != "" || m.Sender.Display != "" {
		t.Fatalf("sender meta = %q/%q, want empty", m.Sender.Username, m.Sender.Display)
	}
}

func TestFromTGForumTopic(t *testing.T) {
	t.Parallel()

	msg := &tg.Message{
		ID:     4001,
		Date:   1700000000,
		PeerID: &tg.PeerChannel{ChannelID: 500},
		ReplyTo: &tg.MessageReplyHeader{
			ReplyToMsgID: 120,
			ForumTopic:   true,
			ReplyToTopID: 15,
		},
	}

	m := messages.FromTG(msg, messages.CollectEntities(nil, nil))
	if m.ReplyToID != 120 || m.TopicID != 15 {
		t.Fatalf("FromTG() reply/topic = %d/%d, want 120/15", m.ReplyToID, m.TopicID)
	}
}
