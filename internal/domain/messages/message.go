// Package messages описывает внешнюю форму сообщения истории и проекцию из
// MTProto-представления (tg.Message) в неё. Пакет отвечает за:
//   - модель Message со стабильным JSON-контрактом для инструментов и NDJSON-выгрузок;
//   - сбор сущностей (users/chats/channels) из ответов API для обогащения отправителя;
//   - классификацию медиавложений по фасетам (см. media.go).
//
// Проекция строго read-only: пакет никогда не обращается к API и работает только
// с уже полученными данными.
package messages

import (
	"strings"

	"github.com/gotd/td/tg"

	"telegram-history-mcp/internal/infra/timeutil"
)

// Message — внешняя форма одного сообщения. Поля с omitempty опускаются в JSON,
// когда Telegram не прислал соответствующих данных.
type Message struct {
	ID        int     `json:"id"`
	Date      string  `json:"date"`
	DateUnix  int64   `json:"date_unix"`
	Text      string  `json:"text"`
	Sender    *Sender `json:"sender,omitempty"`
	Views     int     `json:"views,omitempty"`
	Forwards  int     `json:"forwards,omitempty"`
	Replies   int     `json:"replies,omitempty"`
	Reactions int     `json:"reactions,omitempty"`

	Pinned     bool `json:"pinned,omitempty"`
	Silent     bool `json:"silent,omitempty"`
	Post       bool `json:"post,omitempty"`
	NoForwards bool `json:"noforwards,omitempty"`

	MediaType  MediaKind   `json:"media_type"`
	HasMedia   bool        `json:"has_media"`
	Attachment *Attachment `json:"attachment,omitempty"`

	ReplyToID int    `json:"reply_to_id,omitempty"`
	TopicID   int    `json:"topic_id,omitempty"`
	EditDate  string `json:"edit_date,omitempty"`
	GroupedID int64  `json:"grouped_id,omitempty"`
}

// Sender — автор сообщения. Для постов канала, у которых FromID отсутствует,
// отправителем считается сам канал; подпись автора (post_author) попадает в Display.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	Display  string `json:"display,omitempty"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Verified bool   `json:"verified,omitempty"`
}

// Entities — карты сущностей из ответа API (messages.getHistory и др.),
// нужные для обогащения Sender. Ключ — ID сущности.
type Entities struct {
	Users    map[int64]*tg.User
	Chats    map[int64]*tg.Chat
	Channels map[int64]*tg.Channel
}

// CollectEntities раскладывает Users/Chats из ответа API по картам. Пустые
// классы (UserEmpty, ChatForbidden и т.п.) пропускаются.
func CollectEntities(users []tg.UserClass, chats []tg.ChatClass) Entities {
	ent := Entities{
		Users:    make(map[int64]*tg.User, len(users)),
		Chats:    make(map[int64]*tg.Chat),
		Channels: make(map[int64]*tg.Channel),
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			ent.Users[user.ID] = user
		}
	}
	for _, c := range chats {
		switch chat := c.(type) {
		case *tg.Chat:
			ent.Chats[chat.ID] = chat
		case *tg.Channel:
			ent.Channels[chat.ID] = chat
		}
	}
	return ent
}

// FromTG проецирует tg.Message во внешнюю форму. Сущности используются только
// для обогащения отправителя; отсутствие сущности даёт Sender с одним ID.
func FromTG(msg *tg.Message, ent Entities) Message {
	m := Message{
		ID:         msg.ID,
		DateUnix:   int64(msg.Date),
		Date:       timeutil.FormatUTC(timeutil.FromUnix(msg.Date)),
		Text:       msg.Message,
		Views:      msg.Views,
		Forwards:   msg.Forwards,
		Replies:    msg.Replies.Replies,
		Reactions:  reactionsTotal(msg.Reactions),
		Pinned:     msg.Pinned,
		Silent:     msg.Silent,
		Post:       msg.Post,
		NoForwards: msg.Noforwards,
		GroupedID:  msg.GroupedID,
	}

	m.MediaType, m.HasMedia, m.Attachment = Classify(msg.Media)

	if msg.EditDate > 0 {
		m.EditDate = timeutil.FormatUTC(timeutil.FromUnix(msg.EditDate))
	}

	if reply, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok {
		m.ReplyToID = reply.ReplyToMsgID
		if reply.ForumTopic {
			m.TopicID = reply.ReplyToTopID
			if m.TopicID == 0 {
				m.TopicID = reply.ReplyToMsgID
			}
		}
	}

	m.Sender = senderOf(msg, ent)
	return m
}

// senderOf определяет автора: FromID, если задан, иначе сам пир чата (случай
// постов канала и личных сообщений собеседника).
func senderOf(msg *tg.Message, ent Entities) *Sender {
	peer := msg.FromID
	if peer == nil {
		peer = msg.PeerID
	}
	if peer == nil {
		return nil
	}

	var s *Sender
	switch p := peer.(type) {
	case *tg.PeerUser:
		s = &Sender{ID: p.UserID}
		if u, ok := ent.Users[p.UserID]; ok {
			s.Username = u.Username
			s.Display = displayName(u)
			s.IsBot = u.Bot
			s.Verified = u.Verified
		}
	case *tg.PeerChat:
		s = &Sender{ID: p.ChatID}
		if c, ok := ent.Chats[p.ChatID]; ok {
			s.Display = c.Title
		}
	case *tg.PeerChannel:
		s = &Sender{ID: p.ChannelID}
		if ch, ok := ent.Channels[p.ChannelID]; ok {
			s.Username = ch.Username
			s.Display = ch.Title
			s.Verified = ch.Verified
		}
	default:
		return nil
	}

	// Подпись автора поста (если канал включил подписи) важнее имени канала.
	if msg.PostAuthor != "" {
		s.Display = msg.PostAuthor
	}
	return s
}

// displayName собирает отображаемое имя пользователя из FirstName/LastName.
func displayName(u *tg.User) string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// reactionsTotal суммирует счётчики всех реакций сообщения.
func reactionsTotal(r tg.MessageReactions) int {
	total := 0
	for _, rc := range r.Results {
		total += rc.Count
	}
	return total
}
