// Package resolve переводит пользовательские ссылки на чаты (@username,
// t.me-ссылки, числовые id) в канонические описания. Пакет не ходит в сеть
// сам: доступ к Telegram абстрагирован интерфейсом Lookup, а успешные ответы
// опционально кэшируются в памяти.
package resolve

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"telegram-history-mcp/internal/domain/history"
)

// Ошибки резолва, по которым фасад выбирает код ответа.
var (
	// ErrUsernameInvalid — ввод не соответствует грамматике ссылок на чат.
	ErrUsernameInvalid = errors.New("username invalid")
	// ErrChatNotFound — сущность не существует или имя никем не занято.
	ErrChatNotFound = errors.New("chat not found")
	// ErrChannelPrivate — чат существует, но без приглашения недоступен.
	ErrChannelPrivate = errors.New("channel is private")
)

// Виды чатов во внешнем представлении.
const (
	KindUser    = "user"
	KindGroup   = "group"
	KindChannel = "channel"
)

// botAPIChannelOffset — смещение Bot API: канонический id канала или
// супергруппы записывается как -1000000000000 - id.
const botAPIChannelOffset int64 = 1000000000000

// ChatRef — разрешённый чат в каноническом виде для выдачи наружу.
type ChatRef struct {
	CanonicalID int64  `json:"canonical_id"`
	Kind        string `json:"kind"` // user | group | channel
	Username    string `json:"username,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
}

// Peer возвращает ссылку на чат в форме, ожидаемой провайдером истории.
func (r ChatRef) Peer() history.ChatPeer {
	kind, id := FromCanonicalID(r.CanonicalID)
	return history.ChatPeer{Kind: kind, ID: id}
}

// CanonicalID кодирует пару (вид пира MTProto, внутренний id) в один знаковый
// идентификатор по соглашению Bot API: пользователи — положительные, обычные
// группы — с минусом, каналы и супергруппы — со смещением -100.
func CanonicalID(peerKind string, id int64) int64 {
	switch peerKind {
	case "chat":
		return -id
	case "channel":
		return -botAPIChannelOffset - id
	default:
		return id
	}
}

// FromCanonicalID раскладывает знаковый идентификатор обратно в вид пира
// MTProto и внутренний id.
func FromCanonicalID(cid int64) (peerKind string, id int64) {
	switch {
	case cid < -botAPIChannelOffset:
		return "channel", -(cid + botAPIChannelOffset)
	case cid < 0:
		return "chat", -cid
	default:
		return "user", cid
	}
}

// Lookup — доступ к Telegram для резолва. Реализация обязана возвращать
// ErrChatNotFound и ErrChannelPrivate (допустимо обёрнутыми) для
// соответствующих ответов сервера.
type Lookup interface {
	// ByUsername разрешает публичное имя (без @, в нижнем регистре).
	ByUsername(ctx context.Context, username string) (ChatRef, error)
	// ByCanonicalID разрешает знаковый канонический идентификатор.
	ByCanonicalID(ctx context.Context, id int64) (ChatRef, error)
}

// Resolver разбирает ввод, ходит в Lookup и следит, чтобы наружу уходили
// только публично доступные чаты.
type Resolver struct {
	lookup Lookup
	cache  *refCache
}

// Option настраивает резолвер.
type Option func(*Resolver)

// WithCache включает LRU-кэш успешных резолвов ёмкостью size записей и
// временем жизни ttl.
func WithCache(size int, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = newRefCache(size, ttl)
	}
}

// NewResolver создаёт резолвер поверх переданного Lookup.
func NewResolver(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{lookup: lookup}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve переводит пользовательский ввод в ChatRef.
func (r *Resolver) Resolve(ctx context.Context, raw string) (ChatRef, error) {
	in, err := ParseInput(raw)
	if err != nil {
		return ChatRef{}, err
	}

	key := in.Canonical()
	if r.cache != nil {
		if ref, ok := r.cache.get(key); ok {
			return ref, nil
		}
	}

	var ref ChatRef
	switch in.Kind {
	case InputUsername:
		ref, err = r.lookup.ByUsername(ctx, in.Username)
	default:
		ref, err = r.lookup.ByCanonicalID(ctx, in.ID)
	}
	if err != nil {
		return ChatRef{}, err
	}
	if err := publiclyAccessible(ref); err != nil {
		return ChatRef{}, err
	}

	if r.cache != nil {
		r.cache.put(key, ref)
	}
	return ref, nil
}

// Invalidate выбрасывает кэшированный резолв для данного ввода. Вызывается,
// когда нижележащий запрос истории ответил, что сущность исчезла или сменила
// доступность.
func (r *Resolver) Invalidate(raw string) {
	if r.cache == nil {
		return
	}
	in, err := ParseInput(raw)
	if err != nil {
		return
	}
	r.cache.remove(in.Canonical())
}

// Сервер работает только с публичными чатами. Критерий — наличие публичного
// имени: приватные каналы и группы по приглашениям его не имеют.
func publiclyAccessible(ref ChatRef) error {
	if ref.Username == "" {
		return errors.Wrapf(ErrChannelPrivate, "chat %d has no public username", ref.CanonicalID)
	}
	return nil
}
