package telegram

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"

	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/throttle"
)

// entityHandle держит сырую сущность, нужную для запроса полной информации.
type entityHandle struct {
	user    *tg.User
	channel *tg.Channel
}

// ByUsername реализует resolve.Lookup через contacts.resolveUsername с
// последующим обогащением полной информацией (описание, число участников).
func (p *Provider) ByUsername(ctx context.Context, username string) (resolve.ChatRef, error) {
	var res *tg.ContactsResolvedPeer
	err := p.invoke(ctx, "contacts.resolveUsername", func(callCtx context.Context) error {
		r, callErr := p.api.ContactsResolveUsername(callCtx, &tg.ContactsResolveUsernameRequest{Username: username})
		if callErr != nil {
			return callErr
		}
		res = r
		return nil
	})
	if err != nil {
		return resolve.ChatRef{}, mapRPCError(err)
	}

	if err := p.peers.ApplyEntities(ctx, res.Users, res.Chats); err != nil {
		logger.Warnf("telegram: apply entities: %v", err)
	}

	ref, src, err := refFromResolved(res)
	if err != nil {
		return resolve.ChatRef{}, err
	}
	return p.enrich(ctx, ref, src)
}

// ByCanonicalID разрешает знаковый идентификатор через кэш пиров. Сущность,
// которой нет ни в памяти, ни в персистентном хранилище, недостижима: без
// access hash MTProto не принимает запросы по голому id.
func (p *Provider) ByCanonicalID(ctx context.Context, cid int64) (resolve.ChatRef, error) {
	kind, id := resolve.FromCanonicalID(cid)
	peerObj, ok, err := p.peers.ResolvePeer(ctx, kind, id)
	if err != nil {
		return resolve.ChatRef{}, err
	}
	if !ok {
		return resolve.ChatRef{}, errors.Wrapf(resolve.ErrChatNotFound, "id %d is not known yet; resolve the chat by username first", cid)
	}

	var (
		ref resolve.ChatRef
		src entityHandle
	)
	switch v := peerObj.(type) {
	case peers.User:
		raw := v.Raw()
		ref, src = refFromUser(raw), entityHandle{user: raw}
	case peers.Channel:
		raw := v.Raw()
		ref, src = refFromChannel(raw), entityHandle{channel: raw}
	case peers.Chat:
		ref = refFromChat(v.Raw())
	default:
		return resolve.ChatRef{}, errors.Wrapf(resolve.ErrChatNotFound, "id %d has unsupported peer kind", cid)
	}
	return p.enrich(ctx, ref, src)
}

// enrich добирает описание и число участников вторым запросом. Сбой
// обогащения не фатален, кроме вердиктов о доступности (чат исчез или стал
// приватным) и лимитов — те поднимаются наверх.
func (p *Provider) enrich(ctx context.Context, ref resolve.ChatRef, src entityHandle) (resolve.ChatRef, error) {
	switch {
	case src.channel != nil:
		full, err := p.fullChannel(ctx, src.channel)
		if err != nil {
			if fatalEnrich(err) {
				return resolve.ChatRef{}, err
			}
			logger.Debugf("telegram: full channel info for %q: %v", ref.Username, err)
			return ref, nil
		}
		ref.Description = full.About
		if full.ParticipantsCount > 0 {
			ref.MemberCount = full.ParticipantsCount
		}
	case src.user != nil:
		full, err := p.fullUser(ctx, src.user)
		if err != nil {
			if fatalEnrich(err) {
				return resolve.ChatRef{}, err
			}
			logger.Debugf("telegram: full user info for %q: %v", ref.Username, err)
			return ref, nil
		}
		ref.Description = full.About
	}
	return ref, nil
}

func fatalEnrich(err error) bool {
	var rl *throttle.RateLimited
	return errors.Is(err, resolve.ErrChannelPrivate) ||
		errors.Is(err, resolve.ErrChatNotFound) ||
		errors.As(err, &rl) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (p *Provider) fullChannel(ctx context.Context, ch *tg.Channel) (*tg.ChannelFull, error) {
	var res *tg.MessagesChatFull
	err := p.invoke(ctx, "channels.getFullChannel", func(callCtx context.Context) error {
		r, callErr := p.api.ChannelsGetFullChannel(callCtx, &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash})
		if callErr != nil {
			return callErr
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, mapRPCError(err)
	}
	full, ok := res.FullChat.(*tg.ChannelFull)
	if !ok {
		return nil, errors.Errorf("unexpected full chat class %T", res.FullChat)
	}
	return full, nil
}

func (p *Provider) fullUser(ctx context.Context, u *tg.User) (*tg.UserFull, error) {
	var res *tg.UsersUserFull
	err := p.invoke(ctx, "users.getFullUser", func(callCtx context.Context) error {
		r, callErr := p.api.UsersGetFullUser(callCtx, &tg.InputUser{UserID: u.ID, AccessHash: u.AccessHash})
		if callErr != nil {
			return callErr
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, mapRPCError(err)
	}
	return &res.FullUser, nil
}

// refFromResolved находит в ответе resolveUsername сущность, на которую
// указывает peer, и строит по ней ChatRef.
func refFromResolved(res *tg.ContactsResolvedPeer) (resolve.ChatRef, entityHandle, error) {
	switch peer := res.Peer.(type) {
	case *tg.PeerUser:
		for _, u := range res.Users {
			if user, ok := u.(*tg.User); ok && user.ID == peer.UserID {
				return refFromUser(user), entityHandle{user: user}, nil
			}
		}
	case *tg.PeerChannel:
		for _, c := range res.Chats {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == peer.ChannelID {
				return refFromChannel(ch), entityHandle{channel: ch}, nil
			}
		}
	case *tg.PeerChat:
		for _, c := range res.Chats {
			if ch, ok := c.(*tg.Chat); ok && ch.ID == peer.ChatID {
				return refFromChat(ch), entityHandle{}, nil
			}
		}
	}
	return resolve.ChatRef{}, entityHandle{}, errors.Wrap(resolve.ErrChatNotFound, "resolved peer missing from entities")
}

// refFromChannel строит ChatRef из tg.Channel. Супергруппы наружу видны как
// kind=group, вещательные каналы — как kind=channel.
func refFromChannel(ch *tg.Channel) resolve.ChatRef {
	kind := resolve.KindChannel
	if ch.Megagroup {
		kind = resolve.KindGroup
	}
	return resolve.ChatRef{
		CanonicalID: resolve.CanonicalID("channel", ch.ID),
		Kind:        kind,
		Username:    entityUsername(ch.Username, ch.Usernames),
		Title:       ch.Title,
		MemberCount: ch.ParticipantsCount,
		Verified:    ch.Verified,
	}
}

func refFromUser(u *tg.User) resolve.ChatRef {
	return resolve.ChatRef{
		CanonicalID: resolve.CanonicalID("user", u.ID),
		Kind:        resolve.KindUser,
		Username:    entityUsername(u.Username, u.Usernames),
		Title:       displayName(u.FirstName, u.LastName),
		Verified:    u.Verified,
	}
}

// refFromChat: у обычных групп публичного имени не бывает, такой ChatRef
// дальше отсеивает проверка публичности в резолвере.
func refFromChat(ch *tg.Chat) resolve.ChatRef {
	return resolve.ChatRef{
		CanonicalID: resolve.CanonicalID("chat", ch.ID),
		Kind:        resolve.KindGroup,
		Title:       ch.Title,
		MemberCount: ch.ParticipantsCount,
	}
}

// entityUsername возвращает публичное имя сущности. Основное поле username
// пустует у сущностей с коллекционными именами, тогда берётся первое активное
// из списка usernames.
func entityUsername(base string, extra []tg.Username) string {
	if base != "" {
		return strings.ToLower(base)
	}
	for _, u := range extra {
		if u.Active {
			return strings.ToLower(u.Username)
		}
	}
	return ""
}

func displayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
