package telegram

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"

	"telegram-history-mcp/internal/domain/history"
	"telegram-history-mcp/internal/domain/messages"
	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/metrics"
	"telegram-history-mcp/internal/support/debug"
)

// HistoryBatch выполняет один messages.getHistory и проецирует ответ во
// внешнюю форму. Порядок сообщений в возвращаемом срезе не гарантируется —
// фетчер сортирует сам.
func (p *Provider) HistoryBatch(ctx context.Context, peer history.ChatPeer, req history.BatchRequest) ([]messages.Message, error) {
	inputPeer, err := p.peers.InputPeerByKind(ctx, peer.Kind, peer.ID)
	if err != nil {
		var notFound *peers.PeerNotFoundError
		if errors.As(err, &notFound) {
			return nil, errors.Wrapf(resolve.ErrChatNotFound, "peer %s/%d is not cached; resolve the chat first", peer.Kind, peer.ID)
		}
		return nil, err
	}

	var raw tg.MessagesMessagesClass
	err = p.invoke(ctx, "messages.getHistory", func(callCtx context.Context) error {
		res, callErr := p.api.MessagesGetHistory(callCtx, &tg.MessagesGetHistoryRequest{
			Peer:       inputPeer,
			OffsetID:   req.OffsetID,
			OffsetDate: req.OffsetDate,
			AddOffset:  req.AddOffset,
			Limit:      req.Limit,
			MinID:      req.MinID,
		})
		if callErr != nil {
			return callErr
		}
		raw = res
		return nil
	})
	if err != nil {
		return nil, mapRPCError(err)
	}

	batch, users, chats := splitHistory(raw)
	if err := p.peers.ApplyEntities(ctx, users, chats); err != nil {
		logger.Warnf("telegram: apply entities: %v", err)
	}

	ent := messages.CollectEntities(users, chats)
	out := make([]messages.Message, 0, len(batch))
	firstID, lastID := 0, 0
	for _, msgClass := range batch {
		// Сервисные и пустые сообщения частью истории не считаются.
		msg, ok := msgClass.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, messages.FromTG(msg, ent))
		if firstID == 0 || msg.ID < firstID {
			firstID = msg.ID
		}
		if msg.ID > lastID {
			lastID = msg.ID
		}
	}

	metrics.MessagesScanned.Add(float64(len(out)))
	debug.HistoryBatch(fmt.Sprintf("%s/%d", peer.Kind, peer.ID), len(out), firstID, lastID)
	return out, nil
}

// splitHistory разбирает конкретный класс ответа getHistory на сообщения и
// сопутствующие сущности.
func splitHistory(raw tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, []tg.ChatClass) {
	switch h := raw.(type) {
	case *tg.MessagesMessages:
		return h.Messages, h.Users, h.Chats
	case *tg.MessagesMessagesSlice:
		return h.Messages, h.Users, h.Chats
	case *tg.MessagesChannelMessages:
		return h.Messages, h.Users, h.Chats
	default:
		return nil, nil, nil
	}
}
