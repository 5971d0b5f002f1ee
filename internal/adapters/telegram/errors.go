package telegram

import (
	"github.com/go-faster/errors"
	"github.com/gotd/td/tgerr"

	"telegram-history-mcp/internal/domain/resolve"
)

// mapRPCError переводит коды ошибок Telegram в доменные ошибки резолва и
// доступа. Остальные ошибки (сеть, таймауты, *throttle.RateLimited) проходят
// насквозь без изменений.
func mapRPCError(err error) error {
	if err == nil {
		return nil
	}
	rpcErr, ok := tgerr.As(err)
	if !ok {
		return err
	}
	switch rpcErr.Type {
	case "USERNAME_INVALID":
		return errors.Wrap(resolve.ErrUsernameInvalid, rpcErr.Type)
	case "USERNAME_NOT_OCCUPIED", "PEER_ID_INVALID", "CHAT_ID_INVALID", "CHANNEL_INVALID", "MSG_ID_INVALID":
		return errors.Wrap(resolve.ErrChatNotFound, rpcErr.Type)
	case "CHANNEL_PRIVATE", "CHAT_ADMIN_REQUIRED":
		return errors.Wrap(resolve.ErrChannelPrivate, rpcErr.Type)
	default:
		return err
	}
}
