// Package telegram — MTProto-адаптер сервера истории: чтение страниц
// messages.getHistory для фетчера и Lookup для резолвера чатов поверх gotd.
// Каждый запрос проходит через троттлер (токен-бакет, ретраи, бюджет
// ожидания) и ждёт живого соединения.
package telegram

import (
	"context"
	"time"

	"github.com/gotd/td/tg"

	"telegram-history-mcp/internal/infra/metrics"
	"telegram-history-mcp/internal/infra/telegram/connection"
	"telegram-history-mcp/internal/infra/telegram/peersmgr"
	"telegram-history-mcp/internal/infra/throttle"
)

const defaultRequestTimeout = 30 * time.Second

// Provider реализует history.Source и resolve.Lookup. Экземпляр
// потокобезопасен: состояние после создания не мутируется.
type Provider struct {
	api       *tg.Client
	peers     *peersmgr.Service
	throttler *throttle.Throttler
	timeout   time.Duration
}

// NewProvider собирает провайдера. Троттлер должен быть уже запущен.
func NewProvider(api *tg.Client, peers *peersmgr.Service, throttler *throttle.Throttler, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Provider{api: api, peers: peers, throttler: throttler, timeout: timeout}
}

// invoke выполняет один логический API-вызов: ожидание соединения, токен
// бакета, таймаут на попытку, ретраи с бэкофом и серверными паузами. Каждая
// попытка учитывается в метрике запросов по имени метода.
func (p *Provider) invoke(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	connection.WaitOnline(ctx)
	return p.throttler.Do(ctx, func() error {
		metrics.TelegramRequests.WithLabelValues(method).Inc()
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return fn(callCtx)
	})
}
