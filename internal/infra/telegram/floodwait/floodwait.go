// Package floodwait преобразует ошибки лимитов Telegram API в паузы, понятные
// троттлеру. FLOOD_WAIT и FLOOD_PREMIUM_WAIT несут обязательную длительность
// ожидания; экстрактор дополняет её случайным джиттером, чтобы разнести
// повторные запросы конкурентных вызовов и не входить в лимит синхронно.
package floodwait

import (
	"time"

	"telegram-history-mcp/internal/infra/metrics"
	"telegram-history-mcp/internal/infra/throttle"
	"telegram-history-mcp/internal/shared"

	"github.com/gotd/td/tgerr"
)

// jitterMax — верхняя граница случайной добавки к обязательному FLOOD_WAIT.
const jitterMax = 3 * time.Second

// Extractor создаёт throttle.WaitExtractor, распознающий FLOOD_WAIT из Telegram
// API. Возвращает пару (delay, true), где delay = обязательная пауза из ошибки +
// случайный джиттер до jitterMax. Если ошибка не связана с лимитами
// (tgerr.AsFloodWait(err) == false), возвращает (0, false). Каждое распознанное
// ожидание учитывается в метриках.
func Extractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		if err == nil {
			return 0, false
		}

		// Разворачиваем цепочку ошибок, чтобы извлечь FLOOD_WAIT.
		wait, ok := tgerr.AsFloodWait(err)
		if !ok {
			return 0, false
		}

		metrics.FloodWaits.Inc()
		metrics.FloodWaitSeconds.Add(wait.Seconds())

		return wait + nextJitter(), true
	}
}

// nextJitter возвращает случайную добавку из диапазона [0, jitterMax] с шагом
// в секунду.
func nextJitter() time.Duration {
	sec := int(jitterMax / time.Second)
	if sec <= 0 {
		return 0
	}
	return time.Duration(shared.Random(0, sec)) * time.Second
}
