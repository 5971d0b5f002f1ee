// Package debug — вспомогательные утилиты отладки сервера истории.
// Здесь сосредоточены функции трассировки вызовов инструментов и страниц
// истории. Цели:
//   - быстро видеть в логе параметры вызова и границы прочитанных батчей;
//   - дампить произвольные структуры (включая сырые ответы Telegram) только
//     при активном DEBUG;
//   - резать длинные тексты сообщений по границе рун, не раздувая лог.
// Пакет не влияет на бизнес-логику и в проде выключен переключателем DEBUG.

package debug

import (
	"unicode/utf8"

	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/pr"

	"go.uber.org/zap"
)

// DEBUG — глобальный переключатель режима отладки. Когда false, все функции
// пакета молчат. Значение выставляется приложением из конфигурации на старте.
var DEBUG = false

// textMaxLen ограничивает длину текстовых фрагментов в дампах.
const textMaxLen = 120

// Truncate режет строку до maxRunes рун, добавляя многоточие. Считаем по рунам,
// а не по байтам, чтобы не порвать Unicode-символы.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes]) + "..."
}

// ToolCall пишет в лог параметры вызова инструмента. Аргументы дампятся
// pretty-принтером, поэтому вызов дёшев только при выключенном DEBUG.
func ToolCall(tool string, args any) {
	if !DEBUG {
		return
	}
	logger.Debug("tool call",
		zap.String("tool", tool),
		zap.String("args", Truncate(pr.Pf(args), textMaxLen*4)),
	)
}

// HistoryBatch фиксирует границы сырого батча, прочитанного из Telegram:
// сколько сообщений пришло и какой диапазон id они покрывают.
func HistoryBatch(chat string, count, firstID, lastID int) {
	if !DEBUG {
		return
	}
	logger.Debug("history batch",
		zap.String("chat", chat),
		zap.Int("count", count),
		zap.Int("first_id", firstID),
		zap.Int("last_id", lastID),
	)
}

// Dump pretty-печатает произвольное значение с меткой. Для тяжёлых структур
// (например, полного tg.MessagesChannelMessages) вызывать точечно.
func Dump(label string, v any) {
	if !DEBUG {
		return
	}
	logger.Debugf("%s: %s", label, pr.Pf(v))
}
