// Package metrics регистрирует счётчики Prometheus для наблюдения за сервером
// истории: вызовы MCP-инструментов, запросы к Telegram, паузы FLOOD_WAIT и
// жизненный цикл NDJSON-выгрузок. Метрики отдаёт веб-сервер на /metrics, когда
// тот включён; регистрация через promauto выполняется на старте процесса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "historymcp"

var (
	// ToolCalls считает вызовы MCP-инструментов по имени и исходу (ok|error).
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mcp",
		Name:      "tool_calls_total",
		Help:      "MCP tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	// ToolErrors детализирует ошибочные ответы инструментов по коду из таксономии.
	ToolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mcp",
		Name:      "tool_errors_total",
		Help:      "MCP tool error envelopes by error code.",
	}, []string{"code"})

	// TelegramRequests считает запросы к Telegram API по методу.
	TelegramRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telegram",
		Name:      "requests_total",
		Help:      "Telegram API calls by method.",
	}, []string{"method"})

	// FloodWaits считает полученные от сервера FLOOD_WAIT.
	FloodWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telegram",
		Name:      "flood_waits_total",
		Help:      "FLOOD_WAIT responses received from Telegram.",
	})

	// FloodWaitSeconds суммирует предписанные сервером паузы в секундах.
	FloodWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telegram",
		Name:      "flood_wait_seconds_total",
		Help:      "Total seconds of server mandated waits.",
	})

	// MessagesScanned считает сырые сообщения, прочитанные из истории до фильтров.
	MessagesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "messages_scanned_total",
		Help:      "Raw history messages read before filtering.",
	})

	// MessagesReturned считает сообщения, отданные клиенту в inline-страницах.
	MessagesReturned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "history",
		Name:      "messages_returned_total",
		Help:      "Messages returned to MCP clients inline.",
	})

	// ExportsCreated считает созданные NDJSON-выгрузки.
	ExportsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exports",
		Name:      "created_total",
		Help:      "NDJSON export artifacts created.",
	})

	// ExportsSwept считает артефакты, удалённые по истечении TTL.
	ExportsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exports",
		Name:      "swept_total",
		Help:      "Expired export artifacts removed by the sweeper.",
	})
)
