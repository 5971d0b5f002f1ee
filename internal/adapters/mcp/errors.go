package mcp

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/mark3labs/mcp-go/mcp"

	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/domain/history"
	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/metrics"
	"telegram-history-mcp/internal/infra/throttle"
)

// Коды таксономии ошибок, видимые MCP-клиенту.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUsernameInvalid = "USERNAME_INVALID"
	CodeChatNotFound    = "CHAT_NOT_FOUND"
	CodeChannelPrivate  = "CHANNEL_PRIVATE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeResourceExpired = "RESOURCE_EXPIRED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

// wireError — тело ошибки в structuredContent ответа. Status дублирует тип в
// терминах HTTP, чтобы клиенту не приходилось держать собственную таблицу
// соответствий. RetryAfter заполняется только для RATE_LIMITED.
type wireError struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// errorEnvelope — structuredContent неуспешного вызова. Cursor заполняется
// только для RATE_LIMITED: это токен последней успешно отданной страницы (или
// входной курсор), с которого клиент возобновит чтение после паузы.
type errorEnvelope struct {
	Error  wireError `json:"error"`
	Cursor string    `json:"cursor,omitempty"`
}

// classify переводит ошибку домена или провайдера в тело таксономии.
// Порядок веток важен: RateLimited оборачивает исходную ошибку FLOOD_WAIT
// и должен распознаваться раньше остальных.
//
// Тексты ошибок Telegram наружу не выходят: Detail для провайдерных классов
// формулируется здесь, исходная цепочка остаётся в логах. Валидационные
// ошибки — собственные сообщения сервера, они уходят клиенту как есть.
func classify(err error) wireError {
	var rl *throttle.RateLimited
	switch {
	case errors.As(err, &rl):
		retry := retryAfterSeconds(rl.RetryAfter)
		return wireError{
			Type:       CodeRateLimited,
			Title:      "Rate limited",
			Status:     429,
			Detail:     fmt.Sprintf("the provider requires a pause of %d seconds; repeat the call with the returned cursor after the wait", retry),
			RetryAfter: retry,
		}
	case errors.Is(err, history.ErrInvalidCursor):
		return wireError{Type: CodeValidation, Title: "Validation error", Status: 400, Detail: err.Error()}
	case errors.Is(err, resolve.ErrUsernameInvalid):
		return wireError{
			Type:   CodeUsernameInvalid,
			Title:  "Username invalid",
			Status: 400,
			Detail: "the reference does not parse as @username, t.me link or signed canonical id",
		}
	case errors.Is(err, resolve.ErrChatNotFound):
		return wireError{
			Type:   CodeChatNotFound,
			Title:  "Chat not found",
			Status: 404,
			Detail: "no chat matches the given reference",
		}
	case errors.Is(err, resolve.ErrChannelPrivate):
		return wireError{
			Type:   CodeChannelPrivate,
			Title:  "Channel is private",
			Status: 403,
			Detail: "the chat exists but is not publicly accessible",
		}
	case errors.Is(err, artifacts.ErrNotFound), errors.Is(err, artifacts.ErrExpired):
		return wireError{
			Type:   CodeResourceExpired,
			Title:  "Resource expired",
			Status: 410,
			Detail: "the export resource is unknown or past its TTL; fetch the window again",
		}
	default:
		return wireError{
			Type:   CodeUnavailable,
			Title:  "Temporarily unavailable",
			Status: 503,
			Detail: "the provider is temporarily unreachable; retry the call later",
		}
	}
}

// retryAfterSeconds округляет длительность ожидания вверх до целых секунд.
// Меньше секунды не отдаём: клиент, повторивший запрос мгновенно, снова
// упрётся в тот же лимит.
func retryAfterSeconds(d time.Duration) int {
	sec := int((d + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

// okTool упаковывает успешный результат: однострочная сводка для человека в
// content, типизированный payload — в structuredContent.
func (s *Server) okTool(tool, summary string, payload any) *mcp.CallToolResult {
	metrics.ToolCalls.WithLabelValues(tool, "ok").Inc()
	return mcp.NewToolResultStructured(payload, summary)
}

// failTool строит конверт ошибки. echoCursor прикладывается только к
// RATE_LIMITED: это токен, с которого клиент продолжит после паузы.
func (s *Server) failTool(tool string, err error, echoCursor string) *mcp.CallToolResult {
	env := errorEnvelope{Error: classify(err)}
	if env.Error.Type == CodeRateLimited {
		env.Cursor = echoCursor
	}
	return s.errorResult(tool, err, env)
}

// validationError — короткий путь для ошибок разбора аргументов, которые не
// доходят до домена.
func (s *Server) validationError(tool, msg string) *mcp.CallToolResult {
	env := errorEnvelope{Error: wireError{
		Type:   CodeValidation,
		Title:  "Validation error",
		Status: 400,
		Detail: msg,
	}}
	return s.errorResult(tool, nil, env)
}

// errorResult собирает ошибочный ответ: короткая сводка в content, конверт — в
// structuredContent. Готового конструктора для структурированных ошибок в
// mcp-go нет, поэтому результат заполняется напрямую.
func (s *Server) errorResult(tool string, cause error, env errorEnvelope) *mcp.CallToolResult {
	metrics.ToolCalls.WithLabelValues(tool, "error").Inc()
	metrics.ToolErrors.WithLabelValues(env.Error.Type).Inc()
	if cause != nil {
		logger.Debugf("mcp: %s -> %s: %v", tool, env.Error.Type, cause)
	} else {
		logger.Debugf("mcp: %s -> %s: %s", tool, env.Error.Type, env.Error.Detail)
	}

	return &mcp.CallToolResult{
		IsError:           true,
		Content:           []mcp.Content{mcp.NewTextContent(env.Error.Title + ": " + env.Error.Detail)},
		StructuredContent: env,
	}
}
