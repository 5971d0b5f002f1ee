package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/mark3labs/mcp-go/mcp"

	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/domain/filter"
	"telegram-history-mcp/internal/domain/history"
	"telegram-history-mcp/internal/domain/messages"
	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/metrics"
	"telegram-history-mcp/internal/infra/timeutil"
	"telegram-history-mcp/internal/support/debug"
)

// maxChatInputLen отсекает заведомо мусорные ссылки до похода в резолвер.
const maxChatInputLen = 256

// resolvePayload — ответ resolve_chat: метаданные чата с каноническим id в
// строковой записи, след разбора входной ссылки и однострочная сводка для
// человека. ChatID пригоден как аргумент chat в fetch_history.
type resolvePayload struct {
	ChatID       string       `json:"chat_id"`
	Kind         string       `json:"kind"`
	Username     string       `json:"username,omitempty"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	MemberCount  int          `json:"member_count,omitempty"`
	Verified     bool         `json:"verified,omitempty"`
	ResolvedFrom resolvedFrom `json:"resolved_from"`
	Summary      string       `json:"summary"`
}

// resolvedFrom показывает, как был прочитан ввод: исходная строка, её форма
// и нормализованная запись.
type resolvedFrom struct {
	Input     string `json:"input"`
	Form      string `json:"type"`
	Canonical string `json:"canonical"`
}

func newResolvePayload(raw string, in resolve.Input, ref resolve.ChatRef) resolvePayload {
	return resolvePayload{
		ChatID:      strconv.FormatInt(ref.CanonicalID, 10),
		Kind:        ref.Kind,
		Username:    ref.Username,
		Title:       ref.Title,
		Description: ref.Description,
		MemberCount: ref.MemberCount,
		Verified:    ref.Verified,
		ResolvedFrom: resolvedFrom{
			Input:     raw,
			Form:      in.Form,
			Canonical: in.Canonical(),
		},
		Summary: chatSummary(ref),
	}
}

// pageInfo описывает состояние пагинации в ответе fetch_history.
type pageInfo struct {
	HasMore      bool   `json:"has_more"`
	Cursor       string `json:"cursor,omitempty"`
	TotalFetched int    `json:"total_fetched"`
}

// exportInfo указывает на NDJSON-выгрузку, созданную для крупного окна.
type exportInfo struct {
	URI    string `json:"uri"`
	Format string `json:"format"`
}

// historyPage — успешный ответ fetch_history. Messages никогда не null:
// пустая страница кодируется пустым массивом.
type historyPage struct {
	Messages []messages.Message `json:"messages"`
	PageInfo pageInfo           `json:"page_info"`
	Export   *exportInfo        `json:"export,omitempty"`
}

func (s *Server) registerTools() {
	resolveTool := mcp.NewTool("resolve_chat",
		mcp.WithDescription("Resolve a public Telegram channel, group or user by @username, t.me link or canonical id. Returns the canonical id and metadata to use with fetch_history."),
		mcp.WithString("input",
			mcp.Required(),
			mcp.Description("@username, bare username, t.me link or signed canonical id"),
		),
	)
	s.mcp.AddTool(resolveTool, s.handleResolveChat)

	fetchTool := mcp.NewTool("fetch_history",
		mcp.WithDescription("Fetch the message history of a public chat over a UTC date window. Pages are ordered by message id ascending; pass the returned cursor to continue. Large windows additionally produce an NDJSON export resource."),
		mcp.WithString("chat",
			mcp.Required(),
			mcp.Description("Chat reference, same forms as resolve_chat"),
		),
		mcp.WithString("from_date",
			mcp.Description("Window start, inclusive: YYYY-MM-DD, RFC3339 or unix seconds (UTC)"),
		),
		mcp.WithString("to_date",
			mcp.Description("Window end, inclusive: YYYY-MM-DD, RFC3339 or unix seconds (UTC)"),
		),
		mcp.WithNumber("page_size",
			mcp.Description(fmt.Sprintf("Messages per page, 1..%d (default %d)", s.opts.MaxPageSize, s.opts.DefaultPageSize)),
		),
		mcp.WithString("direction",
			mcp.Description("Traversal order across pages: asc walks the window oldest-first, desc newest-first. Default: asc when from_date is given, desc otherwise. Messages inside a page are always ascending by id"),
			mcp.Enum(history.DirectionAsc, history.DirectionDesc),
		),
		mcp.WithString("cursor",
			mcp.Description("Continuation token from the previous page; window parameters must stay unchanged"),
		),
		mcp.WithString("search",
			mcp.Description("Case-insensitive substring match on message text"),
		),
		mcp.WithObject("filter",
			mcp.Description("Structured filter: media_types (photo|video|document|audio|voice|sticker|poll|link|text), has_media, from_users (sender ids), min_views, max_views"),
		),
	)
	s.mcp.AddTool(fetchTool, s.handleFetchHistory)
}

func (s *Server) handleResolveChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "resolve_chat"
	debug.ToolCall(tool, req.GetArguments())

	input, err := req.RequireString("input")
	if err != nil {
		return s.validationError(tool, err.Error()), nil
	}
	if len(input) > maxChatInputLen {
		return s.validationError(tool, fmt.Sprintf("chat reference longer than %d characters", maxChatInputLen)), nil
	}

	parsed, err := resolve.ParseInput(input)
	if err != nil {
		return s.failTool(tool, err, ""), nil
	}
	ref, err := s.opts.Resolver.Resolve(ctx, input)
	if err != nil {
		return s.failTool(tool, err, ""), nil
	}
	payload := newResolvePayload(input, parsed, ref)
	return s.okTool(tool, payload.Summary, payload), nil
}

func (s *Server) handleFetchHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "fetch_history"
	debug.ToolCall(tool, req.GetArguments())

	chatInput, err := req.RequireString("chat")
	if err != nil {
		return s.validationError(tool, err.Error()), nil
	}
	if len(chatInput) > maxChatInputLen {
		return s.validationError(tool, fmt.Sprintf("chat reference longer than %d characters", maxChatInputLen)), nil
	}

	window, err := s.windowFromRequest(req)
	if err != nil {
		return s.validationError(tool, err.Error()), nil
	}

	ref, err := s.opts.Resolver.Resolve(ctx, chatInput)
	if err != nil {
		return s.failTool(tool, err, ""), nil
	}
	chatCanonical := strconv.FormatInt(ref.CanonicalID, 10)

	freq := history.Request{
		Peer:          ref.Peer(),
		ChatCanonical: chatCanonical,
		Window:        window,
	}

	rawCursor := strings.TrimSpace(req.GetString("cursor", ""))
	if rawCursor != "" {
		cur, err := history.DecodeCursor(rawCursor)
		if err != nil {
			return s.failTool(tool, err, ""), nil
		}
		if err := cur.CheckWindow(chatCanonical, window); err != nil {
			return s.failTool(tool, err, ""), nil
		}
		freq.Cursor = &cur
	}

	res, err := s.opts.Fetcher.Fetch(ctx, freq)
	if err != nil {
		// Чат мог умереть или закрыться между резолвом и чтением; кэш ссылок
		// в этом случае врёт и подлежит сбросу.
		if errors.Is(err, resolve.ErrChatNotFound) || errors.Is(err, resolve.ErrChannelPrivate) {
			s.opts.Resolver.Invalidate(chatInput)
		}
		return s.failTool(tool, err, rawCursor), nil
	}

	page := historyPage{
		Messages: res.Page,
		PageInfo: pageInfo{HasMore: res.HasMore, TotalFetched: res.TotalFetched},
	}
	if page.Messages == nil {
		page.Messages = []messages.Message{}
	}
	if res.NextCursor != nil {
		page.PageInfo.Cursor = res.NextCursor.Encode()
	}

	if res.ShouldExport {
		page.Export = s.exportWindow(ctx, chatCanonical, window, res)
	}

	metrics.MessagesReturned.Add(float64(len(page.Messages)))
	return s.okTool(tool, pageSummary(page), page), nil
}

// pageSummary — однострочная сводка страницы для текстовой части ответа.
func pageSummary(page historyPage) string {
	if len(page.Messages) == 0 {
		if page.PageInfo.HasMore {
			return "no matches in the scanned span; continue with the returned cursor"
		}
		return "no messages match the requested window"
	}

	first, last := page.Messages[0].ID, page.Messages[len(page.Messages)-1].ID
	summary := fmt.Sprintf("%d messages, ids %d..%d, %d fetched in total",
		len(page.Messages), first, last, page.PageInfo.TotalFetched)
	if page.PageInfo.HasMore {
		summary += "; more available via cursor"
	}
	if page.Export != nil {
		summary += "; full window exported to " + page.Export.URI
	}
	return summary
}

// exportWindow складывает все собранные окном сообщения в NDJSON-выгрузку.
// Неудача выгрузки не роняет ответ: inline-страница уже готова, клиент
// получает её без поля export.
func (s *Server) exportWindow(ctx context.Context, chatCanonical string, w history.Window, res history.Result) *exportInfo {
	desc := artifacts.WindowDescriptor{
		ChatCanonical: chatCanonical,
		WindowHash:    history.WindowHash(chatCanonical, w),
	}
	artifact, err := s.opts.Store.Create(ctx, desc, res.Matched())
	if err != nil {
		logger.Warnf("mcp: export for chat %s failed, returning inline page only: %v", chatCanonical, err)
		return nil
	}
	return &exportInfo{URI: artifact.URI, Format: "ndjson"}
}

// windowFromRequest собирает окно истории из аргументов вызова. Дата без
// времени разворачивается в полные сутки UTC: from — в начало, to — в конец.
func (s *Server) windowFromRequest(req mcp.CallToolRequest) (history.Window, error) {
	w := history.Window{
		Direction: req.GetString("direction", ""),
		PageSize:  req.GetInt("page_size", s.opts.DefaultPageSize),
		Search:    req.GetString("search", ""),
	}

	if raw := strings.TrimSpace(req.GetString("from_date", "")); raw != "" {
		t, dateOnly, err := timeutil.ParseFlexibleTime(raw)
		if err != nil {
			return history.Window{}, errors.Wrap(err, "from_date")
		}
		if dateOnly {
			t = timeutil.DayStart(t)
		}
		w.FromUTC = t
	}
	if raw := strings.TrimSpace(req.GetString("to_date", "")); raw != "" {
		t, dateOnly, err := timeutil.ParseFlexibleTime(raw)
		if err != nil {
			return history.Window{}, errors.Wrap(err, "to_date")
		}
		if dateOnly {
			t = timeutil.DayEnd(t)
		}
		w.ToUTC = t
	}

	// Направление по умолчанию зависит от окна: заданный from_date означает
	// чтение от нижней границы вверх, без него история читается с верхнего
	// края, как её и показывает Telegram.
	if w.Direction == "" {
		if w.FromUTC.IsZero() {
			w.Direction = history.DirectionDesc
		} else {
			w.Direction = history.DirectionAsc
		}
	}

	if rawFilter, ok := req.GetArguments()["filter"]; ok && rawFilter != nil {
		opts, err := filterFromArgument(rawFilter)
		if err != nil {
			return history.Window{}, err
		}
		w.Filter = opts
	}

	if err := w.Validate(s.opts.MaxPageSize); err != nil {
		return history.Window{}, err
	}
	return w, nil
}

// filterFromArgument приводит произвольный JSON-объект аргумента filter к
// типизированным опциям через обратный проход сериализации. Незнакомые ключи
// отклоняются: молча проглоченная опечатка вернула бы неотфильтрованное окно.
func filterFromArgument(raw any) (filter.Options, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return filter.Options{}, errors.Wrap(err, "filter")
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()

	var opts filter.Options
	if err := dec.Decode(&opts); err != nil {
		return filter.Options{}, errors.Wrap(err, "filter")
	}
	return opts, nil
}

// chatSummary — однострочное описание чата: название, имя, вид, размер.
func chatSummary(ref resolve.ChatRef) string {
	parts := []string{fmt.Sprintf("%s (@%s) — %s", ref.Title, ref.Username, ref.Kind)}
	if ref.MemberCount > 0 {
		parts = append(parts, fmt.Sprintf("%d members", ref.MemberCount))
	}
	if ref.Verified {
		parts = append(parts, "verified")
	}
	return strings.Join(parts, ", ")
}
