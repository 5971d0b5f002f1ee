package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/mark3labs/mcp-go/mcp"
	"go.etcd.io/bbolt"

	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/domain/history"
	"telegram-history-mcp/internal/domain/messages"
	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/throttle"
)

// chatLog генерирует историю: id растут от firstID, даты — от firstDate с
// шагом в секунду.
func chatLog(firstID, count int, firstDate int64) []messages.Message {
	msgs := make([]messages.Message, count)
	for i := range msgs {
		msgs[i] = messages.Message{
			ID:        firstID + i,
			DateUnix:  firstDate + int64(i),
			Date:      time.Unix(firstDate+int64(i), 0).UTC().Format(time.RFC3339),
			Text:      "note",
			MediaType: messages.KindText,
		}
	}
	return msgs
}

// stubSource эмулирует messages.getHistory поверх среза: страницы идут от
// новых к старым, позиция берётся по offset_id либо offset_date, add_offset
// сдвигает окно чтения, min_id отрезает обработанные id. failAt позволяет
// сымитировать отказ провайдера на n-м вызове.
type stubSource struct {
	msgs    []messages.Message
	calls   int
	failAt  int
	failErr error
}

func (f *stubSource) HistoryBatch(_ context.Context, _ history.ChatPeer, req history.BatchRequest) ([]messages.Message, error) {
	f.calls++
	if f.failAt > 0 && f.calls >= f.failAt {
		return nil, f.failErr
	}

	desc := make([]messages.Message, len(f.msgs))
	for i, m := range f.msgs {
		desc[len(f.msgs)-1-i] = m
	}

	pos := len(desc)
	switch {
	case req.OffsetID > 0:
		for i, m := range desc {
			if m.ID < req.OffsetID {
				pos = i
				break
			}
		}
	case req.OffsetDate > 0:
		for i, m := range desc {
			if m.DateUnix < int64(req.OffsetDate) {
				pos = i
				break
			}
		}
	default:
		pos = 0
	}

	start := pos + req.AddOffset
	end := start + req.Limit
	if start < 0 {
		start = 0
	}
	if end > len(desc) {
		end = len(desc)
	}
	if start >= end {
		return nil, nil
	}

	out := make([]messages.Message, 0, end-start)
	for _, m := range desc[start:end] {
		if req.MinID > 0 && m.ID <= req.MinID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// stubLookup отдаёт заранее заготовленные ссылки по username.
type stubLookup struct {
	refs map[string]resolve.ChatRef
}

func (l *stubLookup) ByUsername(_ context.Context, username string) (resolve.ChatRef, error) {
	ref, ok := l.refs[username]
	if !ok {
		return resolve.ChatRef{}, errors.Wrapf(resolve.ErrChatNotFound, "username %q", username)
	}
	return ref, nil
}

func (l *stubLookup) ByCanonicalID(_ context.Context, id int64) (resolve.ChatRef, error) {
	for _, ref := range l.refs {
		if ref.CanonicalID == id {
			return ref, nil
		}
	}
	return resolve.ChatRef{}, errors.Wrapf(resolve.ErrChatNotFound, "id %d", id)
}

func newTestServer(t *testing.T, src history.Source, cfg history.Config) *Server {
	t.Helper()

	dir := t.TempDir()
	db, err := bbolt.Open(filepath.Join(dir, "artifacts.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("bbolt.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	registry, err := artifacts.NewRegistry(db)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	store, err := artifacts.NewStore(filepath.Join(dir, "exports"), time.Hour, registry)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	lookup := &stubLookup{refs: map[string]resolve.ChatRef{
		"gonews": {
			CanonicalID: -1001234567890,
			Kind:        resolve.KindChannel,
			Username:    "gonews",
			Title:       "Go News",
			MemberCount: 52100,
			Verified:    true,
		},
		"privclub": {
			CanonicalID: -1009000000001,
			Kind:        resolve.KindChannel,
			Title:       "Private Club",
		},
	}}

	return New(Options{
		Resolver:        resolve.NewResolver(lookup),
		Fetcher:         history.NewFetcher(src, cfg),
		Store:           store,
		DefaultPageSize: 4,
		MaxPageSize:     10,
	})
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("len(Content) = %d, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Content[0] = %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

// decodeStructured прогоняет typed-часть ответа через JSON, как это сделает
// транспорт, и раскладывает её в out.
func decodeStructured(t *testing.T, res *mcp.CallToolResult, out any) {
	t.Helper()
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode structured content: %v", err)
	}
}

func decodePage(t *testing.T, res *mcp.CallToolResult) historyPage {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool returned error: %s", resultText(t, res))
	}
	var page historyPage
	decodeStructured(t, res, &page)
	return page
}

func decodeEnvelope(t *testing.T, res *mcp.CallToolResult) errorEnvelope {
	t.Helper()
	if !res.IsError {
		t.Fatalf("want error result, got: %s", resultText(t, res))
	}
	var env errorEnvelope
	decodeStructured(t, res, &env)
	return env
}

func pageIDs(page historyPage) []int {
	ids := make([]int, len(page.Messages))
	for i, m := range page.Messages {
		ids[i] = m.ID
	}
	return ids
}

// base — 2024-03-01T10:00:00Z, внутри суток from_date/to_date в тестах.
const base = int64(1709287200)

func TestResolveChatTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubSource{}, history.Config{})

	res, err := s.handleResolveChat(context.Background(), callRequest(map[string]any{"input": "@GoNews"}))
	if err != nil {
		t.Fatalf("handleResolveChat() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("handleResolveChat() returned error: %s", resultText(t, res))
	}

	var payload resolvePayload
	decodeStructured(t, res, &payload)
	// Канонический id отдаётся строкой и пригоден как chat в fetch_history.
	if payload.ChatID != "-1001234567890" {
		t.Errorf("ChatID = %q, want -1001234567890", payload.ChatID)
	}
	if payload.Kind != resolve.KindChannel {
		t.Errorf("Kind = %q, want %q", payload.Kind, resolve.KindChannel)
	}
	wantFrom := resolvedFrom{Input: "@GoNews", Form: resolve.FormUsername, Canonical: "@gonews"}
	if payload.ResolvedFrom != wantFrom {
		t.Errorf("ResolvedFrom = %+v, want %+v", payload.ResolvedFrom, wantFrom)
	}
	want := "Go News (@gonews) — channel, 52100 members, verified"
	if payload.Summary != want {
		t.Errorf("Summary = %q, want %q", payload.Summary, want)
	}
	// Текстовая часть дублирует сводку для клиентов без structured-вывода.
	if got := resultText(t, res); got != want {
		t.Errorf("text content = %q, want summary %q", got, want)
	}
}

func TestResolveChatToolErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubSource{}, history.Config{})

	cases := []struct {
		name       string
		args       map[string]any
		wantType   string
		wantStatus int
	}{
		{name: "missingInput", args: map[string]any{}, wantType: CodeValidation, wantStatus: 400},
		{name: "garbageInput", args: map[string]any{"input": "not a username"}, wantType: CodeUsernameInvalid, wantStatus: 400},
		{name: "unknownUsername", args: map[string]any{"input": "@nosuch"}, wantType: CodeChatNotFound, wantStatus: 404},
		{name: "usernameDropped", args: map[string]any{"input": "@privclub"}, wantType: CodeChannelPrivate, wantStatus: 403},
		{name: "oversizedInput", args: map[string]any{"input": strings.Repeat("x", maxChatInputLen+1)}, wantType: CodeValidation, wantStatus: 400},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := s.handleResolveChat(context.Background(), callRequest(tc.args))
			if err != nil {
				t.Fatalf("handleResolveChat() error = %v", err)
			}
			env := decodeEnvelope(t, res)
			if env.Error.Type != tc.wantType || env.Error.Status != tc.wantStatus {
				t.Errorf("envelope = %s/%d, want %s/%d", env.Error.Type, env.Error.Status, tc.wantType, tc.wantStatus)
			}
		})
	}
}

func TestFetchHistoryPaging(t *testing.T) {
	t.Parallel()
	src := &stubSource{msgs: chatLog(1001, 10, base)}
	s := newTestServer(t, src, history.Config{})
	ctx := context.Background()

	args := map[string]any{
		"chat":      "@GoNews",
		"from_date": "2024-03-01",
		"to_date":   "2024-03-01",
		"page_size": float64(4),
	}

	res, err := s.handleFetchHistory(ctx, callRequest(args))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	first := decodePage(t, res)

	if got, want := pageIDs(first), []int{1001, 1002, 1003, 1004}; !equalInts(got, want) {
		t.Fatalf("first page ids = %v, want %v", got, want)
	}
	if !first.PageInfo.HasMore {
		t.Fatal("first page HasMore = false, want true")
	}
	if first.PageInfo.Cursor == "" {
		t.Fatal("first page cursor is empty")
	}
	if first.PageInfo.TotalFetched != 4 {
		t.Errorf("first page TotalFetched = %d, want 4", first.PageInfo.TotalFetched)
	}
	if first.Export != nil {
		t.Errorf("first page Export = %+v, want nil", first.Export)
	}

	args["cursor"] = first.PageInfo.Cursor
	res, err = s.handleFetchHistory(ctx, callRequest(args))
	if err != nil {
		t.Fatalf("handleFetchHistory() resume error = %v", err)
	}
	second := decodePage(t, res)

	if got, want := pageIDs(second), []int{1005, 1006, 1007, 1008}; !equalInts(got, want) {
		t.Fatalf("second page ids = %v, want %v", got, want)
	}
	if second.PageInfo.TotalFetched != 8 {
		t.Errorf("second page TotalFetched = %d, want 8", second.PageInfo.TotalFetched)
	}

	args["cursor"] = second.PageInfo.Cursor
	res, err = s.handleFetchHistory(ctx, callRequest(args))
	if err != nil {
		t.Fatalf("handleFetchHistory() tail error = %v", err)
	}
	tail := decodePage(t, res)

	if got, want := pageIDs(tail), []int{1009, 1010}; !equalInts(got, want) {
		t.Fatalf("tail page ids = %v, want %v", got, want)
	}
	if tail.PageInfo.HasMore {
		t.Error("tail page HasMore = true, want false")
	}
	if tail.PageInfo.Cursor != "" {
		t.Errorf("tail page cursor = %q, want empty", tail.PageInfo.Cursor)
	}
	if tail.PageInfo.TotalFetched != 10 {
		t.Errorf("tail TotalFetched = %d, want 10", tail.PageInfo.TotalFetched)
	}
}

func TestFetchHistoryEmptyWindow(t *testing.T) {
	t.Parallel()
	src := &stubSource{msgs: chatLog(1001, 10, base)}
	s := newTestServer(t, src, history.Config{})

	res, err := s.handleFetchHistory(context.Background(), callRequest(map[string]any{
		"chat":      "@GoNews",
		"from_date": "2023-01-01",
		"to_date":   "2023-01-02",
	}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}

	page := decodePage(t, res)
	if page.PageInfo.HasMore {
		t.Error("HasMore = true, want false")
	}

	// Пустая страница кодируется пустым массивом, не null.
	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	if !strings.Contains(string(raw), `"messages":[]`) {
		t.Errorf("empty page JSON = %s, want messages:[]", raw)
	}
}

func TestFetchHistoryFilterObject(t *testing.T) {
	t.Parallel()
	src := &stubSource{msgs: chatLog(1001, 6, base)}
	s := newTestServer(t, src, history.Config{})

	res, err := s.handleFetchHistory(context.Background(), callRequest(map[string]any{
		"chat":      "@GoNews",
		"page_size": float64(10),
		"filter":    map[string]any{"has_media": false, "media_types": []any{"text"}},
	}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	page := decodePage(t, res)
	if len(page.Messages) != 6 {
		t.Errorf("len(Messages) = %d, want 6", len(page.Messages))
	}
}

func TestFetchHistoryValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubSource{msgs: chatLog(1001, 3, base)}, history.Config{})

	cases := []struct {
		name string
		args map[string]any
	}{
		{name: "badFromDate", args: map[string]any{"chat": "@GoNews", "from_date": "yesterday"}},
		{name: "badToDate", args: map[string]any{"chat": "@GoNews", "to_date": "2024-13-40"}},
		{name: "nonUTCOffset", args: map[string]any{"chat": "@GoNews", "from_date": "2024-03-01T10:00:00+03:00"}},
		{name: "fromAfterTo", args: map[string]any{"chat": "@GoNews", "from_date": "2024-03-02", "to_date": "2024-03-01"}},
		{name: "pageSizeTooLarge", args: map[string]any{"chat": "@GoNews", "page_size": float64(11)}},
		{name: "pageSizeZero", args: map[string]any{"chat": "@GoNews", "page_size": float64(0)}},
		{name: "badDirection", args: map[string]any{"chat": "@GoNews", "direction": "sideways"}},
		{name: "unknownFilterKey", args: map[string]any{"chat": "@GoNews", "filter": map[string]any{"has_photos": true}}},
		{name: "badFilterMediaType", args: map[string]any{"chat": "@GoNews", "filter": map[string]any{"media_types": []any{"hologram"}}}},
		{name: "garbageCursor", args: map[string]any{"chat": "@GoNews", "cursor": "???not-base64???"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, err := s.handleFetchHistory(context.Background(), callRequest(tc.args))
			if err != nil {
				t.Fatalf("handleFetchHistory() error = %v", err)
			}
			env := decodeEnvelope(t, res)
			if env.Error.Type != CodeValidation || env.Error.Status != 400 {
				t.Errorf("envelope = %s/%d, want %s/400", env.Error.Type, env.Error.Status, CodeValidation)
			}
		})
	}
}

func TestFetchHistoryCursorWindowDrift(t *testing.T) {
	t.Parallel()
	src := &stubSource{msgs: chatLog(1001, 10, base)}
	s := newTestServer(t, src, history.Config{})
	ctx := context.Background()

	res, err := s.handleFetchHistory(ctx, callRequest(map[string]any{
		"chat":      "@GoNews",
		"page_size": float64(4),
	}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	first := decodePage(t, res)
	if first.PageInfo.Cursor == "" {
		t.Fatal("first page cursor is empty")
	}

	// Тот же курсор с другим page_size — подпись окна не совпадает.
	res, err = s.handleFetchHistory(ctx, callRequest(map[string]any{
		"chat":      "@GoNews",
		"page_size": float64(5),
		"cursor":    first.PageInfo.Cursor,
	}))
	if err != nil {
		t.Fatalf("handleFetchHistory() drift error = %v", err)
	}
	env := decodeEnvelope(t, res)
	if env.Error.Type != CodeValidation {
		t.Errorf("Type = %q, want %q", env.Error.Type, CodeValidation)
	}
	if !strings.Contains(env.Error.Detail, "different window") {
		t.Errorf("Detail = %q, want window mismatch mention", env.Error.Detail)
	}
}

func TestFetchHistoryExportRoundTrip(t *testing.T) {
	t.Parallel()
	src := &stubSource{msgs: chatLog(1001, 10, base)}
	s := newTestServer(t, src, history.Config{ExportThreshold: 6})
	ctx := context.Background()

	res, err := s.handleFetchHistory(ctx, callRequest(map[string]any{
		"chat":      "@GoNews",
		"page_size": float64(4),
	}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	page := decodePage(t, res)

	if page.Export == nil {
		t.Fatal("Export = nil, want NDJSON resource")
	}
	if page.Export.Format != "ndjson" {
		t.Errorf("Export.Format = %q, want ndjson", page.Export.Format)
	}
	if len(page.Messages) != 4 {
		t.Errorf("len(Messages) = %d, want 4", len(page.Messages))
	}

	var rreq mcp.ReadResourceRequest
	rreq.Params.URI = page.Export.URI
	contents, err := s.handleReadExport(ctx, rreq)
	if err != nil {
		t.Fatalf("handleReadExport() error = %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("len(contents) = %d, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents[0] = %T, want mcp.TextResourceContents", contents[0])
	}
	if text.MIMEType != ndjsonMIME {
		t.Errorf("MIMEType = %q, want %q", text.MIMEType, ndjsonMIME)
	}

	lines := strings.Split(strings.TrimRight(text.Text, "\n"), "\n")
	if len(lines) != 10 {
		t.Fatalf("export lines = %d, want 10", len(lines))
	}
	for i, line := range lines {
		var m messages.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %d is not JSON: %v", i, err)
		}
		if m.ID != 1001+i {
			t.Errorf("line %d id = %d, want %d", i, m.ID, 1001+i)
		}
	}
}

func TestReadExportUnknownURI(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &stubSource{}, history.Config{})

	var rreq mcp.ReadResourceRequest
	rreq.Params.URI = "mcp://resources/export/export-0000000000000000.ndjson"
	if _, err := s.handleReadExport(context.Background(), rreq); err == nil {
		t.Fatal("handleReadExport() error = nil, want RESOURCE_EXPIRED")
	} else if !strings.Contains(err.Error(), CodeResourceExpired) {
		t.Errorf("error = %v, want %s prefix", err, CodeResourceExpired)
	}
}

func TestFetchHistoryRateLimitedEchoesCursor(t *testing.T) {
	t.Parallel()
	src := &stubSource{msgs: chatLog(1001, 10, base)}
	s := newTestServer(t, src, history.Config{})
	ctx := context.Background()

	args := map[string]any{
		"chat":      "@GoNews",
		"page_size": float64(4),
	}
	res, err := s.handleFetchHistory(ctx, callRequest(args))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	first := decodePage(t, res)
	if first.PageInfo.Cursor == "" {
		t.Fatal("first page cursor is empty")
	}

	src.failAt = src.calls + 1
	src.failErr = &throttle.RateLimited{
		RetryAfter: 30 * time.Second,
		Err:        errors.New("flood wait"),
	}

	args["cursor"] = first.PageInfo.Cursor
	res, err = s.handleFetchHistory(ctx, callRequest(args))
	if err != nil {
		t.Fatalf("handleFetchHistory() limited error = %v", err)
	}
	env := decodeEnvelope(t, res)

	if env.Error.Type != CodeRateLimited || env.Error.Status != 429 {
		t.Fatalf("envelope = %s/%d, want %s/429", env.Error.Type, env.Error.Status, CodeRateLimited)
	}
	if env.Error.RetryAfter != 30 {
		t.Errorf("RetryAfter = %d, want 30", env.Error.RetryAfter)
	}
	// Клиент возобновляет чтение с той же позиции после паузы.
	if env.Cursor != first.PageInfo.Cursor {
		t.Errorf("Cursor = %q, want echo of input %q", env.Cursor, first.PageInfo.Cursor)
	}
}

func TestFetchHistoryProviderOutage(t *testing.T) {
	t.Parallel()
	src := &stubSource{
		msgs:    chatLog(1001, 4, base),
		failAt:  1,
		failErr: errors.New("engine was closed"),
	}
	s := newTestServer(t, src, history.Config{})

	res, err := s.handleFetchHistory(context.Background(), callRequest(map[string]any{"chat": "@GoNews"}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	env := decodeEnvelope(t, res)
	if env.Error.Type != CodeUnavailable || env.Error.Status != 503 {
		t.Errorf("envelope = %s/%d, want %s/503", env.Error.Type, env.Error.Status, CodeUnavailable)
	}
	if env.Cursor != "" {
		t.Errorf("Cursor = %q, want empty outside RATE_LIMITED", env.Cursor)
	}
}

func TestFetchHistoryDirectionDefaults(t *testing.T) {
	t.Parallel()
	src := &stubSource{msgs: chatLog(1001, 10, base)}
	s := newTestServer(t, src, history.Config{})
	ctx := context.Background()

	// Задан from_date — окно читается от нижней границы вверх.
	res, err := s.handleFetchHistory(ctx, callRequest(map[string]any{
		"chat":      "@GoNews",
		"from_date": "2024-03-01",
	}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	oldest := decodePage(t, res)
	if got, want := pageIDs(oldest), []int{1001, 1002, 1003, 1004}; !equalInts(got, want) {
		t.Fatalf("from_date page ids = %v, want %v", got, want)
	}

	// Без дат история открывается с верхнего края, внутри страницы id растут.
	res, err = s.handleFetchHistory(ctx, callRequest(map[string]any{"chat": "@GoNews"}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	newest := decodePage(t, res)
	if got, want := pageIDs(newest), []int{1007, 1008, 1009, 1010}; !equalInts(got, want) {
		t.Fatalf("dateless page ids = %v, want %v", got, want)
	}
	if !newest.PageInfo.HasMore {
		t.Error("dateless page HasMore = false, want true")
	}

	// Явное направление имеет приоритет над умолчанием.
	res, err = s.handleFetchHistory(ctx, callRequest(map[string]any{
		"chat":      "@GoNews",
		"direction": "asc",
	}))
	if err != nil {
		t.Fatalf("handleFetchHistory() error = %v", err)
	}
	forced := decodePage(t, res)
	if got, want := pageIDs(forced), []int{1001, 1002, 1003, 1004}; !equalInts(got, want) {
		t.Fatalf("forced asc page ids = %v, want %v", got, want)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
