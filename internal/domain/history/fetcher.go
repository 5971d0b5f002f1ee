package history

import (
	"context"
	"slices"
	"sort"

	"telegram-history-mcp/internal/domain/filter"
	"telegram-history-mcp/internal/domain/messages"
)

// maxProviderLimit — жёсткий предел размера одной страницы messages.getHistory.
const maxProviderLimit = 100

// Значения по умолчанию для незаполненной конфигурации.
const (
	defaultInnerReadMultiplier = 2
	defaultScanCap             = 10000
	defaultExportThreshold     = 500
)

// BatchRequest — параметры одного запроса истории к провайдеру. Семантика
// полей повторяет messages.getHistory: провайдер отдаёт страницу от новых к
// старым относительно позиции offset_*, add_offset сдвигает окно чтения,
// min_id отрезает уже обработанные сообщения на стороне сервера.
type BatchRequest struct {
	OffsetID   int
	OffsetDate int
	AddOffset  int
	Limit      int
	MinID      int
}

// Source абстрагирует чтение истории. Реализация обязана вернуть сообщения
// запрошенной страницы в любом порядке: сортировку берёт на себя Fetcher.
type Source interface {
	HistoryBatch(ctx context.Context, peer ChatPeer, req BatchRequest) ([]messages.Message, error)
}

// Config — внутренние лимиты сканирования.
type Config struct {
	// InnerReadMultiplier увеличивает размер сырой страницы относительно
	// page_size, компенсируя потери на фильтрации.
	InnerReadMultiplier int
	// ScanCap ограничивает число кандидатов, рассмотренных за один вызов.
	ScanCap int
	// ExportThreshold — порог совпавших сообщений, после которого первая
	// страница сопровождается NDJSON-выгрузкой.
	ExportThreshold int
}

// Request — один вызов чтения истории.
type Request struct {
	Peer          ChatPeer
	ChatCanonical string
	Window        Window
	Cursor        *Cursor
}

// StopReason объясняет, почему сканирование остановилось.
type StopReason string

const (
	StopPageFull  StopReason = "page_full"
	StopWindowEnd StopReason = "window_end"
	StopScanCap   StopReason = "scan_cap"
)

// Result — итог одного вызова. Page ограничена page_size; Extra накапливается
// только на первом вызове окна, когда сканирование продолжается за пределами
// страницы ради оценки объёма (см. ShouldExport).
type Result struct {
	Page         []messages.Message
	Extra        []messages.Message
	HasMore      bool
	NextCursor   *Cursor
	TotalFetched int
	Scanned      int
	Stop         StopReason
	ShouldExport bool
}

// Matched возвращает все совпавшие сообщения вызова — страницу и хвост
// пробы — по возрастанию id. Для desc-обхода части накоплены от новых к
// старым, поэтому объединение пересортировывается.
func (r Result) Matched() []messages.Message {
	out := make([]messages.Message, 0, len(r.Page)+len(r.Extra))
	out = append(out, r.Page...)
	out = append(out, r.Extra...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fetcher ведёт постраничное сканирование истории поверх Source.
type Fetcher struct {
	src Source
	cfg Config
}

// NewFetcher создаёт Fetcher, подставляя значения по умолчанию вместо
// незаполненных лимитов.
func NewFetcher(src Source, cfg Config) *Fetcher {
	if cfg.InnerReadMultiplier < 1 {
		cfg.InnerReadMultiplier = defaultInnerReadMultiplier
	}
	if cfg.ScanCap < 1 {
		cfg.ScanCap = defaultScanCap
	}
	if cfg.ExportThreshold < 1 {
		cfg.ExportThreshold = defaultExportThreshold
	}
	return &Fetcher{src: src, cfg: cfg}
}

// Fetch выполняет один вызов: сканирует кандидатов от позиции курсора (или от
// края окна), применяет границы дат, фильтр и поиск, собирает страницу по
// возрастанию id. Направление задаёт порядок обхода окна между страницами:
// asc идёт от нижней границы к верхней, desc — от верхней к нижней. На первом
// вызове окна сканирование продолжается и после заполнения страницы — до конца
// окна либо ScanCap — чтобы решить, нужна ли выгрузка, и уточнить has_more.
//
// При ошибке Source возвращается она сама, а NextCursor повторяет входной
// курсор: повторный вызов продолжит ровно с того же места.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	s := newScanState(req, f.cfg)

	for s.stop == "" {
		if err := ctx.Err(); err != nil {
			return s.failed(), err
		}

		batch, err := f.src.HistoryBatch(ctx, req.Peer, s.nextBatchRequest())
		if err != nil {
			return s.failed(), err
		}
		if len(batch) == 0 {
			s.stop = StopWindowEnd
			break
		}

		// Пачка выстраивается в порядок обхода: по возрастанию id для asc,
		// по убыванию для desc.
		sort.Slice(batch, func(i, j int) bool {
			if s.desc {
				return batch[i].ID > batch[j].ID
			}
			return batch[i].ID < batch[j].ID
		})
		s.consume(batch)
	}

	return s.result(req, f.cfg), nil
}

// scanState — изменяемое состояние одного вызова Fetch.
type scanState struct {
	window    Window
	desc      bool
	batchSize int
	scanCap   int

	page    []messages.Message
	extra   []messages.Message
	seen    map[int]struct{}
	scanned int

	// water — id последнего обработанного кандидата (фронт обхода: максимум
	// для asc, минимум для desc); waterDate — его дата.
	water     int
	waterDate int64

	prevFetched int
	probing     bool
	stop        StopReason

	inCursor *Cursor
	fromUnix int64
	toUnix   int64
}

func newScanState(req Request, cfg Config) *scanState {
	w := req.Window
	batchSize := w.PageSize * cfg.InnerReadMultiplier
	if batchSize > maxProviderLimit {
		batchSize = maxProviderLimit
	}

	s := &scanState{
		window:    w,
		desc:      w.Direction == DirectionDesc,
		batchSize: batchSize,
		scanCap:   cfg.ScanCap,
		page:      make([]messages.Message, 0, w.PageSize),
		seen:      make(map[int]struct{}),
		probing:   req.Cursor == nil,
		inCursor:  req.Cursor,
	}
	if req.Cursor != nil {
		s.water = req.Cursor.OffsetID
		s.waterDate = req.Cursor.OffsetDate
		s.prevFetched = req.Cursor.FetchedCount
	}
	if !w.FromUTC.IsZero() {
		s.fromUnix = w.FromUTC.Unix()
	}
	if !w.ToUTC.IsZero() {
		s.toUnix = w.ToUTC.Unix()
	}
	return s
}

// nextBatchRequest выбирает параметры очередного чтения.
//
// Восходящий обход: сдвиг add_offset = -limit переносит окно чтения на сторону
// более новых сообщений относительно позиции, что и даёт движение от старых к
// новым. Три случая:
//   - продолжение от water: min_id отрезает всё, что уже обработано;
//   - первый вызов с нижней границей дат: позиционирование по offset_date,
//     взятой на секунду раньше границы, чтобы сообщения с датой ровно from
//     попали в окно чтения при любой трактовке границы сервером;
//   - первый вызов без нижней границы: от самого старого сообщения чата.
//
// Нисходящий обход совпадает с естественным порядком getHistory — от новых к
// старым, без сдвигов:
//   - продолжение от water: offset_id отдаёт только id < water;
//   - первый вызов с верхней границей дат: позиционирование по offset_date
//     на секунду позже границы, чтобы сообщения с датой ровно to попали в
//     ответ;
//   - первый вызов без верхней границы: от самого нового сообщения чата.
func (s *scanState) nextBatchRequest() BatchRequest {
	if s.desc {
		switch {
		case s.water > 0:
			return BatchRequest{OffsetID: s.water, Limit: s.batchSize}
		case s.toUnix > 0:
			return BatchRequest{OffsetDate: int(s.toUnix) + 1, Limit: s.batchSize}
		default:
			return BatchRequest{Limit: s.batchSize}
		}
	}
	switch {
	case s.water > 0:
		return BatchRequest{OffsetID: s.water, AddOffset: -s.batchSize, Limit: s.batchSize, MinID: s.water}
	case s.fromUnix > 1:
		return BatchRequest{OffsetDate: int(s.fromUnix) - 1, AddOffset: -s.batchSize, Limit: s.batchSize}
	default:
		return BatchRequest{OffsetID: 1, AddOffset: -s.batchSize, Limit: s.batchSize}
	}
}

// consume обрабатывает пачку кандидатов, выстроенную в порядок обхода.
func (s *scanState) consume(batch []messages.Message) {
	advanced := false
	for _, m := range batch {
		// Сервер мог вернуть перекрытие с прошлой пачкой: отрезаем без
		// учёта в лимитах.
		if s.behindWater(m.ID) {
			continue
		}
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.seen[m.ID] = struct{}{}
		advanced = true

		if s.scanned >= s.scanCap {
			s.stop = StopScanCap
			return
		}
		s.scanned++

		// Выход за дальнюю границу окна завершает обход; недолёт до ближней
		// лишь сдвигает water.
		if s.pastWindow(m.DateUnix) {
			s.stop = StopWindowEnd
			return
		}
		s.water, s.waterDate = m.ID, m.DateUnix
		if s.beforeWindow(m.DateUnix) {
			continue
		}

		if !s.window.Filter.Match(m) {
			continue
		}
		if !filter.Search(m.Text, s.window.Search) {
			continue
		}

		if len(s.page) < s.window.PageSize {
			s.page = append(s.page, m)
			if len(s.page) == s.window.PageSize && !s.probing {
				s.stop = StopPageFull
				return
			}
			continue
		}
		s.extra = append(s.extra, m)
	}

	// Пачка не дала ни одного нового кандидата: прогресса больше не будет.
	if !advanced {
		s.stop = StopWindowEnd
	}
}

// behindWater отсекает кандидатов по уже пройденной стороне фронта обхода.
func (s *scanState) behindWater(id int) bool {
	if s.water == 0 {
		return false
	}
	if s.desc {
		return id >= s.water
	}
	return id <= s.water
}

// pastWindow — кандидат лежит за дальней по ходу обхода границей окна: дальше
// встретятся только сообщения вне окна.
func (s *scanState) pastWindow(dateUnix int64) bool {
	if s.desc {
		return s.fromUnix > 0 && dateUnix < s.fromUnix
	}
	return s.toUnix > 0 && dateUnix > s.toUnix
}

// beforeWindow — кандидат ещё не дошёл до окна: позиционирование по
// offset_date неточное, начало пачки может лежать по ближнюю сторону границы.
func (s *scanState) beforeWindow(dateUnix int64) bool {
	if s.desc {
		return s.toUnix > 0 && dateUnix > s.toUnix
	}
	return s.fromUnix > 0 && dateUnix < s.fromUnix
}

// result собирает итог успешного вызова. Страница отдаётся по возрастанию id
// независимо от направления: desc-обход наполняет её от новых к старым,
// поэтому перед выдачей порядок обращается. Курсор вычисляется до разворота —
// по последнему сообщению в порядке обхода.
func (s *scanState) result(req Request, cfg Config) Result {
	res := Result{
		Page:         s.page,
		Extra:        s.extra,
		TotalFetched: s.prevFetched + len(s.page),
		Scanned:      s.scanned,
		Stop:         s.stop,
	}

	matched := len(s.page) + len(s.extra)
	switch s.stop {
	case StopPageFull, StopScanCap:
		res.HasMore = true
	case StopWindowEnd:
		// Проба первого вызова точно знает, остались ли совпадения за
		// пределами страницы.
		res.HasMore = s.probing && matched > len(s.page)
	}
	res.ShouldExport = s.probing && matched > cfg.ExportThreshold

	if res.HasMore {
		res.NextCursor = s.nextCursor(req)
	}
	if s.desc {
		slices.Reverse(res.Page)
	}
	return res
}

// failed собирает итог прерванного вызова: клиент должен повторить его с тем
// же входным курсором, поэтому наружу уходит именно он.
func (s *scanState) failed() Result {
	if s.desc {
		slices.Reverse(s.page)
	}
	return Result{
		Page:         s.page,
		TotalFetched: s.prevFetched + len(s.page),
		Scanned:      s.scanned,
		NextCursor:   s.inCursor,
	}
}

// nextCursor вычисляет позицию продолжения. Если проба ушла за пределы
// страницы (есть Extra), продолжение ставится на последнее сообщение страницы
// в порядке обхода, чтобы хвост пробы был выдан следующими страницами; иначе —
// на последнего обработанного кандидата, что пропускает заведомо
// отфильтрованные id. Для asc позиция — максимальный выданный id, для desc —
// минимальный; обе согласованы с выбором параметров в nextBatchRequest.
func (s *scanState) nextCursor(req Request) *Cursor {
	offsetID, offsetDate := s.water, s.waterDate
	if len(s.extra) > 0 {
		last := s.page[len(s.page)-1]
		offsetID, offsetDate = last.ID, last.DateUnix
	}
	return &Cursor{
		OffsetID:     offsetID,
		OffsetDate:   offsetDate,
		Direction:    req.Window.Direction,
		FetchedCount: s.prevFetched + len(s.page),
		WindowHash:   WindowHash(req.ChatCanonical, req.Window),
	}
}
