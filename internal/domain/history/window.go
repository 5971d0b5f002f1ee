// Package history реализует постраничное чтение истории публичного чата:
//   - Window описывает запрошенный срез (границы дат, размер страницы, поиск, фильтр);
//   - Cursor переносит состояние пагинации между вызовами в опаковом токене;
//   - Fetcher ведёт сканирование через абстрактный Source и собирает страницы.
//
// Внутри страницы сообщения всегда идут по возрастанию id. Направление задаёт
// порядок обхода окна между страницами: asc стартует от нижней границы и
// движется к верхней (прямое сканирование с min_id), desc стартует от верхней
// и движется вниз в естественном порядке getHistory; очередная страница desc
// содержит только id меньше минимального id предыдущей.
package history

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"telegram-history-mcp/internal/domain/filter"
)

// Направления обхода, допустимые во входных параметрах.
const (
	DirectionAsc  = "asc"
	DirectionDesc = "desc"
)

// ChatPeer — ссылка на уже разрешённый чат. Kind различает форму InputPeer
// на стороне провайдера.
type ChatPeer struct {
	Kind string // user | chat | channel
	ID   int64
}

// Window — неизменяемое описание запрошенного среза истории. Нулевые времена
// означают открытую границу.
type Window struct {
	FromUTC   time.Time
	ToUTC     time.Time
	Direction string
	PageSize  int
	Search    string
	Filter    filter.Options
}

// Validate проверяет границы окна. maxPageSize приходит из конфигурации.
func (w Window) Validate(maxPageSize int) error {
	if w.PageSize < 1 || w.PageSize > maxPageSize {
		return errors.Errorf("page_size must be within [1, %d], got %d", maxPageSize, w.PageSize)
	}
	if w.Direction != DirectionAsc && w.Direction != DirectionDesc {
		return errors.Errorf("direction must be %q or %q, got %q", DirectionAsc, DirectionDesc, w.Direction)
	}
	if !w.FromUTC.IsZero() && !w.ToUTC.IsZero() && w.FromUTC.After(w.ToUTC) {
		return errors.New("from_date is after to_date")
	}
	return w.Filter.Validate()
}

// canonical собирает строку параметров окна для подписи. Поля перечисляются
// в фиксированном порядке, открытые границы кодируются нулём.
func (w Window) canonical(chatCanonical string) string {
	var fromUnix, toUnix int64
	if !w.FromUTC.IsZero() {
		fromUnix = w.FromUTC.Unix()
	}
	if !w.ToUTC.IsZero() {
		toUnix = w.ToUTC.Unix()
	}
	parts := []string{
		chatCanonical,
		strconv.FormatInt(fromUnix, 10),
		strconv.FormatInt(toUnix, 10),
		w.Direction,
		strconv.Itoa(w.PageSize),
		w.Search,
		w.Filter.Canonical(),
	}
	return strings.Join(parts, "|")
}
