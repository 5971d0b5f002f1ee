// Package filter — предикаты отбора сообщений внутри окна запроса. Все условия
// соединяются через AND; отсутствующее поле означает «без ограничения».
// Пакет также умеет приводить набор условий к каноничной строке для подписи
// окна в курсоре.
package filter

import (
	"slices"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"telegram-history-mcp/internal/domain/messages"
	"telegram-history-mcp/internal/shared"
)

// Options — распознаваемые условия фильтра. Срезы проверяются как множества.
type Options struct {
	MediaTypes []messages.MediaKind `json:"media_types,omitempty"`
	HasMedia   *bool                `json:"has_media,omitempty"`
	FromUsers  []int64              `json:"from_users,omitempty"`
	MinViews   *int                 `json:"min_views,omitempty"`
	MaxViews   *int                 `json:"max_views,omitempty"`
}

// IsZero сообщает, что ни одно условие не задано.
func (o Options) IsZero() bool {
	return len(o.MediaTypes) == 0 &&
		o.HasMedia == nil &&
		len(o.FromUsers) == 0 &&
		o.MinViews == nil &&
		o.MaxViews == nil
}

// Validate проверяет согласованность условий. Ошибки формулируются в терминах
// входных полей, чтобы фасад мог вернуть их клиенту дословно.
func (o Options) Validate() error {
	for _, mt := range o.MediaTypes {
		if _, ok := messages.ParseKind(string(mt)); !ok {
			return errors.Errorf("unknown media type %q", mt)
		}
	}
	if o.MinViews != nil && *o.MinViews < 0 {
		return errors.Errorf("min_views must be non-negative, got %d", *o.MinViews)
	}
	if o.MaxViews != nil && *o.MaxViews < 0 {
		return errors.Errorf("max_views must be non-negative, got %d", *o.MaxViews)
	}
	if o.MinViews != nil && o.MaxViews != nil && *o.MinViews > *o.MaxViews {
		return errors.Errorf("min_views %d exceeds max_views %d", *o.MinViews, *o.MaxViews)
	}
	return nil
}

// Match применяет все заданные условия к сообщению.
func (o Options) Match(m messages.Message) bool {
	if len(o.MediaTypes) > 0 && !slices.Contains(o.MediaTypes, m.MediaType) {
		return false
	}
	if o.HasMedia != nil && m.HasMedia != *o.HasMedia {
		return false
	}
	if len(o.FromUsers) > 0 {
		if m.Sender == nil || !slices.Contains(o.FromUsers, m.Sender.ID) {
			return false
		}
	}
	if o.MinViews != nil && m.Views < *o.MinViews {
		return false
	}
	if o.MaxViews != nil && m.Views > *o.MaxViews {
		return false
	}
	return true
}

// Canonical возвращает детерминированное строковое представление условий.
// Используется при вычислении подписи окна: одинаковые фильтры обязаны давать
// одинаковую строку независимо от порядка и повторов элементов на входе.
func (o Options) Canonical() string {
	var parts []string
	if len(o.MediaTypes) > 0 {
		kinds := make([]string, 0, len(o.MediaTypes))
		for _, mt := range o.MediaTypes {
			kinds = append(kinds, string(mt))
		}
		slices.Sort(kinds)
		parts = append(parts, "media_types="+strings.Join(shared.Unique(kinds), ","))
	}
	if o.HasMedia != nil {
		parts = append(parts, "has_media="+strconv.FormatBool(*o.HasMedia))
	}
	if len(o.FromUsers) > 0 {
		ids := slices.Clone(o.FromUsers)
		slices.Sort(ids)
		strs := make([]string, 0, len(ids))
		for _, id := range shared.Unique(ids) {
			strs = append(strs, strconv.FormatInt(id, 10))
		}
		parts = append(parts, "from_users="+strings.Join(strs, ","))
	}
	if o.MinViews != nil {
		parts = append(parts, "min_views="+strconv.Itoa(*o.MinViews))
	}
	if o.MaxViews != nil {
		parts = append(parts, "max_views="+strconv.Itoa(*o.MaxViews))
	}
	return strings.Join(parts, ";")
}

// Search — пост-фильтр полнотекстового поиска: регистронезависимое вхождение
// подстроки в текст сообщения.
func Search(text, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(query))
}
