// Пакет timeutil содержит служебные функции работы со временем для истории чатов.
// Все границы временных окон трактуются в UTC: Telegram хранит date сообщений в
// unix-секундах, преобразование в локальные зоны здесь не выполняется.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayout — формат значения «дата без времени».
const dateLayout = "2006-01-02"

// naiveLayout — RFC3339 без зоны. Такое значение трактуется как UTC.
const naiveLayout = "2006-01-02T15:04:05"

// ParseFlexibleTime разбирает значение времени в одном из принятых форматов:
// дата без времени ("2024-01-15"), RFC3339 с зоной Z или вовсе без зоны
// ("2024-01-15T12:30:00Z", "2024-01-15T12:30:00") либо строка с unix-временем
// в секундах ("1705276800"). Значение с ненулевым смещением зоны отклоняется:
// границы окон принимаются только в UTC. Возвращает момент в UTC и признак
// того, что значение задано датой без времени: вызывающий решает, трактовать
// такую границу как начало или конец суток.
func ParseFlexibleTime(value string) (time.Time, bool, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	// Unix-секунды: целое число без разделителей.
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		if sec < 0 {
			return time.Time{}, false, fmt.Errorf("negative unix time %d", sec)
		}
		return time.Unix(sec, 0).UTC(), false, nil
	}

	if t, err := time.Parse(dateLayout, v); err == nil {
		return t.UTC(), true, nil
	}
	if t, err := time.ParseInLocation(naiveLayout, v, time.UTC); err == nil {
		return t, false, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		if _, offset := t.Zone(); offset != 0 {
			return time.Time{}, false, fmt.Errorf("non-UTC offset in %q, use Z or omit the zone", v)
		}
		return t.UTC(), false, nil
	}

	return time.Time{}, false, fmt.Errorf("unrecognized time format %q", v)
}

// DayStart возвращает начало суток UTC для указанного момента.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayEnd возвращает последнюю секунду суток UTC. Используется для верхних
// границ, заданных датой без времени: "2024-01-15" означает «по конец
// 15 января включительно».
func DayEnd(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, time.UTC)
}

// FromUnix переводит unix-секунды (формат поля date в Telegram API) в UTC-момент.
func FromUnix(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

// FormatUTC приводит момент к RFC3339 в UTC. Формат единый для всех ответов сервера.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
