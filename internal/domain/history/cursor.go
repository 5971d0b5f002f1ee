package history

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/go-faster/errors"
)

// ErrInvalidCursor — любой дефект входного курсора: битый base64, не-JSON,
// отсутствующие поля или подпись чужого окна. Фасад транслирует его в
// VALIDATION_ERROR.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor — состояние пагинации. Клиентам уходит только опаковый токен
// (см. Encode); ключи JSON сокращены, чтобы токен оставался коротким.
type Cursor struct {
	OffsetID     int    `json:"o"`
	OffsetDate   int64  `json:"d,omitempty"`
	Direction    string `json:"dir"`
	FetchedCount int    `json:"n"`
	WindowHash   string `json:"w"`
}

// Encode сериализует курсор в URL-safe base64 без выравнивания.
func (c Cursor) Encode() string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor разбирает опаковый токен. Подпись окна на этом этапе не
// сверяется: вызывающий обязан дополнительно вызвать CheckWindow.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errors.Wrapf(ErrInvalidCursor, "base64: %v", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, errors.Wrapf(ErrInvalidCursor, "json: %v", err)
	}
	if err := c.validate(); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// validate проверяет обязательные поля после разбора.
func (c Cursor) validate() error {
	if c.OffsetID <= 0 {
		return errors.Wrap(ErrInvalidCursor, "offset id missing")
	}
	if c.Direction != DirectionAsc && c.Direction != DirectionDesc {
		return errors.Wrap(ErrInvalidCursor, "unknown direction")
	}
	if c.FetchedCount < 0 {
		return errors.Wrap(ErrInvalidCursor, "negative fetched count")
	}
	if c.WindowHash == "" {
		return errors.Wrap(ErrInvalidCursor, "window hash missing")
	}
	return nil
}

// CheckWindow сверяет подпись курсора с параметрами текущего вызова: курсор,
// выданный для другого окна, отклоняется вместо молча неверной выдачи.
func (c Cursor) CheckWindow(chatCanonical string, w Window) error {
	if c.WindowHash != WindowHash(chatCanonical, w) {
		return errors.Wrap(ErrInvalidCursor, "cursor was issued for different window parameters")
	}
	return nil
}

// WindowHash — короткая подпись параметров окна: первые 8 байт SHA-256 от
// каноничной строки, в hex.
func WindowHash(chatCanonical string, w Window) string {
	sum := sha256.Sum256([]byte(w.canonical(chatCanonical)))
	return hex.EncodeToString(sum[:8])
}
