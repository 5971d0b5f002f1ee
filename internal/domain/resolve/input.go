package resolve

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// InputKind — вид распознанной ссылки на чат.
type InputKind int

const (
	// InputUsername — публичное имя: @gonews, t.me/gonews или просто gonews.
	InputUsername InputKind = iota
	// InputID — канонический числовой идентификатор со знаком.
	InputID
)

// Формы ввода, как они отдаются в следе разбора resolved_from.
const (
	FormUsername = "username"
	FormURL      = "url"
	FormNumeric  = "numeric"
)

// Input — разобранный идентификатор чата из аргумента инструмента. Form
// запоминает исходную форму записи: @имя и голое имя дают одинаковый Kind,
// но различимы в следе разбора.
type Input struct {
	Kind     InputKind
	Form     string
	Username string // нижний регистр, без @
	ID       int64
}

// Canonical возвращает нормализованную запись ввода: @username для имён и
// ссылок, десятичная форма id для числового ввода.
func (in Input) Canonical() string {
	if in.Kind == InputUsername {
		return "@" + in.Username
	}
	return strconv.FormatInt(in.ID, 10)
}

// Публичное имя в Telegram начинается с буквы, дальше буквы/цифры/подчёркивания,
// всего от 4 до 32 символов. Чисто числовой ввод поэтому однозначно читается
// как канонический id.
var (
	usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)
	tmeLinkRe  = regexp.MustCompile(`(?i)^https?://t\.me/([A-Za-z][A-Za-z0-9_]{3,31})(?:/[0-9]+)?/?$`)
)

// ParseInput разбирает пользовательский ввод в одну из поддерживаемых форм:
// @username, ссылка t.me (номер темы в хвосте игнорируется), голое публичное
// имя или знаковый канонический id. Имена нечувствительны к регистру, пробелы
// по краям отбрасываются.
func ParseInput(raw string) (Input, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Input{}, errors.Wrap(ErrUsernameInvalid, "empty chat reference")
	}

	if strings.HasPrefix(trimmed, "@") {
		return usernameInput(strings.TrimPrefix(trimmed, "@"), FormUsername)
	}
	if m := tmeLinkRe.FindStringSubmatch(trimmed); m != nil {
		return usernameInput(m[1], FormURL)
	}
	if usernameRe.MatchString(trimmed) {
		return usernameInput(trimmed, FormUsername)
	}
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Input{Kind: InputID, Form: FormNumeric, ID: id}, nil
	}
	return Input{}, errors.Wrapf(ErrUsernameInvalid, "unrecognized chat reference %q", raw)
}

func usernameInput(name, form string) (Input, error) {
	if !usernameRe.MatchString(name) {
		return Input{}, errors.Wrapf(ErrUsernameInvalid, "bad username %q", name)
	}
	return Input{Kind: InputUsername, Form: form, Username: strings.ToLower(name)}, nil
}
