// Package auth предоставляет интерактивный слой авторизации на базе gotd.
// Файл auth.go описывает терминальный аутентификатор (auth.UserAuthenticator):
// чтение кода подтверждения/2FA из консоли, согласие с ToS и первичную
// регистрацию (SignUp). Терминальный вариант используется в режиме логина и при
// HTTP-транспорте; при stdio-транспорте консоль занята протоколом MCP, поэтому
// применяется NonInteractive, который вместо запроса ввода возвращает
// ErrInteractiveLoginRequired.

package auth

import (
	"context"
	"strings"
	"syscall"

	"telegram-history-mcp/internal/infra/pr"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// ErrInteractiveLoginRequired возвращается NonInteractive, когда для входа нужен
// ввод с терминала. Приложение переводит её в подсказку «выполните historymcp -login».
var ErrInteractiveLoginRequired = errors.New("interactive login required")

// readLine выводит приглашение, читает строку из общего readline и обрезает пробелы по краям.
// Возвращает введённое значение или ошибку чтения (включая EOF при закрытом stdin).
func readLine(prompt string) (string, error) {
	rl := pr.Rl()
	if rl == nil {
		return "", errors.New("console is not initialized")
	}
	// Устанавливаем приглашение в общий readline; будет действовать до следующей смены.
	pr.SetPrompt(prompt)
	line, err := rl.Readline()
	return strings.TrimSpace(line), err
}

// Terminal реализует auth.UserAuthenticator и собирает ввод из терминала.
// Предназначен для интерактивного входа пользователя: номер телефона, код
// подтверждения, пароль 2FA, принятие ToS и первичная регистрация.
// Не валидирует формат номера.
type Terminal struct {
	// PhoneNumber хранит телефон, с которым будет выполняться вход.
	PhoneNumber string
}

var _ auth.UserAuthenticator = Terminal{}

// Phone возвращает заранее известный номер телефона. Формат не проверяется; ожидается E.164.
func (t Terminal) Phone(_ context.Context) (string, error) {
	return t.PhoneNumber, nil
}

// Code запрашивает код подтверждения у пользователя и возвращает его без пробелов по краям.
// sentCode содержит метаданные от Telegram и здесь не используется.
func (t Terminal) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine("Enter the code from Telegram: ")
}

// Password считывает пароль двухфакторной аутентификации без отображения вводимых символов.
// Используется term.ReadPassword; на некоторых ОС может потребоваться явное приведение fd к int.
func (t Terminal) Password(_ context.Context) (string, error) {
	// Сообщение без перевода строки, чтобы ввод шёл в той же строке.
	pr.Print("Enter 2FA password: ")
	// Безэховый ввод пароля из stdin; драйвер сам вернёт управление после Enter.
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	// Возвращаем курсор на новую строку после скрытого ввода.
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService выводит текст условий использования и запрашивает согласие пользователя.
// Принимаются только ответы "y"/"Y"; любой другой ответ трактуется как отказ.
func (t Terminal) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	// Текст ToS может быть длинным и содержать разметку; выводим как есть.
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if resp != "y" && resp != "Y" {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp вызывается для незарегистрированного номера: собирает имя и (опциональную) фамилию.
// Возвращает auth.UserInfo для отправки в Telegram.
func (t Terminal) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := readLine("Enter your first name: ")
	if err != nil {
		return auth.UserInfo{}, err
	}
	// Фамилия опциональна; ошибку чтения игнорируем, чтобы не блокировать регистрацию.
	lastName, _ := readLine("Enter your last name (optional): ")
	return auth.UserInfo{
		FirstName: firstName,
		LastName:  lastName,
	}, nil
}

// NonInteractive реализует auth.UserAuthenticator для запусков без терминала
// (stdio-транспорт MCP). Любая попытка запросить ввод означает, что сохранённой
// сессии нет или она отозвана: возвращаем ErrInteractiveLoginRequired, чтобы
// процесс завершился с понятной подсказкой вместо зависания на чтении stdin.
type NonInteractive struct {
	PhoneNumber string
}

var _ auth.UserAuthenticator = NonInteractive{}

func (n NonInteractive) Phone(_ context.Context) (string, error) {
	return n.PhoneNumber, nil
}

func (n NonInteractive) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return "", ErrInteractiveLoginRequired
}

func (n NonInteractive) Password(_ context.Context) (string, error) {
	return "", ErrInteractiveLoginRequired
}

func (n NonInteractive) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return ErrInteractiveLoginRequired
}

func (n NonInteractive) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrInteractiveLoginRequired
}
