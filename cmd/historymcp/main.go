package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	mcpsrv "telegram-history-mcp/internal/adapters/mcp"
	"telegram-history-mcp/internal/app"
	"telegram-history-mcp/internal/infra/config"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/pr"
	"telegram-history-mcp/internal/support/debug"
)

func main() {
	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	// login включает интерактивную авторизацию: телефон, код из Telegram, пароль 2FA.
	// Сессия сохраняется на диск, после чего процесс завершается.
	login := flag.Bool("login", false, "interactive Telegram login: save session and exit")
	flag.Parse()

	// config.Load загружает конфигурацию из .env и переменных окружения.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	// Уровень консольного лога (stderr; stdout принадлежит протоколу MCP)
	// и опциональный файловый лог с ротацией.
	logger.Init(env.LogLevel)
	logger.EnableFile(logger.FileConfig{
		Path:       env.LogFile,
		Level:      env.LogFileLevel,
		MaxSizeMB:  env.LogFileMaxSize,
		MaxBackups: env.LogFileMaxBackups,
		MaxAgeDays: env.LogFileMaxAge,
		Compress:   env.LogFileCompress,
	})
	debug.DEBUG = env.Debug

	// В интерактивных сценариях (логин, HTTP-транспорт) консоль обслуживает
	// readline: приглашения кода подтверждения и 2FA не перемешиваются с логами.
	// При stdio stdin/stdout принадлежат протоколу MCP, консоль не трогаем.
	if *login || env.MCPTransport == mcpsrv.TransportHTTP {
		if err := pr.Init(); err != nil {
			logger.Fatal("failed to init console", zap.Error(err))
		}
		logger.SetWriters(pr.Stdout(), pr.Stderr())
	}

	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM). Важно: stop() нужно вызвать, чтобы снять подписку.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Собираем приложение и передаём ему контекст жизненного цикла и stop как внешнюю CancelFunc.
	a := app.NewApp(ctx, stop, *login)

	// Запускаем основной цикл; блокируется до shutdown. context.Canceled — штатный
	// результат остановки по сигналу, остальные ошибки фатальны.
	if runErr := a.Run(); runErr != nil && !errors.Is(runErr, context.Canceled) {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	// Освобождаем обработчик сигналов и закрываем ресурсы bootstrap-уровня.
	stop()
	logger.Info("Graceful shutdown complete")
	logger.Sync()
}
