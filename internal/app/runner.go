// Package app реализует верхний уровень управления жизненным циклом сервера истории.
// Файл runner.go — точка оркестрации: здесь запускаются сервисы в правильном порядке,
// выполняется авторизация, стартует транспорт MCP, и организуется корректный graceful shutdown.
// Бизнес-назначение: гарантировать стабильный запуск и предсказуемое завершение так,
// чтобы начатые чтения истории успели закончиться, а MTProto-движок оставался жив
// до остановки всех сервисов, которые от него зависят.
package app

import (
	"context"
	"sync"
	"time"

	mcpsrv "telegram-history-mcp/internal/adapters/mcp"
	"telegram-history-mcp/internal/adapters/web"
	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/infra/config"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/pr"
	tgauth "telegram-history-mcp/internal/infra/telegram/auth"
	"telegram-history-mcp/internal/infra/telegram/connection"
	"telegram-history-mcp/internal/infra/telegram/peersmgr"
	"telegram-history-mcp/internal/infra/throttle"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Runner инкапсулирует сценарий запуска и остановки Telegram-клиента и связанных подсистем.
// Отвечает за:
//   - авторизацию и идентификацию текущего пользователя (self),
//   - линейный запуск сервисов в правильном порядке,
//   - корректное завершение: сначала гасится транспорт MCP, затем фоновые сервисы,
//     и только потом MTProto-движок.
type Runner struct {
	client     *telegram.Client    // Обёртка над MTProto-клиентом и API: логин, Self(), API-интерфейс.
	mainCtx    context.Context     // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel context.CancelFunc  // Функция, инициирующая общий shutdown (используется из узлов).
	login      bool                // Режим -login: авторизоваться, сохранить сессию и выйти.
	peers      *peersmgr.Service   // Сервис пиров (peers.Manager + persist storage).
	throttler  *throttle.Throttler // Лимитер исходящих RPC.
	sweeper    *artifacts.Sweeper  // Фоновая уборка просроченных выгрузок.
	mcpServer  *mcpsrv.Server      // Транспорт MCP (stdio или streamable HTTP).
	webServer  *web.Server         // Операционный веб-сервер (health/metrics); может быть nil.

	servicesWG     sync.WaitGroup     // WaitGroup фоновых сервисов (sweeper, MCP).
	servicesCancel context.CancelFunc // Функция отмены контекста фоновых сервисов.
}

const (
	webServerShutdownTimeout = 10 * time.Second
)

// NewRunner подготавливает Runner с переданными зависимостями: ядро клиента,
// сервис пиров, лимитер и фасады транспорта. Возвращает объект, готовый к запуску Run().
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	login bool,
	client *telegram.Client,
	peers *peersmgr.Service,
	throttler *throttle.Throttler,
	sweeper *artifacts.Sweeper,
	mcpServer *mcpsrv.Server,
	webServer *web.Server,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		login:      login,
		client:     client,
		peers:      peers,
		throttler:  throttler,
		sweeper:    sweeper,
		mcpServer:  mcpServer,
		webServer:  webServer,
	}
}

// Run — главный цикл сервера. Выполняет логин, запуск узлов и транспорта MCP
// и управляет корректным завершением. Блокируется до завершения клиентского контекста.
// Важно: используется отдельный контекст для MTProto-движка, чтобы дать шанс
// фоновым сервисам корректно завершиться до гашения сетевого уровня.
func (r *Runner) Run(waiter *floodwait.Waiter) error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	// Запускаем отслеживание сигналов сразу, чтобы Ctrl+C работал во время инициализации
	var shutdownWG sync.WaitGroup

	shutdownWG.Go(func() {
		<-r.mainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		// Если авторизация ждёт ввода кода, закрываем readline, иначе
		// shutdown зависнет на чтении stdin.
		pr.InterruptReadline()
		r.stopAllServices()
		clientCancel()
	})

	return waiter.Run(clientCtx, func(ctx context.Context) error {
		return r.client.Run(ctx, func(ctx context.Context) error {
			self, loginErr := r.loginSelf(ctx)
			if loginErr != nil {
				return loginErr
			}

			if r.login {
				// Сессия записана на диск; серверные узлы в этом режиме не поднимаем.
				logger.Infof("Session for @%s saved, restart without -login to serve", self.Username)
				return nil
			}

			if err := r.initPeers(ctx); err != nil {
				return err
			}

			if err := r.startAllServices(ctx); err != nil {
				r.stopAllServices()
				return err
			}

			logger.Info("History server running...")

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

// loginSelf проводит авторизацию и возвращает профиль текущего пользователя.
// Интерактивный сценарий с терминальными промптами допустим только когда
// консоль свободна: в режиме -login и на HTTP-транспорте. При stdio консоль
// занята протоколом MCP, поэтому там авторизация идёт строго по сохранённой
// сессии.
func (r *Runner) loginSelf(ctx context.Context) (*tg.User, error) {
	env := config.Env()

	var authenticator auth.UserAuthenticator
	if r.login || env.MCPTransport == mcpsrv.TransportHTTP {
		authenticator = tgauth.Terminal{PhoneNumber: env.PhoneNumber}
	} else {
		authenticator = tgauth.NonInteractive{PhoneNumber: env.PhoneNumber}
	}

	flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})
	if err := r.client.Auth().IfNecessary(ctx, flow); err != nil {
		if errors.Is(err, tgauth.ErrInteractiveLoginRequired) {
			return nil, errors.Wrap(err, "no usable session; run with -login once")
		}
		return nil, errors.Wrap(err, "auth")
	}

	self, err := r.client.Self(ctx)
	if err != nil {
		return nil, err
	}
	logger.Logger().Info("Logged in as:",
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return self, nil
}

// initPeers инициализирует менеджер пиров поверх живого клиента. Кэш с диска
// уже загружен на этапе сборки приложения, здесь догружается состояние,
// требующее RPC (self и ключи шифрования).
func (r *Runner) initPeers(ctx context.Context) error {
	if err := r.peers.Mgr.Init(ctx); err != nil {
		return errors.Wrap(err, "init peers manager")
	}
	logger.Debug("Peers manager initialized")
	return nil
}

func (r *Runner) startAllServices(ctx context.Context) error {
	servicesCtx, servicesCancel := context.WithCancel(ctx)
	r.servicesCancel = servicesCancel

	// connection_manager
	logger.Debug("starting service connection_manager")
	connection.Init(ctx, r.client)
	logger.Debug("service connection_manager started")

	// throttler
	logger.Debug("starting service throttler")
	r.throttler.Start(ctx)
	logger.Debug("service throttler started")

	// artifacts_sweeper
	logger.Debug("starting service artifacts_sweeper")
	r.servicesWG.Go(func() {
		r.sweeper.Run(servicesCtx)
	})
	logger.Debug("service artifacts_sweeper started")

	// web server (если включен)
	if r.webServer != nil {
		logger.Debug("starting service web_server")
		go func() {
			if err := r.webServer.Start(); err != nil {
				logger.Errorf("web server error: %v", err)
			}
		}()
		logger.Debug("service web_server started")
	}

	// mcp_server
	logger.Debug("starting service mcp_server")
	r.servicesWG.Go(func() {
		err := r.mcpServer.Run(servicesCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("mcp server: %v", err)
		}
		// Закрытие транспорта (EOF на stdin и т.п.) означает конец работы
		// сервера: инициируем общий shutdown.
		r.mainCancel()
	})
	logger.Debug("service mcp_server started")

	return nil
}

func (r *Runner) stopAllServices() {
	// Останавливаем в обратном порядке

	// mcp_server и artifacts_sweeper
	logger.Debug("stopping service mcp_server")
	if r.servicesCancel != nil {
		r.servicesCancel()
	}
	r.servicesWG.Wait()
	logger.Debug("service mcp_server stopped")

	// web server
	if r.webServer != nil {
		logger.Debug("stopping service web_server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), webServerShutdownTimeout)
		defer cancel()
		if err := r.webServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("failed to stop web_server: %v", err)
		}
		logger.Debug("service web_server stopped")
	}

	// throttler
	logger.Debug("stopping service throttler")
	if r.throttler != nil {
		r.throttler.Stop()
	}
	logger.Debug("service throttler stopped")

	// connection_manager
	logger.Debug("stopping service connection_manager")
	connection.Shutdown()
	logger.Debug("service connection_manager stopped")
}
