// Package app — верхний уровень сборки сервера истории Telegram.
// Здесь связываются конфигурация, сетевой слой (gotd/telegram), персистентный
// кэш пиров, доменные сервисы (резолвер чатов, фетчер истории, стор выгрузок)
// и фасады MCP и операционного веб-сервера. Отсюда стартует жизненный цикл
// и обеспечивается корректный shutdown.
package app

import (
	"context"
	"sync"
	"time"

	mcpsrv "telegram-history-mcp/internal/adapters/mcp"
	tgadapter "telegram-history-mcp/internal/adapters/telegram"
	"telegram-history-mcp/internal/adapters/web"
	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/domain/history"
	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/config"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/storage"
	"telegram-history-mcp/internal/infra/telegram/connection"
	tgfloodwait "telegram-history-mcp/internal/infra/telegram/floodwait"
	"telegram-history-mcp/internal/infra/telegram/peersmgr"
	"telegram-history-mcp/internal/infra/telegram/session"
	"telegram-history-mcp/internal/infra/throttle"
	"telegram-history-mcp/internal/support/version"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
)

// lazyUpdateHandler — это обёртка, которая позволяет отложить установку
// реального обработчика апдейтов, разрывая цикл инициализации: клиенту
// обработчик нужен при создании, а хук кэша пиров собирается уже поверх
// клиентского API.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// noopUpdateHandler отбрасывает апдейты: сервер истории живые события не
// обрабатывает. Сущности из апдейтов к этому моменту уже сохранены хуком
// кэша пиров выше по цепочке.
type noopUpdateHandler struct{}

func (noopUpdateHandler) Handle(context.Context, tg.UpdatesClass) error { return nil }

// App агрегирует зависимости сервера истории и управляет их связью.
// Отвечает за:
//   - конфигурацию и телеграм-клиента (авторизация, API),
//   - общую bolt-базу кэша пиров и реестра выгрузок,
//   - доменные сервисы: резолвер чатов, фетчер истории, стор выгрузок,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context     // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc  // Инициирует отмену mainCtx.
	login      bool                // Режим интерактивной авторизации вместо запуска сервера.
	peers      *peersmgr.Service   // Менеджер пиров + persist storage.
	throttler  *throttle.Throttler // Лимитер исходящих RPC с ретраями FLOOD_WAIT.
	sweeper    *artifacts.Sweeper  // Фоновая уборка просроченных выгрузок.
	mcpServer  *mcpsrv.Server      // Фасад MCP: инструменты и ресурсы.
	webServer  *web.Server         // Операционный веб-сервер (health/metrics).
	runner     *Runner             // Оркестратор жизненного цикла.
	waiter     *floodwait.Waiter   // Middleware для обработки FLOOD_WAIT.
}

const (
	// resolverCacheSize — ёмкость LRU-кэша резолвера; хватает на типичную
	// рабочую сессию агента с десятками чатов.
	resolverCacheSize = 256
	// sweepInterval — периодичность уборки просроченных выгрузок.
	sweepInterval = time.Hour
	// dbLockTimeout ограничивает ожидание flock на bolt-файле: второй процесс
	// (например, забытый -login) должен упасть с ошибкой, а не висеть молча.
	dbLockTimeout = time.Second
)

// NewApp создаёт пустой каркас приложения. Фактическая инициализация выполняется в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, login bool) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		login:      login,
	}
}

// Run собирает подсистемы сервера и стартует Runner: MTProto-клиент, общую
// bolt-базу, лимитер, доменные сервисы и транспорт MCP. Блокируется до
// остановки приложения и возвращает ошибку, если что-то пошло не так.
func (a *App) Run() error {
	env := config.Env()
	logger.Info("History server initializing...")

	lazyHandler := &lazyUpdateHandler{}
	a.waiter = floodwait.NewWaiter()

	// Опции MTProto-клиента: сессия, хук апдейтов, поведение при dead-соединении
	// и паспорт устройства.
	options := telegram.Options{
		SessionStorage: &session.FileStorage{Path: env.SessionFile},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			a.waiter,
			ratelimit.New(
				rate.Limit(env.ThrottleRPS),
				env.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		// При сообщении от gotd о «мертвом» соединении отмечаем отключение для зависимых узлов.
		OnDead: func() {
			connection.MarkDisconnected()
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    version.Version,
		},
		// Logger: logger.Logger().Named("MTProto_Client"),
	}

	// Для тестовых окружений используем DC тестового стенда Telegram.
	if env.TestDC {
		options.DCList = dcs.Test()
	}

	// Инициализация клиента gotd
	client := telegram.NewClient(env.APIID, env.APIHash, options)

	// Общая bolt-база: кэш пиров и реестр выгрузок живут в одном файле,
	// каждый в своём бакете.
	if err := storage.EnsureDir(env.PeersDBFile); err != nil {
		return errors.Wrap(err, "ensure peers db dir")
	}
	db, err := bbolt.Open(env.PeersDBFile, storage.DefaultFilePerm, &bbolt.Options{Timeout: dbLockTimeout})
	if err != nil {
		return errors.Wrap(err, "open peers db")
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Errorf("close peers db: %v", closeErr)
		}
	}()

	peersSvc, err := peersmgr.New(client.API(), db)
	if err != nil {
		return errors.Wrap(err, "init peers manager")
	}
	if err := peersSvc.LoadFromStorage(a.mainCtx); err != nil {
		return errors.Wrap(err, "load peers storage")
	}
	a.peers = peersSvc

	// Сервер апдейты не обрабатывает, но сущности из них пополняют
	// персистентный кэш пиров: access hash достаются бесплатно.
	lazyHandler.set(contribstorage.UpdateHook(noopUpdateHandler{}, peersSvc.Store()))

	// Лимитер исходящих RPC: токены, ретраи с экспоненциальным бэкоффом
	// и ожидание FLOOD_WAIT в пределах бюджета.
	a.throttler = throttle.New(env.ThrottleRPS,
		throttle.WithBurst(env.ThrottleRPS*2), //nolint:mnd // burst = 2*rate
		throttle.WithMaxRetries(env.MaxRetryAttempts),
		throttle.WithWaitExtractors(tgfloodwait.Extractor()),
		throttle.WithBackoff(time.Duration(env.BaseBackoffMS)*time.Millisecond, env.JitterRatio),
		throttle.WithWaitBudget(time.Duration(env.WaitBudgetSec)*time.Second),
	)

	// Реестр и стор NDJSON-выгрузок.
	registry, err := artifacts.NewRegistry(db)
	if err != nil {
		return errors.Wrap(err, "init artifacts registry")
	}
	store, err := artifacts.NewStore(env.ExportDir, time.Duration(env.ArtifactTTLHours)*time.Hour, registry)
	if err != nil {
		return errors.Wrap(err, "init artifacts store")
	}
	a.sweeper = artifacts.NewSweeper(store, sweepInterval)

	// Доменные сервисы поверх клиентского API.
	provider := tgadapter.NewProvider(client.API(), peersSvc, a.throttler,
		time.Duration(env.RequestTimeoutSec)*time.Second)

	var resolverOpts []resolve.Option
	if env.ResolverCacheEnabled {
		resolverOpts = append(resolverOpts,
			resolve.WithCache(resolverCacheSize, time.Duration(env.ResolverCacheTTLMin)*time.Minute))
	}
	resolver := resolve.NewResolver(provider, resolverOpts...)

	fetcher := history.NewFetcher(provider, history.Config{
		InnerReadMultiplier: env.InnerReadMult,
		ScanCap:             env.HistoryScanCap,
		ExportThreshold:     env.ExportThreshold,
	})

	a.mcpServer = mcpsrv.New(mcpsrv.Options{
		Resolver:    resolver,
		Fetcher:     fetcher,
		Store:       store,
		Transport:   env.MCPTransport,
		Address:     env.MCPAddress,
		MaxPageSize: env.MaxPageSize,
	})

	if env.WebServerEnable {
		a.webServer = web.NewServer(env.WebServerAddress, store)
	}

	// Конструируем Runner, который запустит цикл и обеспечит корректный shutdown.
	a.runner = NewRunner(
		a.mainCtx,
		a.mainCancel,
		a.login,
		client,
		a.peers,
		a.throttler,
		a.sweeper,
		a.mcpServer,
		a.webServer,
	)

	return a.runner.Run(a.waiter)
}
