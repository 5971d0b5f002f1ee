// Package mcp — фасад протокола MCP поверх домена истории. Регистрирует два
// инструмента (resolve_chat, fetch_history) и ресурс NDJSON-выгрузок,
// транслирует аргументы вызовов в доменные запросы и упаковывает результаты
// и ошибки в JSON-конверты единой таксономии. Поддерживаются транспорты
// stdio и streamable HTTP.
package mcp

import (
	"context"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/domain/history"
	"telegram-history-mcp/internal/domain/resolve"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/support/version"
)

// Поддерживаемые транспорты MCP.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// serverName — имя, под которым сервер представляется клиенту при handshake.
const serverName = "telegram-history"

// defaultPageSize применяется, когда вызов не указал page_size.
const defaultPageSize = 50

// httpShutdownTimeout ограничивает ожидание graceful-остановки HTTP-транспорта.
const httpShutdownTimeout = 5 * time.Second

// Options — зависимости и настройки фасада.
type Options struct {
	Resolver *resolve.Resolver
	Fetcher  *history.Fetcher
	Store    *artifacts.Store

	Transport string // stdio | http
	Address   string // слушающий адрес для http-транспорта

	DefaultPageSize int
	MaxPageSize     int
}

// Server обслуживает MCP-инструменты истории.
type Server struct {
	mcp  *server.MCPServer
	opts Options
}

// New собирает MCP-сервер и регистрирует инструменты и ресурсы.
func New(opts Options) *Server {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = defaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}

	s := &Server{opts: opts}
	s.mcp = server.NewMCPServer(
		serverName,
		version.Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// Run блокируется до остановки транспорта или отмены контекста.
func (s *Server) Run(ctx context.Context) error {
	switch s.opts.Transport {
	case TransportHTTP:
		return s.runHTTP(ctx)
	default:
		return s.runStdio(ctx)
	}
}

// runStdio читает запросы из stdin и пишет ответы в stdout. Логи при этом
// транспорте обязаны идти в stderr или файл (см. пакет logger).
func (s *Server) runStdio(ctx context.Context) error {
	logger.Info("MCP server listening on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) runHTTP(ctx context.Context) error {
	httpSrv := server.NewStreamableHTTPServer(s.mcp)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("MCP server listening on http://%s/mcp", s.opts.Address)
		errCh <- httpSrv.Start(s.opts.Address)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("MCP http shutdown: %v", err)
	}
	return nil
}
