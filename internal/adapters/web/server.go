// Package web — операционный HTTP-сервер: liveness/readiness-пробы,
// Prometheus-метрики и JSON-сводка состояния. Живёт отдельно от
// MCP-транспорта и в протоколе инструментов не участвует.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/infra/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server — операционный HTTP-сервер.
type Server struct {
	srv       *http.Server
	store     *artifacts.Store
	startedAt time.Time
}

// NewServer настраивает роутинг и собирает сервер на address.
func NewServer(address string, store *artifacts.Store) *Server {
	s := &Server{
		store:     store,
		startedAt: time.Now().UTC(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         address,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Start запускает сервер и блокируется до остановки.
func (s *Server) Start() error {
	logger.Infof("web server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("web server shutting down")
	return s.srv.Shutdown(ctx)
}

// loggingMiddleware логирует все запросы.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
