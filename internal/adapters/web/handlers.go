package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/telegram/connection"
	"telegram-history-mcp/internal/support/version"
)

// exportStats — вложенная сводка по NDJSON-выгрузкам.
type exportStats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"total_bytes"`
}

// statsPayload — тело ответа /api/stats.
type statsPayload struct {
	Version        string      `json:"version"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	TelegramOnline bool        `json:"telegram_online"`
	Exports        exportStats `json:"exports"`
}

// handleHealth — liveness-проба: процесс жив и обслуживает HTTP.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	writeResponse(w, []byte("OK"))
}

// handleReady — readiness-проба. Инструменты истории работоспособны только
// при живом соединении с Telegram, поэтому до коннекта отвечаем 503.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !connection.IsOnline() {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeResponse(w, []byte("telegram offline"))
		return
	}
	w.WriteHeader(http.StatusOK)
	writeResponse(w, []byte("ready"))
}

// handleStats возвращает JSON-сводку состояния сервера.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	payload := statsPayload{
		Version:        version.Version,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		TelegramOnline: connection.IsOnline(),
	}

	count, totalBytes, err := s.store.Stats(time.Now())
	if err != nil {
		logger.Warnf("web: export stats unavailable: %v", err)
	} else {
		payload.Exports = exportStats{Count: count, TotalBytes: totalBytes}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeResponse(w, raw)
}

// writeResponse записывает ответ, логируя ошибку записи вместо её потери.
func writeResponse(w http.ResponseWriter, data []byte) {
	if _, err := w.Write(data); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}
