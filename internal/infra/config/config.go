// Пакет config отвечает за сбор и предоставление конфигурации MCP-сервера
// истории Telegram. Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. подставляет дефолты с накоплением предупреждений,
//  4. предоставляет потокобезопасный доступ к результатам через R/W мьютекс.
//
// Бизнес-контекст: конфиг среды управляет подключением к Telegram API
// (учётные данные, файл сессии, тестовый DC), лимитами чтения истории
// (размер страницы, бюджет ожидания, ретраи), выгрузками NDJSON (каталог,
// порог, TTL), транспортом MCP (stdio либо streamable HTTP) и логированием.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: учётные данные и файл сессии для MTProto, транспорт MCP,
// ограничения чтения истории, параметры выгрузок и логирование.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID       int
	APIHash     string
	PhoneNumber string
	SessionFile string
	PeersDBFile string
	TestDC      bool
	LogLevel    string

	// Транспорт MCP
	MCPTransport string // stdio | http
	MCPAddress   string // адрес streamable HTTP транспорта

	// Чтение истории
	MaxPageSize       int
	InnerReadMult     int
	HistoryScanCap    int
	RequestTimeoutSec int

	// Лимиты и ретраи
	ThrottleRPS      int
	WaitBudgetSec    int
	MaxRetryAttempts int
	BaseBackoffMS    int
	JitterRatio      float64

	// Выгрузки NDJSON
	ExportDir        string
	ExportThreshold  int
	ArtifactTTLHours int

	// Кэш резолвера
	ResolverCacheEnabled bool
	ResolverCacheTTLMin  int

	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	// Web Server
	WebServerEnable  bool
	WebServerAddress string

	Debug bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; сама EnvConfig после
// загрузки не мутируется.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultLogLevel          = "info"
	defaultSessionFile       = "data/history.session"
	defaultPeersDBFile       = "data/peers.bolt"
	defaultMCPTransport      = "stdio"
	defaultMCPAddress        = "127.0.0.1:8765"
	defaultMaxPageSize       = 100
	defaultInnerReadMult     = 2
	defaultHistoryScanCap    = 10000
	defaultRequestTimeoutSec = 30
	defaultThrottleRPS       = 1
	defaultWaitBudgetSec     = 60
	defaultMaxRetryAttempts  = 3
	defaultBaseBackoffMS     = 250
	defaultJitterRatio       = 0.1
	defaultExportDir         = "/tmp/mcp-resources"
	defaultExportThreshold   = 500
	defaultArtifactTTLHours  = 24
	defaultResolverCacheTTL  = 30
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
	// Web Server
	defaultWebServerEnable  = false
	defaultWebServerAddress = "127.0.0.1:8080"
)

// hardMaxPageSize — верхняя граница MAX_PAGE_SIZE. Инструмент fetch_history не
// отдаёт больше сообщений за вызов независимо от конфигурации.
const hardMaxPageSize = 100

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове:
//  1. читает .env (отсутствие файла не является ошибкой: клиенты MCP обычно
//     передают окружение напрямую при запуске процесса),
//  2. формирует EnvConfig,
//  3. фиксирует результат в singleton cfgInstance.
//
// Повторный вызов запрещён (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	cfgInstance = newCfg
	cfgDone = true
	return err
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if err := loadDotenv(envPath, &warnings); err != nil {
		return nil, err
	}

	apiID, err := parseRequiredInt("TELEGRAM_API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("TELEGRAM_API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env TELEGRAM_API_HASH must be set")
	}

	phone := strings.TrimSpace(os.Getenv("PHONE_NUMBER"))
	if phone == "" {
		return nil, errors.New("env PHONE_NUMBER must be set")
	}

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	sessionFile := sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), defaultSessionFile, &warnings)
	peersDBFile := sanitizeFile("PEERS_DB_FILE", os.Getenv("PEERS_DB_FILE"), defaultPeersDBFile, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TELEGRAM_TEST_DC")), "true")

	mcpTransport := sanitizeTransport(os.Getenv("MCP_TRANSPORT"), &warnings)
	mcpAddress := sanitizeFile("MCP_ADDRESS", os.Getenv("MCP_ADDRESS"), defaultMCPAddress, &warnings)

	maxPageSize := parseIntDefault("MAX_PAGE_SIZE", defaultMaxPageSize, greaterThanZero, &warnings)
	if maxPageSize > hardMaxPageSize {
		appendWarningf(&warnings, "env MAX_PAGE_SIZE value %d exceeds hard limit %d; clamped", maxPageSize, hardMaxPageSize)
		maxPageSize = hardMaxPageSize
	}
	innerReadMult := parseIntDefault("INNER_READ_MULTIPLIER", defaultInnerReadMult, greaterThanZero, &warnings)
	historyScanCap := parseIntDefault("HISTORY_SCAN_CAP", defaultHistoryScanCap, greaterThanZero, &warnings)
	requestTimeout := parseIntDefault("REQUEST_TIMEOUT_SECONDS", defaultRequestTimeoutSec, greaterThanZero, &warnings)

	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	waitBudget := parseIntDefault("WAIT_BUDGET_SECONDS", defaultWaitBudgetSec, greaterThanZero, &warnings)
	maxRetries := parseIntDefault("MAX_RETRY_ATTEMPTS", defaultMaxRetryAttempts, nonNegative, &warnings)
	baseBackoff := parseIntDefault("BASE_BACKOFF_MS", defaultBaseBackoffMS, greaterThanZero, &warnings)
	jitterRatio := parseFloatDefault("JITTER_RATIO", defaultJitterRatio, unitInterval, &warnings)

	exportDir := sanitizeFile("EXPORT_DIR", os.Getenv("EXPORT_DIR"), defaultExportDir, &warnings)
	exportThreshold := parseIntDefault("EXPORT_THRESHOLD", defaultExportThreshold, greaterThanZero, &warnings)
	artifactTTL := parseIntDefault("ARTIFACT_TTL_HOURS", defaultArtifactTTLHours, greaterThanZero, &warnings)

	resolverCache := parseBoolDefault("RESOLVER_CACHE_ENABLED", false, &warnings)
	resolverCacheTTL := parseIntDefault("RESOLVER_CACHE_TTL_MINUTES", defaultResolverCacheTTL, greaterThanZero, &warnings)

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	webServerEnable := parseBoolDefault("WEB_SERVER_ENABLE", defaultWebServerEnable, &warnings)
	webServerAddress := sanitizeFile("WEB_SERVER_ADDRESS", os.Getenv("WEB_SERVER_ADDRESS"),
		defaultWebServerAddress, &warnings)

	debugMode := parseBoolDefault("DEBUG", false, &warnings)

	env := EnvConfig{
		APIID:       apiID,
		APIHash:     apiHash,
		PhoneNumber: phone,
		SessionFile: sessionFile,
		PeersDBFile: peersDBFile,
		TestDC:      testDC,
		LogLevel:    logLevel,

		MCPTransport: mcpTransport,
		MCPAddress:   mcpAddress,

		MaxPageSize:       maxPageSize,
		InnerReadMult:     innerReadMult,
		HistoryScanCap:    historyScanCap,
		RequestTimeoutSec: requestTimeout,

		ThrottleRPS:      throttleRPS,
		WaitBudgetSec:    waitBudget,
		MaxRetryAttempts: maxRetries,
		BaseBackoffMS:    baseBackoff,
		JitterRatio:      jitterRatio,

		ExportDir:        exportDir,
		ExportThreshold:  exportThreshold,
		ArtifactTTLHours: artifactTTL,

		ResolverCacheEnabled: resolverCache,
		ResolverCacheTTLMin:  resolverCacheTTL,

		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,

		WebServerEnable:  webServerEnable,
		WebServerAddress: webServerAddress,

		Debug: debugMode,
	}

	cfg := &Config{
		Env:      env,
		warnings: warnings,
	}

	return cfg, nil
}

// loadDotenv читает .env-файл, если тот существует. Отсутствующий файл не
// считается ошибкой: фиксируем предупреждение и работаем с process env.
func loadDotenv(envPath string, warnings *[]string) error {
	err := godotenv.Load(envPath)
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		appendWarningf(warnings, "env file %s not found; using process environment", envPath)
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", envPath, err)
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент последней загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseFloatDefault читает name как float64 с теми же правилами подстановки
// дефолта, что и parseIntDefault.
func parseFloatDefault(name string, defaultVal float64, validator func(float64) bool, warnings *[]string) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %g", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid number; using default %g", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %g does not satisfy constraints; using default %g", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative / unitInterval — простые валидаторы чисел.
// Используются в parse*Default, чтобы навязать смысловые ограничения без
// падения приложения.
func greaterThanZero(v int) bool  { return v > 0 }
func nonNegative(v int) bool      { return v >= 0 }
func unitInterval(v float64) bool { return v >= 0 && v < 1 }

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeTransport ограничивает MCP_TRANSPORT набором {stdio, http}.
// Некорректные значения приводятся к stdio с записью предупреждения.
func sanitizeTransport(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env MCP_TRANSPORT is not set; using default %q", defaultMCPTransport)
		return defaultMCPTransport
	}
	if v == "stdio" || v == "http" {
		return v
	}
	appendWarningf(warnings, "env MCP_TRANSPORT value %q is invalid; using default %q", value, defaultMCPTransport)
	return defaultMCPTransport
}

// sanitizeFile возвращает валидное имя файла/адреса конфигурации. Если переменная
// не задана, подставляет fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
