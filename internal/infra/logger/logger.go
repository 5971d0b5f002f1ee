// Package logger — централизованная обёртка над zap для всего приложения.
// Консольный вывод по умолчанию идёт в stderr: при stdio-транспорте MCP stdout
// принадлежит протоколу, и любая посторонняя строка там ломает клиента.
// Дополнительно поддерживается файловый приёмник с ротацией (lumberjack),
// включаемый конфигурацией. Уровни управляются динамически через zap.AtomicLevel,
// mutex защищает пересборку ядра.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu защищает доступ к глобальному состоянию логгера от одновременных изменений.
	mu sync.Mutex
	// log хранит текущий экземпляр zap.Logger, используемый во всём приложении.
	log *zap.Logger
	// logLevel управляет уровнем консольного вывода без пересоздания ядра.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// fileLevel управляет уровнем файлового вывода; обычно ниже консольного.
	fileLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	// encoderCfg содержит настройки форматирования сообщений и обновляется при инициализации.
	encoderCfg = defaultEncoderConfig()
	// consoleWriter определяет поток консольного вывода логов (stderr, см. комментарий пакета).
	consoleWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	// errWriter — поток для внутренних ошибок самого zap.
	errWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	// fileSink — приёмник файлового логирования; nil, пока EnableFile не вызван.
	fileSink zapcore.WriteSyncer
)

// FileConfig описывает параметры файлового лога с ротацией.
type FileConfig struct {
	Path       string // путь к файлу; пустая строка отключает файловый лог
	Level      string // debug|info|warn|error
	MaxSizeMB  int    // максимальный размер одного файла до ротации
	MaxBackups int    // число хранимых ротаций
	MaxAgeDays int    // возраст ротаций в днях
	Compress   bool   // сжимать ли ротации gzip-ом
}

// defaultEncoderConfig формирует консольный encoder с цветами и коротким caller.
// Формат времени фиксирован (YYYY-MM-DD HH:MM:SS). Для машинной обработки можно перейти на JSON-encoder.
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig повторяет консольный формат, но без ANSI-цветов:
// файл читается grep-ом и вьюверами, цветовые коды там только мешают.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := defaultEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// parseLevel переводит строковый уровень в zapcore.Level. Неизвестные значения
// трактуются как info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// rebuildLoggerLocked пересоздаёт глобальный логгер с текущими настройками потоков и уровнями.
// Предполагается, что вызывающий уже удерживает mu. AddCallerSkip(1) скрывает обёртки logger.*
// в стеке вызовов. Перед заменой предыдущий логгер аккуратно Sync(), чтобы сбросить буферы.
func rebuildLoggerLocked() {
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), consoleWriter, logLevel)
	core := consoleCore
	if fileSink != nil {
		fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig()), fileSink, fileLevel)
		core = zapcore.NewTee(consoleCore, fileCore)
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(errWriter))
}

// Init инициализирует глобальный zap-логгер и настраивает консольный уровень.
// Допустимые уровни: debug, info (по умолчанию), warn, error. Значение сравнивается без учёта регистра.
// Encoder берётся из defaultEncoderConfig. Потокобезопасно.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	logLevel.SetLevel(parseLevel(level))
	encoderCfg = defaultEncoderConfig()
	rebuildLoggerLocked()
}

// EnableFile подключает файловый приёмник с ротацией через lumberjack и пересобирает ядро.
// Пустой Path — no-op: файловый лог остаётся выключенным. Повторный вызов заменяет приёмник.
func EnableFile(fc FileConfig) {
	if strings.TrimSpace(fc.Path) == "" {
		return
	}

	mu.Lock()
	defer mu.Unlock()

	fileLevel.SetLevel(parseLevel(fc.Level))
	fileSink = zapcore.AddSync(&lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	})
	rebuildLoggerLocked()
}

// SetWriters переназначает целевые потоки логгера и пересобирает core.
// Можно вызывать в рантайме. Nil означает stderr по умолчанию. Потокобезопасно.
func SetWriters(console, errOut io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if console == nil {
		consoleWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		consoleWriter = zapcore.Lock(zapcore.AddSync(console))
	}
	if errOut == nil {
		errWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		errWriter = zapcore.Lock(zapcore.AddSync(errOut))
	}

	rebuildLoggerLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
// Возвращается "сырое" API (не Sugared); предпочтительнее передавать структурированные zap.Field.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled проверяет, включен ли debug уровень консольного логирования.
func IsDebugEnabled() bool {
	return Logger().Level() <= zap.DebugLevel
}

// Sync сбрасывает буферы текущего логгера. Вызывается при завершении приложения.
func Sync() {
	_ = Logger().Sync()
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение уровня Warn.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке уровня Error.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет структурированное сообщение уровня Fatal и завершает процесс (семантика zap).
func Fatal(msg string, fields ...zap.Field) { Logger().Fatal(msg, fields...) }

// Debugf форматирует сообщение через fmt.Sprintf. Используйте экономно:
// форматирование аллоцирует; для горячих путей предпочтительны структурированные поля.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует сообщение через fmt.Sprintf. Для горячих путей лучше использовать Info с полями.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует сообщение через fmt.Sprintf. Предпочтительнее передавать данные через zap.Field.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует сообщение через fmt.Sprintf. В критичных участках используйте Error с полями.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
