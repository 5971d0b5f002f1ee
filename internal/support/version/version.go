// Package version хранит метаданные сборки historymcp.
// Значения подставляются через -ldflags при сборке релиза; значения по
// умолчанию соответствуют dev-запуску из рабочего дерева.
package version

// Version — версия приложения (semver либо "dev"). Подставляется при сборке:
//
//	go build -ldflags "-X telegram-history-mcp/internal/support/version.Version=v0.3.0"
var Version = "dev"
