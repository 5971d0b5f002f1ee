// Package storage — утилиты безопасной работы с локальным хранилищем.
// В этом файле реализованы:
//   - EnsureDir — гарантирует наличие директории для целевого пути;
//   - AtomicWriteFile — атомарная запись файла с синхронизацией данных и метаданных;
//   - AtomicFile — потоковый вариант той же схемы для больших файлов.
//
// Используется для хранения MTProto-сессий и NDJSON-выгрузок, где недопустимы
// частично записанные файлы.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"telegram-history-mcp/internal/infra/logger"
)

// DefaultFilePerm — права, выставляемые на файлы данных (сессии, bolt-базы,
// итоговые файлы атомарной записи). Значение 0o600 ограничивает доступ только
// владельцу процесса.
const DefaultFilePerm = 0600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
// Создание выполняется с правами 0o700, ошибки оборачиваются с указанием каталога.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает байты в файл path.
//
// Алгоритм: temp в той же директории → write → fsync(temp) → chmod(DefaultFilePerm)
// → close → rename → fsync(dir). Это гарантирует, что либо старый файл остаётся
// цел, либо новый записан полностью. Важно: os.Rename атомарен только в пределах
// одного файлового тома. fsync каталога выполняется по принципу best-effort и
// может игнорироваться некоторыми ОС/ФС, но заметно повышает надёжность метаданных.
// Права на итоговый файл задаются значением DefaultFilePerm (0o600).
func AtomicWriteFile(path string, data []byte) error {
	// Нормализуем путь и работаем только с очищённым значением.
	clean := filepath.Clean(path)
	// Гарантируем существование каталога.
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	var tmp *os.File
	// Создаём temp в том же каталоге, чтобы rename был атомарным.
	if tmpFile, err := os.CreateTemp(dir, "atomic-*.tmp"); err != nil {
		return fmt.Errorf("create temp file: %w", err)
	} else {
		tmp = tmpFile
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	// Пишем данные.
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	// Синхронизируем содержимое temp на диск.
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	// Выставляем права для будущего целевого файла.
	if err := tmp.Chmod(DefaultFilePerm); err != nil {
		// Не критично, но лучше не скрывать проблему прав.
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	// Закрываем — теперь можно переименовывать.
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Атомарная замена: на POSIX rename поверх существующего файла — атомарна.
	// Важно: path должен лежать на том же файловом томе, что и temp.
	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	syncDir(dir, "AtomicWriteFile")
	return nil
}

// AtomicFile — потоковый вариант AtomicWriteFile для больших файлов (например,
// NDJSON-выгрузок истории): данные пишутся во временный файл порциями, Commit
// атомарно переименовывает его в целевой путь, Abort удаляет временный файл.
// Полузаписанный артефакт никогда не появляется под целевым именем.
type AtomicFile struct {
	tmp    *os.File
	target string
	done   bool
}

// NewAtomicFile подготавливает временный файл в каталоге целевого пути.
// До Commit целевой файл не затрагивается.
func NewAtomicFile(path string) (*AtomicFile, error) {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(clean), "atomic-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &AtomicFile{tmp: tmp, target: clean}, nil
}

// Write дописывает порцию данных во временный файл. Реализует io.Writer.
func (a *AtomicFile) Write(p []byte) (int, error) {
	return a.tmp.Write(p)
}

// Name возвращает целевой путь, под которым файл появится после Commit.
func (a *AtomicFile) Name() string {
	return a.target
}

// Commit завершает запись: fsync → chmod → close → rename → fsync(dir).
// После Commit (или Abort) объект использовать нельзя.
func (a *AtomicFile) Commit() error {
	if a.done {
		return fmt.Errorf("atomic file %s already finalized", a.target)
	}
	a.done = true

	tmpName := a.tmp.Name()
	if err := a.tmp.Sync(); err != nil {
		_ = a.tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := a.tmp.Chmod(DefaultFilePerm); err != nil {
		_ = a.tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := a.tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, a.target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	syncDir(filepath.Dir(a.target), "AtomicFile")
	return nil
}

// Abort отбрасывает незавершённую запись и удаляет временный файл.
// Идемпотентен; после Commit ничего не делает.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	tmpName := a.tmp.Name()
	_ = a.tmp.Close()
	_ = os.Remove(tmpName)
}

// syncDir выполняет best-effort fsync каталога: журналирование записи имени
// файла повышает надёжность метаданных после rename.
func syncDir(dir, caller string) {
	dirFile, err := os.Open(dir)
	if err != nil {
		return
	}
	if errSync := dirFile.Sync(); errSync != nil {
		logger.Warnf("%s: dir sync error: %v", caller, errSync) // best-effort для Windows/некоторых FS
	}
	_ = dirFile.Close()
}
