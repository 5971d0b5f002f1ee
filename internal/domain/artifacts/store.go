// Package artifacts управляет NDJSON-выгрузками больших окон истории:
// создание файла с уникальным именем, выдача по непрозрачному URI и уборка по
// истечении TTL. Файлы живут в закрытом каталоге процесса, записи о них — в
// общей bbolt-базе; наружу уходит только URI без файловых путей.
package artifacts

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"telegram-history-mcp/internal/domain/messages"
	"telegram-history-mcp/internal/infra/logger"
	"telegram-history-mcp/internal/infra/metrics"
	"telegram-history-mcp/internal/infra/storage"
)

// Ошибки чтения выгрузок. Фасад превращает обе в RESOURCE_EXPIRED: после
// уборки несуществовавший и удалённый URI неразличимы.
var (
	// ErrNotFound — URI не распознан, записи нет или файл уже удалён.
	ErrNotFound = errors.New("artifact not found")
	// ErrExpired — запись есть, но срок жизни вышел.
	ErrExpired = errors.New("artifact expired")
)

const (
	uriPrefix = "mcp://resources/export/"
	uriExt    = ".ndjson"

	// orphanGrace — возраст, после которого файл без записи в реестре
	// считается осиротевшим (процесс упал между записью и регистрацией).
	orphanGrace = time.Hour
)

// artifactIDRe заодно отсекает попытки протащить путь внутри URI.
var artifactIDRe = regexp.MustCompile(`^export-[0-9a-f]{16}$`)

// WindowDescriptor связывает выгрузку с окном запроса.
type WindowDescriptor struct {
	ChatCanonical string
	WindowHash    string
}

// Store — файловое хранилище выгрузок поверх каталога dir и реестра registry.
type Store struct {
	dir      string
	ttl      time.Duration
	registry *Registry
}

// NewStore готовит каталог хранилища и возвращает Store. TTL задаёт срок
// жизни каждой новой выгрузки.
func NewStore(dir string, ttl time.Duration, registry *Registry) (*Store, error) {
	if registry == nil {
		return nil, errors.New("artifacts: registry is nil")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "artifacts: create dir %s", dir)
	}
	return &Store{dir: dir, ttl: ttl, registry: registry}, nil
}

// Create сериализует сообщения в NDJSON-файл (по одному JSON-объекту на
// строку) и регистрирует выгрузку. Возврат без ошибки означает, что файл
// полностью записан и последующий Read увидит его целиком.
func (s *Store) Create(ctx context.Context, desc WindowDescriptor, msgs []messages.Message) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	id := newArtifactID()
	path := s.filePath(id)

	af, err := storage.NewAtomicFile(path)
	if err != nil {
		return Artifact{}, errors.Wrap(err, "artifacts: open file")
	}

	counted := &countingWriter{w: af}
	buf := bufio.NewWriter(counted)
	enc := json.NewEncoder(buf)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			af.Abort()
			return Artifact{}, errors.Wrap(err, "artifacts: encode message")
		}
	}
	if err := buf.Flush(); err != nil {
		af.Abort()
		return Artifact{}, errors.Wrap(err, "artifacts: flush")
	}
	if err := af.Commit(); err != nil {
		return Artifact{}, errors.Wrap(err, "artifacts: commit file")
	}

	a := Artifact{
		ID:            id,
		URI:           uriPrefix + id + uriExt,
		CreatedAt:     time.Now().UTC(),
		TTL:           s.ttl,
		ChatCanonical: desc.ChatCanonical,
		WindowHash:    desc.WindowHash,
		SizeBytes:     counted.n,
		MessageCount:  len(msgs),
	}
	if err := s.registry.Put(a); err != nil {
		// Наполовину зарегистрированных выгрузок не бывает: без записи в
		// реестре файл не нужен.
		_ = os.Remove(path)
		return Artifact{}, err
	}

	metrics.ExportsCreated.Inc()
	logger.Debugf("artifacts: created %s (%d messages, %d bytes)", a.URI, a.MessageCount, a.SizeBytes)
	return a, nil
}

// Read открывает выгрузку по URI для потокового чтения. Вызывающий обязан
// закрыть поток.
func (s *Store) Read(uri string) (io.ReadCloser, Artifact, error) {
	id, ok := idFromURI(uri)
	if !ok {
		return nil, Artifact{}, errors.Wrapf(ErrNotFound, "bad uri %q", uri)
	}
	a, found, err := s.registry.Get(id)
	if err != nil {
		return nil, Artifact{}, err
	}
	if !found {
		return nil, Artifact{}, errors.Wrapf(ErrNotFound, "uri %q", uri)
	}
	if a.Expired(time.Now()) {
		return nil, Artifact{}, errors.Wrapf(ErrExpired, "uri %q", uri)
	}

	f, err := os.Open(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Artifact{}, errors.Wrapf(ErrNotFound, "uri %q", uri)
		}
		return nil, Artifact{}, errors.Wrap(err, "artifacts: open for read")
	}
	return f, a, nil
}

// Stats возвращает сводку по живым выгрузкам: количество и суммарный размер.
func (s *Store) Stats(now time.Time) (count int, totalBytes int64, err error) {
	records, err := s.registry.All()
	if err != nil {
		return 0, 0, err
	}
	for _, a := range records {
		if a.Expired(now) {
			continue
		}
		count++
		totalBytes += a.SizeBytes
	}
	return count, totalBytes, nil
}

// SweepOnce удаляет просроченные выгрузки и осиротевшие файлы. Удаление файла
// не мешает уже открытым читателям: unlink не трогает живые дескрипторы, поток
// дочитывается до конца.
func (s *Store) SweepOnce(now time.Time) (int, error) {
	records, err := s.registry.All()
	if err != nil {
		return 0, err
	}

	removed := 0
	known := make(map[string]struct{}, len(records))
	for _, a := range records {
		known[a.ID] = struct{}{}
		if !a.Expired(now) {
			continue
		}
		// Сначала запись, затем файл: запись без файла безвредна (Read
		// ответит ErrNotFound), файл без записи подберёт уборка сирот.
		if err := s.registry.Delete(a.ID); err != nil {
			logger.Warnf("artifacts: drop record %s: %v", a.ID, err)
			continue
		}
		if err := os.Remove(s.filePath(a.ID)); err != nil && !os.IsNotExist(err) {
			logger.Warnf("artifacts: remove %s: %v", a.ID, err)
		}
		removed++
		metrics.ExportsSwept.Inc()
	}

	removed += s.sweepOrphans(now, known)
	return removed, nil
}

// sweepOrphans удаляет файлы каталога, не числящиеся в реестре и старше
// orphanGrace: остатки прерванных записей и упавших процессов.
func (s *Store) sweepOrphans(now time.Time, known map[string]struct{}) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logger.Warnf("artifacts: scan dir: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), uriExt)
		if _, ok := known[id]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < orphanGrace {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			logger.Warnf("artifacts: remove orphan %s: %v", entry.Name(), err)
			continue
		}
		logger.Debugf("artifacts: removed orphan %s", entry.Name())
		removed++
	}
	return removed
}

func (s *Store) filePath(id string) string {
	return filepath.Join(s.dir, id+uriExt)
}

// newArtifactID выдаёт имя вида export-<16 hex>; случайная часть берётся из
// UUID, совпадения имён практически исключены.
func newArtifactID() string {
	u := uuid.New()
	return "export-" + hex.EncodeToString(u[:8])
}

func idFromURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, uriPrefix) || !strings.HasSuffix(uri, uriExt) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, uriPrefix), uriExt)
	if !artifactIDRe.MatchString(id) {
		return "", false
	}
	return id, true
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
