package artifacts_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"telegram-history-mcp/internal/domain/artifacts"
	"telegram-history-mcp/internal/domain/messages"
)

func newTestStore(t *testing.T, ttl time.Duration) (*artifacts.Store, string) {
	t.Helper()

	base := t.TempDir()
	db, err := bbolt.Open(filepath.Join(base, "registry.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("open bbolt: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg, err := artifacts.NewRegistry(db)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	dir := filepath.Join(base, "exports")
	store, err := artifacts.NewStore(dir, ttl, reg)
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return store, dir
}

func sampleMessages(n int) []messages.Message {
	out := make([]messages.Message, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, messages.Message{
			ID:        1001 + i,
			Date:      "2024-03-01T10:00:00Z",
			DateUnix:  1709287200 + int64(i),
			Text:      "release notes",
			MediaType: messages.KindText,
		})
	}
	return out
}

func testDescriptor() artifacts.WindowDescriptor {
	return artifacts.WindowDescriptor{ChatCanonical: "-1001234567890", WindowHash: "a1b2c3d4e5f60718"}
}

func TestCreateAndReadBack(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, time.Hour)
	msgs := sampleMessages(3)

	a, err := store.Create(context.Background(), testDescriptor(), msgs)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !strings.HasPrefix(a.URI, "mcp://resources/export/") || !strings.HasSuffix(a.URI, ".ndjson") {
		t.Fatalf("Create() uri = %q, want mcp://resources/export/*.ndjson", a.URI)
	}
	if strings.Contains(a.URI, string(os.PathSeparator)+"exports") {
		t.Fatalf("Create() uri %q leaks a filesystem path", a.URI)
	}
	if a.MessageCount != 3 || a.SizeBytes <= 0 || a.TTL != time.Hour {
		t.Fatalf("Create() metadata = %+v", a)
	}
	if a.ChatCanonical != "-1001234567890" || a.WindowHash != "a1b2c3d4e5f60718" {
		t.Fatalf("Create() descriptor = %+v", a)
	}

	rc, got, err := store.Read(a.URI)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	defer func() { _ = rc.Close() }()
	if got.ID != a.ID {
		t.Fatalf("Read() record id = %q, want %q", got.ID, a.ID)
	}

	var lines []messages.Message
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		var m messages.Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("line %d is not JSON: %v", len(lines)+1, err)
		}
		lines = append(lines, m)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("read %d lines, want 3", len(lines))
	}
	for i, m := range lines {
		if m.ID != 1001+i {
			t.Fatalf("line %d id = %d, want %d", i, m.ID, 1001+i)
		}
	}
}

func TestCreateUniqueURIs(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, time.Hour)
	seen := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		a, err := store.Create(context.Background(), testDescriptor(), sampleMessages(1))
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		if _, dup := seen[a.URI]; dup {
			t.Fatalf("Create() returned duplicate uri %q", a.URI)
		}
		seen[a.URI] = struct{}{}
	}
}

func TestReadRejectsBadURIs(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, time.Hour)

	cases := []struct {
		name string
		uri  string
	}{
		{name: "unknownArtifact", uri: "mcp://resources/export/export-0000000000000000.ndjson"},
		{name: "foreignScheme", uri: "file:///etc/passwd"},
		{name: "pathTraversal", uri: "mcp://resources/export/../../secret.ndjson"},
		{name: "empty", uri: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := store.Read(tc.uri)
			if !errors.Is(err, artifacts.ErrNotFound) {
				t.Fatalf("Read(%q) error = %v, want ErrNotFound", tc.uri, err)
			}
		})
	}
}

func TestReadExpired(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, time.Nanosecond)
	a, err := store.Create(context.Background(), testDescriptor(), sampleMessages(1))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	_, _, err = store.Read(a.URI)
	if !errors.Is(err, artifacts.ErrExpired) {
		t.Fatalf("Read() error = %v, want ErrExpired", err)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t, time.Minute)
	first, err := store.Create(context.Background(), testDescriptor(), sampleMessages(2))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := store.Create(context.Background(), testDescriptor(), sampleMessages(2)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	removed, err := store.SweepOnce(time.Now())
	if err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("SweepOnce() before expiry removed %d, want 0", removed)
	}

	removed, err = store.SweepOnce(time.Now().Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("SweepOnce() removed %d, want 2", removed)
	}
	if _, _, err := store.Read(first.URI); !errors.Is(err, artifacts.ErrNotFound) {
		t.Fatalf("Read() after sweep error = %v, want ErrNotFound", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("export dir still holds %d files after sweep", len(entries))
	}
}

func TestSweepKeepsOpenReaders(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, time.Minute)
	a, err := store.Create(context.Background(), testDescriptor(), sampleMessages(50))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rc, _, err := store.Read(a.URI)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	defer func() { _ = rc.Close() }()

	if _, err := store.SweepOnce(time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}

	// Файл уже убран, но открытый дескриптор дочитывается целиком.
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read after sweep: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 50 {
		t.Fatalf("read %d lines after sweep, want 50", got)
	}
}

func TestSweepCollectsOrphans(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t, time.Hour)

	stale := filepath.Join(dir, "export-deadbeefdeadbeef.ndjson")
	if err := os.WriteFile(stale, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write stale orphan: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := filepath.Join(dir, "atomic-12345.tmp")
	if err := os.WriteFile(fresh, []byte("partial"), 0o600); err != nil {
		t.Fatalf("write fresh orphan: %v", err)
	}

	removed, err := store.SweepOnce(time.Now())
	if err != nil {
		t.Fatalf("SweepOnce() error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("SweepOnce() removed %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale orphan still present: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh temp file must survive: %v", err)
	}
}
