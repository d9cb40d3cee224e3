package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"buglens/pkg/domain"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return io.ErrShortWrite
	}
	m.mu.Lock()
	m.objects[key] = data
	m.types[key] = contentType
	m.mu.Unlock()
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func TestAnalysisArchiveStoresCompressedRecord(t *testing.T) {
	objects := newMemObjects()
	archive := NewAnalysisArchive(objects, "/artifacts/")
	analysis := domain.Analysis{
		ID:         "01HZY0000000000000000000AB",
		UserID:     "user-1",
		Language:   "C#",
		ErrorLogs:  strings.Repeat("System.NullReferenceException at Foo.Bar()\n", 200),
		SourceCode: "var x = obj.ToString();",
		RootCause:  "obj is null",
		CreatedAt:  time.Date(2025, 4, 9, 10, 0, 0, 0, time.UTC),
		Success:    true,
	}

	key, err := archive.Archive(context.Background(), analysis)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasPrefix(key, "artifacts/user-1/2025/04/01HZY0000000000000000000AB-") || !strings.HasSuffix(key, ".json.zst") {
		t.Fatalf("unexpected key %q", key)
	}
	if objects.types[key] != archiveContentType {
		t.Fatalf("unexpected content type %q", objects.types[key])
	}
	if len(objects.objects[key]) >= len(analysis.ErrorLogs) {
		t.Fatalf("expected repetitive payload to compress, got %d bytes", len(objects.objects[key]))
	}

	back, err := archive.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if back.ID != analysis.ID || back.ErrorLogs != analysis.ErrorLogs || !back.CreatedAt.Equal(analysis.CreatedAt) {
		t.Fatalf("archived record differs: %+v", back)
	}
}

func TestAnalysisArchiveLoadMissing(t *testing.T) {
	archive := NewAnalysisArchive(newMemObjects(), "")
	if _, err := archive.Load(context.Background(), "analyses/none"); err != ErrObjectNotFound {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
