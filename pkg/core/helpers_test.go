package core

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ftpmirror/pkg/transfer"
)

func makeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

// syncBuffer 供 logger 并发写入
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func bufferLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collectObserver struct {
	transfer.NoopObserver
	discovered []string
	completed  []string
	finished   []transfer.Counters
}

func (c *collectObserver) JobDiscovered(job transfer.FileJob) {
	c.discovered = append(c.discovered, job.RemotePath)
}

func (c *collectObserver) JobCompleted(job transfer.FileJob, outcome transfer.Outcome, err error) {
	c.completed = append(c.completed, job.RemotePath+":"+outcome.String())
}

func (c *collectObserver) RunFinished(counters transfer.Counters) {
	c.finished = append(c.finished, counters)
}
