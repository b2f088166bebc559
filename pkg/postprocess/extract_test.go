package postprocess

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeGzip(t *testing.T, p, content string) {
	t.Helper()
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
}

func writeZstd(t *testing.T, p, content string) {
	t.Helper()
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("zstd write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zstd close: %v", err)
	}
}

func TestExtractDecompressesArchives(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "A", "B")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeGzip(t, filepath.Join(root, "A", "x.h5.gz"), "gzip payload")
	writeZstd(t, filepath.Join(sub, "y.dat.zst"), "zstd payload")
	if err := os.WriteFile(filepath.Join(root, "plain.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	n, err := Extract(context.Background(), root, discardLogger())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 2 {
		t.Fatalf("extracted %d, want 2", n)
	}
	for p, want := range map[string]string{
		filepath.Join(root, "A", "x.h5"): "gzip payload",
		filepath.Join(sub, "y.dat"):      "zstd payload",
		filepath.Join(root, "plain.txt"): "keep",
	} {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if string(data) != want {
			t.Fatalf("%s = %q", p, data)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "A", "x.h5.gz")); !os.IsNotExist(err) {
		t.Fatalf("archive should be removed")
	}
}

func TestExtractKeepsGoingAfterCorruptArchive(t *testing.T) {
	root := t.TempDir()
	bad := filepath.Join(root, "bad.gz")
	if err := os.WriteFile(bad, []byte("not gzip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeGzip(t, filepath.Join(root, "good.gz"), "ok")

	n, err := Extract(context.Background(), root, discardLogger())
	if err == nil {
		t.Fatalf("expected error for corrupt archive")
	}
	if n != 1 {
		t.Fatalf("extracted %d, want 1", n)
	}
	if _, err := os.Stat(bad); err != nil {
		t.Fatalf("corrupt archive should be left in place: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".part" {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}
