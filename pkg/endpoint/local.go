package endpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// LocalFS 以 FTP 的方式提供本地目录：路径以 "/" 为根，并维护虚拟工作目录
type LocalFS struct {
	root string
	cwd  string
}

// NewLocalFS 创建一个 LocalFS
func NewLocalFS(root string) *LocalFS {
	return &LocalFS{root: root, cwd: "/"}
}

func (l *LocalFS) Root() string {
	return l.root
}

func (l *LocalFS) resolve(p string) string {
	if !path.IsAbs(p) {
		p = path.Join(l.cwd, p)
	}
	return path.Clean(p)
}

func (l *LocalFS) full(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(l.resolve(p)))
}

func (l *LocalFS) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(l.full(dir))
	if err != nil {
		return nil, fmt.Errorf("列出 %s 失败: %w: %v", dir, ErrUnavailable, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (l *LocalFS) CurrentDir() (string, error) {
	return l.cwd, nil
}

func (l *LocalFS) ChangeDir(dir string) error {
	target := l.resolve(dir)
	info, err := os.Stat(l.full(target))
	if err != nil {
		return fmt.Errorf("进入 %s 失败: %w: %v", dir, ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("进入 %s 失败: %w: 不是目录", dir, ErrUnavailable)
	}
	l.cwd = target
	return nil
}

func (l *LocalFS) ProbeDir(dir string) (bool, error) {
	original := l.cwd
	defer func() { l.cwd = original }()
	if err := l.ChangeDir(dir); err != nil {
		return false, nil
	}
	return true, nil
}

func (l *LocalFS) Size(p string) (int64, error) {
	info, err := os.Stat(l.full(p))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.Size(), nil
}

func (l *LocalFS) Retrieve(ctx context.Context, p string, w io.Writer) (int64, error) {
	file, err := os.Open(l.full(p))
	if err != nil {
		return 0, fmt.Errorf("打开 %s 失败: %w", p, err)
	}
	defer file.Close()
	return io.Copy(w, ctxReader{ctx: ctx, r: file})
}

func (l *LocalFS) Close() error {
	return nil
}
