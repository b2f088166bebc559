package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Conn 抽象镜像源的能力。单个连接持有工作目录状态，不可并发使用
type Conn interface {
	List(dir string) ([]string, error)
	CurrentDir() (string, error)
	ChangeDir(dir string) error
	// ProbeDir 尝试进入 dir 并恢复原工作目录；无权限或不是目录时返回 false
	ProbeDir(dir string) (bool, error)
	Size(p string) (int64, error)
	Retrieve(ctx context.Context, p string, w io.Writer) (int64, error)
	Close() error
}

// ErrUnavailable 表示路径不存在、不是目录或无权限访问
var ErrUnavailable = errors.New("file unavailable")

// Open 根据端点类型建立连接
func Open(ctx context.Context, ep Endpoint) (Conn, error) {
	switch ep.Type {
	case EndpointLocal:
		abs, err := filepath.Abs(ep.Path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("打开本地源 %s 失败: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("本地源不是目录: %s", abs)
		}
		return NewLocalFS(abs), nil
	case EndpointRemote:
		return DialRemote(ctx, ep)
	default:
		return nil, fmt.Errorf("未知端点类型")
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
