package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

// RemoteFS 通过 FTP 控制连接访问远端目录
type RemoteFS struct {
	endpoint Endpoint
	conn     *ftp.ServerConn
}

// DialRemote 建立 FTP 连接并登录。仅支持被动模式数据连接
func DialRemote(ctx context.Context, ep Endpoint) (*RemoteFS, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if ep.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(ep.Timeout))
	}
	conn, err := ftp.Dial(ep.Addr(), opts...)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", ep.Addr(), err)
	}
	if err := conn.Login(ep.User, ep.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("登录 %s 失败: %w", ep.Addr(), err)
	}
	r := &RemoteFS{endpoint: ep, conn: conn}
	if ep.Path != "" && ep.Path != "/" {
		if err := r.ChangeDir(ep.Path); err != nil {
			_ = conn.Quit()
			return nil, err
		}
	}
	return r, nil
}

func (r *RemoteFS) List(dir string) ([]string, error) {
	names, err := r.conn.NameList(dir)
	if err != nil {
		return nil, fmt.Errorf("列出 %s 失败: %w", dir, mapFTPError(err))
	}
	return baseNames(names), nil
}

func (r *RemoteFS) CurrentDir() (string, error) {
	return r.conn.CurrentDir()
}

func (r *RemoteFS) ChangeDir(dir string) error {
	if err := r.conn.ChangeDir(dir); err != nil {
		return fmt.Errorf("进入 %s 失败: %w", dir, mapFTPError(err))
	}
	return nil
}

func (r *RemoteFS) ProbeDir(dir string) (bool, error) {
	original, err := r.conn.CurrentDir()
	if err != nil {
		return false, fmt.Errorf("读取工作目录失败: %w", err)
	}
	if err := r.conn.ChangeDir(dir); err != nil {
		if errors.Is(mapFTPError(err), ErrUnavailable) {
			return false, nil
		}
		return false, err
	}
	if err := r.conn.ChangeDir(original); err != nil {
		return true, fmt.Errorf("恢复工作目录 %s 失败: %w", original, err)
	}
	return true, nil
}

func (r *RemoteFS) Size(p string) (int64, error) {
	size, err := r.conn.FileSize(p)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 大小失败: %w", p, mapFTPError(err))
	}
	return size, nil
}

func (r *RemoteFS) Retrieve(ctx context.Context, p string, w io.Writer) (int64, error) {
	resp, err := r.conn.Retr(p)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 失败: %w", p, mapFTPError(err))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = resp.SetDeadline(time.Now())
	})
	defer stop()

	n, copyErr := io.Copy(w, &deadlineReader{ctx: ctx, resp: resp, idle: r.endpoint.Timeout})
	closeErr := resp.Close()
	if copyErr != nil {
		// 取消时数据连接的 deadline 被提前，统一返回 ctx 的错误
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, copyErr
	}
	if closeErr != nil {
		return n, fmt.Errorf("结束传输 %s 失败: %w", p, closeErr)
	}
	return n, nil
}

func (r *RemoteFS) Close() error {
	return r.conn.Quit()
}

// deadlineReader 每次读取前刷新数据连接的空闲超时
type deadlineReader struct {
	ctx  context.Context
	resp *ftp.Response
	idle time.Duration
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if d.idle > 0 {
		if err := d.resp.SetDeadline(time.Now().Add(d.idle)); err != nil {
			return 0, err
		}
	}
	if err := d.ctx.Err(); err != nil {
		return 0, err
	}
	return d.resp.Read(p)
}

// baseNames 统一 NLST 的返回：部分服务器返回完整路径
func baseNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		base := path.Base(n)
		if base == "." || base == ".." || base == "/" || base == "" {
			continue
		}
		out = append(out, base)
	}
	return out
}

func mapFTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
