package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EndpointType 表示端点类型：本地目录或 FTP 服务器
type EndpointType int

const (
	EndpointLocal EndpointType = iota
	EndpointRemote
)

const (
	DefaultFTPPort    = 21
	anonymousUser     = "anonymous"
	anonymousPassword = "anonymous@"
)

// FTPOptions 对应配置中与连接相关的参数
type FTPOptions struct {
	Port     int
	User     string
	Password string
	Passive  bool
	Timeout  time.Duration
}

// Endpoint 描述镜像的源端
type Endpoint struct {
	Type     EndpointType
	Host     string
	Port     int
	User     string
	Password string
	Path     string
	Passive  bool
	Timeout  time.Duration
}

// ParseEndpoint 识别 file:// 本地目录或 FTP 地址，地址中的用户信息优先于 opts
func ParseEndpoint(raw string, opts FTPOptions) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errors.New("空地址")
	}
	if strings.HasPrefix(raw, "file://") {
		p := strings.TrimPrefix(raw, "file://")
		if p == "" {
			return Endpoint{}, fmt.Errorf("本地路径为空: %s", raw)
		}
		return Endpoint{Type: EndpointLocal, Path: filepath.Clean(filepath.FromSlash(p))}, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "ftp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("地址格式非法: %s: %w", raw, err)
	}
	if u.Scheme != "ftp" {
		return Endpoint{}, fmt.Errorf("不支持的协议: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Endpoint{}, fmt.Errorf("地址缺少主机名: %s", raw)
	}
	port := opts.Port
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Endpoint{}, fmt.Errorf("端口非法: %s", p)
		}
		port = n
	}
	if port == 0 {
		port = DefaultFTPPort
	}
	user, password := opts.User, opts.Password
	if u.User != nil {
		user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			password = pw
		}
	}
	if user == "" {
		user = anonymousUser
		if password == "" {
			password = anonymousPassword
		}
	}
	return Endpoint{
		Type:     EndpointRemote,
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Path:     u.Path,
		Passive:  opts.Passive,
		Timeout:  opts.Timeout,
	}, nil
}

// Addr 返回 host:port
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// DisplayName 返回用于日志显示的端点名，不包含密码
func (e Endpoint) DisplayName() string {
	if e.Type == EndpointRemote {
		return fmt.Sprintf("ftp://%s@%s%s", e.User, e.Addr(), e.Path)
	}
	return e.Path
}
