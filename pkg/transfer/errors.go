package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrConnect 连接或登录失败，整个批次中止
	ErrConnect = errors.New("connect failed")
	// ErrDirectoryAccess 无法进入或列出目录，只影响该目录
	ErrDirectoryAccess = errors.New("directory access failed")
	// ErrTransfer 单次传输失败，可重试
	ErrTransfer = errors.New("transfer failed")
	// ErrFilesystem 本地磁盘错误，按传输错误重试
	ErrFilesystem = errors.New("local filesystem error")
	// ErrSizeMismatch 接收字节数与远端大小不一致
	ErrSizeMismatch = fmt.Errorf("%w: size mismatch", ErrTransfer)
)
