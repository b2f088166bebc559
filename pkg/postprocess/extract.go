package postprocess

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type decoderFunc func(r io.Reader) (io.ReadCloser, error)

var decoders = map[string]decoderFunc{
	".gz": func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	},
	".zst": func(r io.Reader) (io.ReadCloser, error) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	},
}

// Extract 解压 root 下所有 .gz / .zst 文件到去掉后缀的同名文件，成功后删除压缩包。
// 单个文件失败只记录日志，返回成功解压的数量与最后一个错误
func Extract(ctx context.Context, root string, logger *slog.Logger) (int, error) {
	var archives []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := decoders[filepath.Ext(d.Name())]; ok {
			archives = append(archives, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("扫描 %s 失败: %w", root, err)
	}

	var count int
	var lastErr error
	for _, archive := range archives {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		target, err := extractFile(archive)
		if err != nil {
			logger.Error("解压失败", "path", archive, "err", err)
			lastErr = err
			continue
		}
		logger.Debug("解压完成", "path", target)
		count++
	}
	return count, lastErr
}

func extractFile(archive string) (string, error) {
	ext := filepath.Ext(archive)
	target := strings.TrimSuffix(archive, ext)
	src, err := os.Open(archive)
	if err != nil {
		return "", err
	}
	defer src.Close()
	reader, err := decoders[ext](src)
	if err != nil {
		return "", fmt.Errorf("读取 %s 失败: %w", archive, err)
	}
	defer reader.Close()

	tmp := filepath.Join(filepath.Dir(target), "."+uuid.NewString()+".part")
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer cleanupTempFile(tmp)
	if _, err := io.Copy(dst, reader); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", err
	}
	if err := os.Remove(archive); err != nil {
		return target, err
	}
	return target, nil
}

func cleanupTempFile(p string) {
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		slog.Warn("清理临时文件失败", "path", p, "err", err)
	}
}
