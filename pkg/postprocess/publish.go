package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Publisher 把本次下载的目录转移到最终位置，返回写入哨兵文件的目标路径
type Publisher interface {
	Publish(ctx context.Context, src string) (string, error)
}

// S3Options 对应配置中的 s3 段
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewPublisher 根据目标选择实现：s3://bucket/prefix 上传到对象存储，其余视为本地目录。
// dest 为空时返回 nil
func NewPublisher(ctx context.Context, dest string, opts S3Options, logger *slog.Logger) (Publisher, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return nil, nil
	}
	if strings.HasPrefix(dest, "s3://") {
		bucket, prefix, err := parseS3URL(dest)
		if err != nil {
			return nil, err
		}
		client, err := newS3Client(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &S3Publisher{
			Uploader: manager.NewUploader(client),
			Bucket:   bucket,
			Prefix:   prefix,
			Logger:   logger,
		}, nil
	}
	return &LocalPublisher{DestDir: dest, Logger: logger}, nil
}

// LocalPublisher 将目录移动到 DestDir/<目录名>，已存在的同名目录会被替换
type LocalPublisher struct {
	DestDir string
	Logger  *slog.Logger
}

func (l *LocalPublisher) Publish(ctx context.Context, src string) (string, error) {
	if err := os.MkdirAll(l.DestDir, 0o755); err != nil {
		return "", fmt.Errorf("创建目标目录失败: %w", err)
	}
	target := filepath.Join(l.DestDir, filepath.Base(src))
	if sameFile(src, target) {
		return target, nil
	}
	if _, err := os.Stat(target); err == nil {
		l.Logger.Debug("目标已存在，先删除", "path", target)
		if err := os.RemoveAll(target); err != nil {
			return "", fmt.Errorf("删除 %s 失败: %w", target, err)
		}
	}
	err := os.Rename(src, target)
	if err == nil {
		l.Logger.Debug("移动完成", "src", src, "dest", target)
		return target, nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return "", err
	}
	// 跨文件系统时 rename 失败，改为复制后删除
	l.Logger.Debug("rename 失败，改为复制", "src", src, "dest", target, "err", err)
	if err := copyTree(ctx, src, target); err != nil {
		return "", fmt.Errorf("复制 %s 到 %s 失败: %w", src, target, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return target, fmt.Errorf("删除源目录失败: %w", err)
	}
	return target, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher 把目录上传到 s3://Bucket/Prefix/<目录名>/，全部成功后删除本地目录
type S3Publisher struct {
	Uploader uploader
	Bucket   string
	Prefix   string
	Logger   *slog.Logger
}

func (s *S3Publisher) Publish(ctx context.Context, src string) (string, error) {
	base := path.Join(s.Prefix, filepath.Base(src))
	var uploaded int
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		key := path.Join(base, filepath.ToSlash(rel))
		if err := s.uploadFile(ctx, p, key); err != nil {
			return fmt.Errorf("上传 %s 失败: %w", p, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return "", err
	}
	target := "s3://" + s.Bucket + "/" + base
	s.Logger.Info("上传完成", "dest", target, "files", uploaded)
	if err := os.RemoveAll(src); err != nil {
		return target, fmt.Errorf("删除本地目录失败: %w", err)
	}
	return target, nil
}

func (s *S3Publisher) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = s.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	return err
}

func parseS3URL(raw string) (string, string, error) {
	rest := strings.TrimPrefix(raw, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 地址缺少 bucket: %s", raw)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func newS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID:     opts.AccessKey,
				SecretAccessKey: opts.SecretKey,
			},
		}))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}
	if opts.Endpoint != "" {
		return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}), nil
	}
	return s3.NewFromConfig(awsConfig), nil
}
