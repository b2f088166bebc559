package transfer

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"ftpmirror/pkg/endpoint"
)

const (
	progressStep  = 5
	maxRetryDelay = 2 * time.Minute
)

// Engine 顺序消费 JobQueue：先写临时文件，完成后原子 rename
type Engine struct {
	Conn       endpoint.Conn
	Overwrite  bool
	MaxRetries int
	RetryDelay time.Duration
}

// Run 处理队列直到为空。只有 ctx 取消时返回错误，未处理的任务留在队列中
func (e *Engine) Run(ctx context.Context, rc *RunContext, q *JobQueue) (Counters, error) {
	for {
		if err := ctx.Err(); err != nil {
			rc.Logger.Warn("下载被取消", "pending", q.Len())
			return rc.Counters(), err
		}
		job, ok := q.Pop()
		if !ok {
			return rc.Counters(), nil
		}
		e.process(ctx, rc, q, job)
	}
}

func (e *Engine) process(ctx context.Context, rc *RunContext, q *JobQueue, job FileJob) {
	if !e.Overwrite {
		if _, err := os.Stat(job.LocalPath); err == nil {
			rc.Logger.Debug("文件已存在，跳过", "path", job.LocalPath)
			rc.counters.FileExists++
			rc.counters.FileSuccess++
			rc.Observer.JobCompleted(job, OutcomeAlreadyExists, nil)
			return
		}
	}

	attempts := e.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for remaining := attempts; remaining > 0; remaining-- {
		if retry := attempts - remaining; retry > 0 {
			delay := retryBackoff(retry-1, e.RetryDelay)
			rc.Logger.Debug("下载出错，准备重试", "path", job.RemotePath, "remaining", remaining, "delay", delay, "err", lastErr)
			if err := sleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		n, err := e.transfer(ctx, rc, job)
		if err == nil {
			rc.counters.FileSuccess++
			q.markCompleted(job)
			rc.Logger.Info("[SUCCESS] 下载成功", "path", job.LocalPath, "size", n)
			rc.Observer.JobCompleted(job, OutcomeSuccess, nil)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	rc.counters.FileFailed++
	q.markFailed(job, lastErr)
	rc.Logger.Error("[FAIL] 下载失败", "path", job.LocalPath, "remote", job.RemotePath, "err", lastErr)
	rc.Observer.JobCompleted(job, OutcomeFailed, lastErr)
}

// transfer 执行一次尝试，无论结果如何都会清理临时文件
func (e *Engine) transfer(ctx context.Context, rc *RunContext, job FileJob) (int64, error) {
	if err := os.MkdirAll(job.LocalDir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: 创建目录 %s: %w", ErrFilesystem, job.LocalDir, err)
	}
	defer func() {
		if err := os.Remove(job.TempPath); err != nil && !os.IsNotExist(err) {
			rc.Logger.Warn("清理临时文件失败", "path", job.TempPath, "err", err)
		}
	}()

	file, err := os.OpenFile(job.TempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: 创建临时文件: %w", ErrFilesystem, err)
	}
	total, err := e.Conn.Size(job.RemotePath)
	if err != nil {
		rc.Logger.Debug("无法获取远端大小，不报告进度", "path", job.RemotePath, "err", err)
		total = -1
	}
	writer := &progressWriter{w: file, job: job, total: total, observer: rc.Observer}
	n, err := e.Conn.Retrieve(ctx, job.RemotePath, writer)
	if err != nil {
		file.Close()
		return n, fmt.Errorf("%w: %s: %w", ErrTransfer, job.RemotePath, err)
	}
	if total >= 0 && n != total {
		file.Close()
		return n, fmt.Errorf("%w: %s 期望 %d 字节，实际 %d", ErrSizeMismatch, job.RemotePath, total, n)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return n, fmt.Errorf("%w: %w", ErrFilesystem, err)
	}
	if err := file.Close(); err != nil {
		return n, fmt.Errorf("%w: %w", ErrFilesystem, err)
	}
	if err := os.Rename(job.TempPath, job.LocalPath); err != nil {
		return n, fmt.Errorf("%w: %w", ErrFilesystem, err)
	}
	return n, nil
}

// progressWriter 每前进 progressStep 个百分点上报一次，远端大小未知时不上报
type progressWriter struct {
	w           io.Writer
	job         FileJob
	total       int64
	written     int64
	lastPercent int
	observer    Observer
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.total > 0 {
		percent := int(p.written * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent-p.lastPercent >= progressStep {
			p.lastPercent = percent
			p.observer.JobProgress(p.job, percent)
		}
	}
	return n, err
}

// retryBackoff 指数退避，抖动范围为 75%~125%
func retryBackoff(retry int, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry > 10 {
		retry = 10
	}
	delay := base * (1 << uint(retry))
	jitter := time.Duration(float64(delay) * (0.75 + 0.5*rand.Float64()))
	if jitter > maxRetryDelay {
		jitter = maxRetryDelay
	}
	return jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
