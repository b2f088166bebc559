package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ftpmirror/pkg/endpoint"
	"ftpmirror/pkg/logging"
	"ftpmirror/pkg/meta"
	"ftpmirror/pkg/notify"
	"ftpmirror/pkg/postprocess"
	"ftpmirror/pkg/transfer"
	"ftpmirror/pkg/ui"
)

// Dialer 建立到源端的连接
type Dialer func(ctx context.Context, ep endpoint.Endpoint) (endpoint.Conn, error)

type runOptions struct {
	now       func() time.Time
	dial      Dialer
	logger    *slog.Logger
	output    *os.File
	observers []transfer.Observer
}

// Option 调整 Run 的依赖，主要用于测试
type Option func(*runOptions)

func WithClock(now func() time.Time) Option {
	return func(o *runOptions) { o.now = now }
}

func WithDialer(dial Dialer) Option {
	return func(o *runOptions) { o.dial = dial }
}

// WithLogger 使用外部 logger，此时不再创建控制台与日志文件输出
func WithLogger(logger *slog.Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}

func WithObserver(obs transfer.Observer) Option {
	return func(o *runOptions) { o.observers = append(o.observers, obs) }
}

// WithOutput 指定控制台输出，默认 os.Stdout。f 由调用方负责关闭
func WithOutput(f *os.File) Option {
	return func(o *runOptions) { o.output = f }
}

type pair struct {
	Remote string
	Local  string
}

// runPlan 是按日期偏移展开后的实际目录
type runPlan struct {
	Date    string
	BaseDir string
	Pairs   []pair
}

// Run 执行一次镜像批次。只有连接失败会中止整个批次并返回 ErrConnect，
// 其余错误（包括发布失败）都体现在返回的计数中
func Run(ctx context.Context, cfg *Config, opts ...Option) (transfer.Counters, error) {
	if err := cfg.Validate(); err != nil {
		return transfer.Counters{}, err
	}
	o := runOptions{
		now: time.Now,
		dial: func(ctx context.Context, ep endpoint.Endpoint) (endpoint.Conn, error) {
			return endpoint.Open(ctx, ep)
		},
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	now := o.now()
	runID := uuid.NewString()

	var observers []transfer.Observer
	logger := o.logger
	if logger == nil {
		// 控制台输出归调用方所有，包一层避免被 logger 关闭
		stdWriter := io.Writer(struct{ io.Writer }{o.output})
		if !cfg.NoProgress && ui.IsTerminal(o.output) {
			bar := ui.NewBarProgress(o.output)
			observers = append(observers, bar)
			stdWriter = bar.WrapWriter(stdWriter)
		}
		logWriters := []io.Writer{stdWriter}
		var logPath string
		if cfg.LogDir != "" {
			file, p, err := logging.OpenDailyFile(cfg.LogDir, now)
			if err != nil {
				return transfer.Counters{}, err
			}
			logWriters = append(logWriters, file)
			logPath = p
		}
		l, err := logging.New(cfg.LogLevel, logWriters...)
		if err != nil {
			return transfer.Counters{}, err
		}
		defer l.Close()
		logger = l.Logger
		if logPath != "" {
			logger.Debug("日志写入路径", "dest", logPath)
		}
	}
	logger = logger.With("run", runID)
	observers = append(observers, transfer.LogObserver{Logger: logger})

	if cfg.HistoryDB != "" {
		history, err := meta.OpenHistory(cfg.HistoryDB)
		if err != nil {
			logger.Warn("历史库不可用，本次不记录", "err", err)
		} else {
			defer history.Close()
			observers = append(observers, newCheckpoint(history, runID, logger, o.now))
		}
	}
	if cfg.MQTT.Broker != "" {
		mq, err := notify.DialMQTT(cfg.mqttOptions(), runID, logger)
		if err != nil {
			logger.Warn("MQTT 不可用，本次不发布事件", "err", err)
		} else {
			defer mq.Close()
			observers = append(observers, mq)
		}
	}
	observers = append(observers, o.observers...)

	rc := transfer.NewRunContext(logger, transfer.MultiObserver(observers))
	defer func() {
		rc.Observer.RunFinished(rc.Counters())
	}()

	plan, err := planRun(cfg, now)
	if err != nil {
		return rc.Counters(), err
	}
	sentinel := meta.NewSentinel(cfg.SentinelFile)
	if done, err := sentinel.Contains(plan.Date); err != nil {
		logger.Warn("读取下载记录失败", "path", sentinel.Path(), "err", err)
	} else if done {
		logger.Info("already downloaded", "date", plan.Date, "base_dir", plan.BaseDir)
	}

	ep, err := endpoint.ParseEndpoint(cfg.URL, cfg.ftpOptions())
	if err != nil {
		return rc.Counters(), err
	}
	if ep.Type == endpoint.EndpointRemote && !ep.Passive {
		logger.Warn("不支持主动模式，使用被动模式连接")
	}
	logger.Debug("连接", "source", ep.DisplayName())
	conn, err := o.dial(ctx, ep)
	if err != nil {
		rc.MarkConnectError()
		logger.Error("[FAIL] 连接失败", "source", ep.DisplayName(), "err", err)
		return rc.Counters(), fmt.Errorf("%w: %w", transfer.ErrConnect, err)
	}

	mirrorErr := mirrorPairs(ctx, rc, cfg, conn, plan)
	if err := conn.Close(); err != nil {
		logger.Debug("关闭连接失败", "err", err)
	}
	if mirrorErr != nil {
		logger.Warn("镜像被中断", "err", mirrorErr)
		return rc.Counters(), mirrorErr
	}
	if cfg.DryRun {
		return rc.Counters(), nil
	}

	if err := finish(ctx, cfg, plan, sentinel, logger); err != nil {
		rc.MarkPublishError()
		logger.Error("[FAIL] 发布失败", "src", plan.BaseDir, "dest", cfg.DestDir, "err", err)
		return rc.Counters(), nil
	}
	logger.Info("[SUCCESS] 镜像完成", "source", ep.DisplayName())
	return rc.Counters(), nil
}

// mirrorPairs 依次处理每个目录对，只有 ctx 取消时返回错误
func mirrorPairs(ctx context.Context, rc *transfer.RunContext, cfg *Config, conn endpoint.Conn, plan runPlan) error {
	logger := rc.Logger
	if err := os.MkdirAll(plan.BaseDir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", transfer.ErrFilesystem, err)
	}
	originalCwd, err := conn.CurrentDir()
	if err != nil {
		originalCwd = "/"
	}
	walker := &Walker{Conn: conn, Matcher: cfg.Matcher()}
	engine := &transfer.Engine{
		Conn:       conn,
		Overwrite:  cfg.Overwrite,
		MaxRetries: cfg.Retries(),
		RetryDelay: cfg.RetryDelay,
	}
	queue := transfer.NewJobQueue()

	for _, p := range plan.Pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.ChangeDir(p.Remote); err != nil {
			rc.DirFailed()
			logger.Error("[FAIL] 无法进入远端目录", "remote", p.Remote, "err", err)
			continue
		}
		root, err := conn.CurrentDir()
		if err != nil {
			root = p.Remote
		}
		localRoot := filepath.Join(plan.BaseDir, p.Local)
		jobs, err := walker.Walk(ctx, rc, root, localRoot)
		if err != nil {
			restoreCwd(conn, originalCwd, logger)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			rc.DirFailed()
			logger.Error("[FAIL] 遍历远端目录失败", "remote", p.Remote, "err", err)
			continue
		}
		for _, job := range jobs {
			if !queue.Push(job) {
				logger.Debug("任务重复，忽略", "path", job.RemotePath)
			}
		}
		if cfg.DryRun {
			for _, job := range queue.Pending() {
				logger.Info("计划下载", "remote", job.RemotePath, "local", job.LocalPath)
			}
			for queue.Len() > 0 {
				queue.Pop()
			}
		} else if _, err := engine.Run(ctx, rc, queue); err != nil {
			restoreCwd(conn, originalCwd, logger)
			return err
		}
		restoreCwd(conn, originalCwd, logger)
		rc.DirSucceeded()
		logger.Info("[SUCCESS] 目录镜像完成", "remote", p.Remote, "local", localRoot, "files", len(jobs))
	}
	return nil
}

// finish 解压、发布并追加下载记录
func finish(ctx context.Context, cfg *Config, plan runPlan, sentinel *meta.Sentinel, logger *slog.Logger) error {
	if cfg.ExtractGzip {
		n, err := postprocess.Extract(ctx, plan.BaseDir, logger)
		if err != nil {
			logger.Warn("部分文件解压失败", "err", err)
		}
		logger.Info("解压完成", "files", n)
	}
	dest := plan.BaseDir
	publisher, err := postprocess.NewPublisher(ctx, cfg.DestDir, cfg.s3Options(), logger)
	if err != nil {
		return fmt.Errorf("初始化发布目标失败: %w", err)
	}
	if publisher != nil {
		dest, err = publisher.Publish(ctx, plan.BaseDir)
		if err != nil {
			return fmt.Errorf("发布 %s 失败: %w", plan.BaseDir, err)
		}
		logger.Info("发布完成", "dest", dest)
	}
	if err := sentinel.Append(dest); err != nil {
		logger.Warn("写入下载记录失败", "path", sentinel.Path(), "err", err)
	}
	return nil
}

func restoreCwd(conn endpoint.Conn, dir string, logger *slog.Logger) {
	if err := conn.ChangeDir(dir); err != nil {
		logger.Warn("恢复工作目录失败", "dir", dir, "err", err)
	}
}

// planRun 按 DayBefore 展开远端目录与本地根目录
func planRun(cfg *Config, now time.Time) (runPlan, error) {
	date := now.Format(logging.DateLayout)
	baseDir := cfg.BaseDir
	remotes := append([]string(nil), cfg.RemoteDirs...)
	if cfg.DayBefore > 0 {
		date = now.AddDate(0, 0, -cfg.DayBefore).Format(logging.DateLayout)
		baseDir = filepath.Join(baseDir, date)
		for i, r := range remotes {
			remotes[i] = shiftDay(r, date)
		}
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return runPlan{}, err
	}
	if len(cfg.LocalDirs) != len(remotes) {
		return runPlan{}, errors.New("local_dirs 与 remote_dirs 数量不一致")
	}
	plan := runPlan{Date: date, BaseDir: abs}
	for i, r := range remotes {
		plan.Pairs = append(plan.Pairs, pair{Remote: r, Local: cfg.LocalDirs[i]})
	}
	return plan, nil
}

// shiftDay 把日期目录加在远端路径前面
func shiftDay(remote, date string) string {
	if strings.HasPrefix(remote, "/") {
		return "/" + date + remote
	}
	return "/" + date + "/" + remote
}
