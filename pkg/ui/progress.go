package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"ftpmirror/pkg/transfer"
)

const (
	progressWidth = 30
	maxDescLen    = 50
	throttle      = 65 * time.Millisecond
)

// BarProgress 以文件数为单位显示下载进度，并与日志输出互斥。
// 每个目录对会先完成遍历再下载，因此进度条在一批文件全部完成后结束，
// 下一批发现文件时重新创建
type BarProgress struct {
	mu     sync.Mutex
	writer io.Writer
	bar    *progressbar.ProgressBar
	total  int64
}

var _ transfer.Observer = (*BarProgress)(nil)

// NewBarProgress 创建进度条实例，进度条在首个事件到达时才绘制
func NewBarProgress(writer io.Writer) *BarProgress {
	return &BarProgress{writer: writer}
}

// IsTerminal 判断 f 是否连接到终端
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func (p *BarProgress) JobDiscovered(job transfer.FileJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && p.bar.IsFinished() {
		p.bar = nil
		p.total = 0
	}
	p.total++
	if p.bar != nil {
		p.bar.ChangeMax64(p.total)
	}
}

func (p *BarProgress) JobProgress(job transfer.FileJob, percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bar := p.ensureBarLocked()
	bar.Describe(fmt.Sprintf("%3d%% %s", percent, shortenPath(job.RemotePath, maxDescLen)))
}

func (p *BarProgress) JobCompleted(job transfer.FileJob, outcome transfer.Outcome, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bar := p.ensureBarLocked()
	if bar.IsFinished() {
		return
	}
	bar.Describe(fmt.Sprintf("%-7s %s", outcome, shortenPath(job.RemotePath, maxDescLen)))
	_ = bar.Add(1)
}

func (p *BarProgress) RunFinished(transfer.Counters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && !p.bar.IsFinished() {
		_ = p.bar.Finish()
	}
	p.bar = nil
	p.total = 0
}

func (p *BarProgress) ensureBarLocked() *progressbar.ProgressBar {
	if p.bar != nil {
		return p.bar
	}
	limit := p.total
	if limit <= 0 {
		limit = 1
	}
	writer := p.writer
	p.bar = progressbar.NewOptions64(limit,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetWidth(progressWidth),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(throttle),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(writer, "\n")
		}),
	)
	return p.bar
}

// WrapWriter 返回一个 writer，保证日志输出前清除进度条，结束后重新绘制
func (p *BarProgress) WrapWriter(w io.Writer) io.Writer {
	if p == nil {
		return w
	}
	return &progressAwareWriter{
		progress: p,
		writer:   w,
	}
}

type progressAwareWriter struct {
	progress *BarProgress
	writer   io.Writer
}

func (pw *progressAwareWriter) Write(b []byte) (int, error) {
	pw.progress.mu.Lock()
	defer pw.progress.mu.Unlock()
	bar := pw.progress.bar
	active := bar != nil && !bar.IsFinished()
	if active {
		_ = bar.Clear()
	}
	n, err := pw.writer.Write(b)
	if active {
		_ = bar.RenderBlank()
	}
	return n, err
}

func shortenPath(path string, maxLen int) string {
	clean := strings.NewReplacer("\n", " ", "\r", " ").Replace(path)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	keep := maxLen - 3
	head := keep / 2
	tail := keep - head
	return string(runes[:head]) + "..." + string(runes[len(runes)-tail:])
}
