package transfer

import (
	"io"
	"log/slog"
)

// Counters 汇总一次运行的结果
type Counters struct {
	DirSuccess   int  `json:"dir_success"`
	DirFailed    int  `json:"dir_failed"`
	FileSuccess  int  `json:"file_success"`
	FileExists   int  `json:"file_exists"`
	FileFailed   int  `json:"file_failed"`
	ConnectError bool `json:"connect_error"`
	PublishError bool `json:"publish_error"`
}

// RunContext 在一次运行内传递给各组件，持有计数器、日志与事件出口
type RunContext struct {
	Logger   *slog.Logger
	Observer Observer
	counters Counters
}

// NewRunContext 创建 RunContext，nil 参数使用丢弃型实现
func NewRunContext(logger *slog.Logger, observer Observer) *RunContext {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &RunContext{Logger: logger, Observer: observer}
}

// Counters 返回当前计数的副本
func (rc *RunContext) Counters() Counters {
	return rc.counters
}

func (rc *RunContext) DirSucceeded() {
	rc.counters.DirSuccess++
}

func (rc *RunContext) DirFailed() {
	rc.counters.DirFailed++
}

func (rc *RunContext) MarkConnectError() {
	rc.counters.ConnectError = true
}

// MarkPublishError 记录下载完成后的发布失败，不影响已完成的下载计数
func (rc *RunContext) MarkPublishError() {
	rc.counters.PublishError = true
}
