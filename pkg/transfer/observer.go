package transfer

import "log/slog"

// Observer 接收运行过程中的事件。所有回调都在运行所在的 goroutine 中调用
type Observer interface {
	JobDiscovered(job FileJob)
	JobProgress(job FileJob, percent int)
	JobCompleted(job FileJob, outcome Outcome, err error)
	RunFinished(counters Counters)
}

// NoopObserver 丢弃所有事件
type NoopObserver struct{}

func (NoopObserver) JobDiscovered(FileJob)                {}
func (NoopObserver) JobProgress(FileJob, int)             {}
func (NoopObserver) JobCompleted(FileJob, Outcome, error) {}
func (NoopObserver) RunFinished(Counters)                 {}

// MultiObserver 按顺序转发给多个 Observer
type MultiObserver []Observer

func (m MultiObserver) JobDiscovered(job FileJob) {
	for _, o := range m {
		o.JobDiscovered(job)
	}
}

func (m MultiObserver) JobProgress(job FileJob, percent int) {
	for _, o := range m {
		o.JobProgress(job, percent)
	}
}

func (m MultiObserver) JobCompleted(job FileJob, outcome Outcome, err error) {
	for _, o := range m {
		o.JobCompleted(job, outcome, err)
	}
}

func (m MultiObserver) RunFinished(counters Counters) {
	for _, o := range m {
		o.RunFinished(counters)
	}
}

// EventKind 区分 Event 的类型
type EventKind string

const (
	EventDiscovered EventKind = "discovered"
	EventProgress   EventKind = "progress"
	EventCompleted  EventKind = "completed"
	EventFinished   EventKind = "finished"
)

// Event 是 ChannelObserver 发出的事件
type Event struct {
	Kind     EventKind
	Job      FileJob
	Percent  int
	Outcome  Outcome
	Err      error
	Counters Counters
}

// ChannelObserver 将事件汇集到一个 channel，供其他 goroutine 消费。
// 发送会阻塞，消费方需要持续读取直到收到 EventFinished
type ChannelObserver struct {
	ch chan<- Event
}

func NewChannelObserver(ch chan<- Event) ChannelObserver {
	return ChannelObserver{ch: ch}
}

func (c ChannelObserver) JobDiscovered(job FileJob) {
	c.ch <- Event{Kind: EventDiscovered, Job: job}
}

func (c ChannelObserver) JobProgress(job FileJob, percent int) {
	c.ch <- Event{Kind: EventProgress, Job: job, Percent: percent}
}

func (c ChannelObserver) JobCompleted(job FileJob, outcome Outcome, err error) {
	c.ch <- Event{Kind: EventCompleted, Job: job, Outcome: outcome, Err: err}
}

func (c ChannelObserver) RunFinished(counters Counters) {
	c.ch <- Event{Kind: EventFinished, Counters: counters}
}

// LogObserver 把传输进度写入 debug 日志
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) JobDiscovered(FileJob) {}

func (l LogObserver) JobProgress(job FileJob, percent int) {
	l.Logger.Debug("下载进度", "path", job.RemotePath, "percent", percent)
}

func (l LogObserver) JobCompleted(FileJob, Outcome, error) {}

func (l LogObserver) RunFinished(counters Counters) {
	l.Logger.Info("运行结束",
		"dir_success", counters.DirSuccess,
		"dir_failed", counters.DirFailed,
		"file_success", counters.FileSuccess,
		"file_exists", counters.FileExists,
		"file_failed", counters.FileFailed,
		"connect_error", counters.ConnectError,
		"publish_error", counters.PublishError)
}
