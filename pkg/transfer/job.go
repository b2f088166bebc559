package transfer

import (
	"path/filepath"

	"github.com/google/uuid"
)

// FileJob 描述一个远端文件到本地路径的映射
type FileJob struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	LocalDir   string `json:"local_dir"`
	// TempPath 与 LocalPath 同目录，保证 rename 在同一文件系统内完成
	TempPath string `json:"temp_path"`
}

// NewFileJob 创建任务并派生本地目录与唯一的临时文件名
func NewFileJob(remotePath, localPath string) FileJob {
	localDir := filepath.Dir(localPath)
	return FileJob{
		RemotePath: remotePath,
		LocalPath:  localPath,
		LocalDir:   localDir,
		TempPath:   filepath.Join(localDir, "."+uuid.NewString()+".part"),
	}
}

func (j FileJob) String() string {
	return j.RemotePath
}

// Outcome 表示单个任务的最终结果
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAlreadyExists
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAlreadyExists:
		return "exists"
	default:
		return "failed"
	}
}

// FailedJob 记录重试耗尽的任务及最后一次错误
type FailedJob struct {
	Job FileJob
	Err error
}

// JobQueue 按发现顺序保存待下载任务，FIFO 消费。
// 待处理队列中相同的 (RemotePath, LocalPath) 只保留一份
type JobQueue struct {
	pending   []FileJob
	index     map[jobKey]struct{}
	completed []FileJob
	failed    []FailedJob
}

type jobKey struct {
	remote string
	local  string
}

// NewJobQueue 创建空队列
func NewJobQueue() *JobQueue {
	return &JobQueue{index: make(map[jobKey]struct{})}
}

// Push 追加任务，已在队列中的重复任务返回 false
func (q *JobQueue) Push(job FileJob) bool {
	key := jobKey{remote: job.RemotePath, local: job.LocalPath}
	if _, ok := q.index[key]; ok {
		return false
	}
	q.index[key] = struct{}{}
	q.pending = append(q.pending, job)
	return true
}

// Pop 取出最早发现的任务
func (q *JobQueue) Pop() (FileJob, bool) {
	if len(q.pending) == 0 {
		return FileJob{}, false
	}
	job := q.pending[0]
	q.pending[0] = FileJob{}
	q.pending = q.pending[1:]
	delete(q.index, jobKey{remote: job.RemotePath, local: job.LocalPath})
	return job, true
}

func (q *JobQueue) Len() int {
	return len(q.pending)
}

func (q *JobQueue) Pending() []FileJob {
	return append([]FileJob(nil), q.pending...)
}

// Completed 返回本次运行中实际传输成功的任务
func (q *JobQueue) Completed() []FileJob {
	return append([]FileJob(nil), q.completed...)
}

func (q *JobQueue) Failed() []FailedJob {
	return append([]FailedJob(nil), q.failed...)
}

func (q *JobQueue) markCompleted(job FileJob) {
	q.completed = append(q.completed, job)
}

func (q *JobQueue) markFailed(job FileJob, err error) {
	q.failed = append(q.failed, FailedJob{Job: job, Err: err})
}
