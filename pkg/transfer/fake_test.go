package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

var errInjected = errors.New("injected failure")

// fakeConn 以内存 map 模拟远端；failures 记录每个路径剩余的失败次数
type fakeConn struct {
	mu        sync.Mutex
	files     map[string][]byte
	failures  map[string]int
	sizeErr   bool
	shortSize map[string]bool
	calls     map[string]int
	onRead    func(p string)
}

func newFakeConn(files map[string]string) *fakeConn {
	c := &fakeConn{
		files:     make(map[string][]byte),
		failures:  make(map[string]int),
		shortSize: make(map[string]bool),
		calls:     make(map[string]int),
	}
	for k, v := range files {
		c.files[k] = []byte(v)
	}
	return c
}

func (c *fakeConn) List(string) ([]string, error) { return nil, nil }
func (c *fakeConn) CurrentDir() (string, error)   { return "/", nil }
func (c *fakeConn) ChangeDir(string) error        { return nil }
func (c *fakeConn) ProbeDir(string) (bool, error) { return false, nil }
func (c *fakeConn) Close() error                  { return nil }

func (c *fakeConn) Size(p string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sizeErr {
		return 0, errors.New("SIZE not supported")
	}
	data, ok := c.files[p]
	if !ok {
		return 0, fmt.Errorf("no such file: %s", p)
	}
	if c.shortSize[p] {
		return int64(len(data)) + 1, nil
	}
	return int64(len(data)), nil
}

func (c *fakeConn) Retrieve(ctx context.Context, p string, w io.Writer) (int64, error) {
	c.mu.Lock()
	c.calls[p]++
	data, ok := c.files[p]
	fail := c.failures[p]
	if fail > 0 {
		c.failures[p] = fail - 1
	}
	onRead := c.onRead
	c.mu.Unlock()

	if onRead != nil {
		onRead(p)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no such file: %s", p)
	}
	if fail > 0 {
		// 先写入一半数据再失败，模拟连接中断
		n, _ := w.Write(data[:len(data)/2])
		return int64(n), errInjected
	}
	return io.Copy(w, bytes.NewReader(data))
}

func (c *fakeConn) retrieveCalls(p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[p]
}

// recordObserver 记录所有事件，供断言使用
type recordObserver struct {
	NoopObserver
	discovered []FileJob
	progress   map[string][]int
	completed  []Event
	finished   []Counters
}

func newRecordObserver() *recordObserver {
	return &recordObserver{progress: make(map[string][]int)}
}

func (r *recordObserver) JobDiscovered(job FileJob) {
	r.discovered = append(r.discovered, job)
}

func (r *recordObserver) JobProgress(job FileJob, percent int) {
	r.progress[job.RemotePath] = append(r.progress[job.RemotePath], percent)
}

func (r *recordObserver) JobCompleted(job FileJob, outcome Outcome, err error) {
	r.completed = append(r.completed, Event{Kind: EventCompleted, Job: job, Outcome: outcome, Err: err})
}

func (r *recordObserver) RunFinished(counters Counters) {
	r.finished = append(r.finished, counters)
}
