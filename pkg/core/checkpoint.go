package core

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"ftpmirror/pkg/meta"
	"ftpmirror/pkg/transfer"
)

type historyStore interface {
	AppendBatch(records []meta.Record) error
}

// checkpoint 缓存下载结果，按间隔批量写入历史库，运行结束时全部落盘
type checkpoint struct {
	transfer.NoopObserver
	store         historyStore
	runID         string
	logger        *slog.Logger
	now           func() time.Time
	mu            sync.Mutex
	pending       []meta.Record
	lastFlush     time.Time
	flushInterval time.Duration
}

func newCheckpoint(store historyStore, runID string, logger *slog.Logger, now func() time.Time) *checkpoint {
	return &checkpoint{
		store:         store,
		runID:         runID,
		logger:        logger,
		now:           now,
		lastFlush:     now(),
		flushInterval: 3 * time.Second,
	}
}

func (c *checkpoint) JobCompleted(job transfer.FileJob, outcome transfer.Outcome, err error) {
	rec := meta.Record{
		RunID:      c.runID,
		RemotePath: job.RemotePath,
		LocalPath:  job.LocalPath,
		Outcome:    outcome.String(),
		FinishedAt: c.now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if outcome != transfer.OutcomeFailed {
		if info, statErr := os.Stat(job.LocalPath); statErr == nil {
			rec.Size = info.Size()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, rec)
	if c.now().Sub(c.lastFlush) >= c.flushInterval {
		if err := c.flushLocked(); err != nil {
			c.logger.Warn("写入下载历史失败", "err", err)
		}
	}
}

func (c *checkpoint) RunFinished(transfer.Counters) {
	if err := c.Flush(); err != nil {
		c.logger.Warn("写入下载历史失败", "err", err)
	}
}

func (c *checkpoint) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *checkpoint) flushLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	if c.store == nil {
		return errors.New("history store not configured")
	}
	if err := c.store.AppendBatch(c.pending); err != nil {
		return err
	}
	c.pending = nil
	c.lastFlush = c.now()
	return nil
}
