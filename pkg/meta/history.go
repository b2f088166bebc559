package meta

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const historyBucket = "history"

// Record 描述一次下载的结果，仅用于审计，不参与续传
type Record struct {
	RunID      string    `json:"run_id"`
	RemotePath string    `json:"remote_path"`
	LocalPath  string    `json:"local_path"`
	Size       int64     `json:"size,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// History 在 bbolt 中保存下载记录，key 为补零的自增序号，保证按写入顺序排列
type History struct {
	db *bbolt.DB
}

// OpenHistory 打开或创建历史库
func OpenHistory(path string) (*History, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开历史库 %s 失败: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 bucket 失败: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Append(rec Record) error {
	return h.AppendBatch([]Record{rec})
}

// AppendBatch 在一个事务内写入多条记录
func (h *History) AppendBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", historyBucket)
		}
		for _, rec := range records {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("序列化记录失败: %w", err)
			}
			if err := bucket.Put(sequenceKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// List 返回最新的 limit 条记录，按时间倒序；limit <= 0 返回全部
func (h *History) List(limit int) ([]Record, error) {
	var out []Record
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("解析记录 %s 失败: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (h *History) Close() error {
	return h.db.Close()
}

func sequenceKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
