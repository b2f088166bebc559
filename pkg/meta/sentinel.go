package meta

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel 是一个只追加的文本文件，每次完成的批次写入一行目标路径
type Sentinel struct {
	path string
}

func NewSentinel(path string) *Sentinel {
	return &Sentinel{path: path}
}

func (s *Sentinel) Path() string {
	return s.path
}

// Contains 判断是否有任意一行包含 needle，文件不存在视为不包含
func (s *Sentinel) Contains(needle string) (bool, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), needle) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("读取 %s 失败: %w", s.path, err)
	}
	return false, nil
}

// Append 追加一行，必要时创建父目录
func (s *Sentinel) Append(line string) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
