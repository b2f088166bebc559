package core

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"ftpmirror/pkg/endpoint"
	"ftpmirror/pkg/transfer"
)

// Walker 深度优先遍历远端目录，按发现顺序生成下载任务
type Walker struct {
	Conn    endpoint.Conn
	Matcher *endpoint.PathMatcher
}

// Walk 从 remoteRoot 开始遍历，本地路径镜像到 localRoot 下。
// 根目录无法列出时返回 ErrDirectoryAccess；子目录失败只计数并继续
func (w *Walker) Walk(ctx context.Context, rc *transfer.RunContext, remoteRoot, localRoot string) ([]transfer.FileJob, error) {
	names, err := w.Conn.List(remoteRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", transfer.ErrDirectoryAccess, remoteRoot, err)
	}
	var jobs []transfer.FileJob
	if err := w.walkEntries(ctx, rc, remoteRoot, localRoot, names, &jobs); err != nil {
		return jobs, err
	}
	return jobs, nil
}

func (w *Walker) walkDir(ctx context.Context, rc *transfer.RunContext, remoteDir, localDir string, jobs *[]transfer.FileJob) error {
	names, err := w.Conn.List(remoteDir)
	if err != nil {
		rc.DirFailed()
		rc.Logger.Error("[FAIL] 列出目录失败", "path", remoteDir, "err", err)
		return nil
	}
	return w.walkEntries(ctx, rc, remoteDir, localDir, names, jobs)
}

func (w *Walker) walkEntries(ctx context.Context, rc *transfer.RunContext, remoteDir, localDir string, names []string, jobs *[]transfer.FileJob) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == "" || name == "." || name == ".." {
			continue
		}
		remote := path.Join(remoteDir, name)
		local := filepath.Join(localDir, name)
		if w.isDir(rc, name, remote) {
			if !w.Matcher.MatchDir(name) {
				rc.Logger.Debug("目录不匹配，跳过", "path", remote)
				continue
			}
			if err := w.walkDir(ctx, rc, remote, local, jobs); err != nil {
				return err
			}
			continue
		}
		if !w.Matcher.MatchFile(name) {
			rc.Logger.Debug("文件不匹配，跳过", "path", remote)
			continue
		}
		job := transfer.NewFileJob(remote, local)
		*jobs = append(*jobs, job)
		rc.Observer.JobDiscovered(job)
	}
	return nil
}

// isDir 名称倒数第四个字符为 "." 时直接视为文件，否则尝试进入目录确认
func (w *Walker) isDir(rc *transfer.RunContext, name, remote string) bool {
	if looksLikeFile(name) {
		return false
	}
	ok, err := w.Conn.ProbeDir(remote)
	if err != nil {
		rc.Logger.Debug("探测目录出错", "path", remote, "is_dir", ok, "err", err)
	}
	return ok
}

func looksLikeFile(name string) bool {
	runes := []rune(name)
	return len(runes) >= 4 && runes[len(runes)-4] == '.'
}
