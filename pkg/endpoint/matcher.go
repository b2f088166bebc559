package endpoint

import (
	"fmt"
	"regexp"
	"strings"
)

// PathMatcher 按名称过滤目录与文件，两组模式互相独立。
// 未配置模式时全部匹配；配置后任一模式从名称开头匹配即可
type PathMatcher struct {
	dirs  []*regexp.Regexp
	files []*regexp.Regexp
}

// NewPathMatcher 编译目录与文件模式
func NewPathMatcher(dirPatterns, filePatterns []string) (*PathMatcher, error) {
	dirs, err := compilePatterns(dirPatterns)
	if err != nil {
		return nil, fmt.Errorf("目录模式非法: %w", err)
	}
	files, err := compilePatterns(filePatterns)
	if err != nil {
		return nil, fmt.Errorf("文件模式非法: %w", err)
	}
	return &PathMatcher{dirs: dirs, files: files}, nil
}

func (m *PathMatcher) MatchDir(name string) bool {
	return m == nil || matchAny(m.dirs, name)
}

func (m *PathMatcher) MatchFile(name string) bool {
	return m == nil || matchAny(m.files, name)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(`^(?:` + p + `)`)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(patterns []*regexp.Regexp, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
