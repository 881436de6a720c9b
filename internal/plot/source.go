// Package plot 剧本来源：读取剧本目录下的 .txt 文件
package plot

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/wfunc/trpg-master/internal/errors"
)

// Ext 剧本文件扩展名
const Ext = ".txt"

// Source 剧本来源
type Source interface {
	Load(ctx context.Context, plotRef string) (string, error)
	List(ctx context.Context) ([]string, error)
}

// FileSource 基于目录的剧本来源
type FileSource struct {
	dir string
}

// NewFileSource 创建目录剧本来源，目录不存在时自动创建
func NewFileSource(dir string) (*FileSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigLoad, "创建剧本目录 %s 失败", dir)
	}
	return &FileSource{dir: dir}, nil
}

// Load 读取剧本全文，plotRef 可省略扩展名
func (s *FileSource) Load(_ context.Context, plotRef string) (string, error) {
	name, err := normalize(plotRef)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return "", errors.Newf(errors.ErrPlotNotFound, "剧本 %s 不存在", plotRef)
	}
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrPersistence, "读取剧本 %s 失败", plotRef)
	}
	if !utf8.Valid(raw) {
		return "", errors.Newf(errors.ErrInvalidParam, "剧本 %s 不是UTF-8文本", plotRef)
	}
	return string(raw), nil
}

// List 列出所有剧本文件名
func (s *FileSource) List(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+Ext))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidParam)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Base(m))
	}
	sort.Strings(out)
	return out, nil
}

// normalize 只允许目录内的 .txt 文件
func normalize(plotRef string) (string, error) {
	name := strings.TrimSpace(plotRef)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", errors.Newf(errors.ErrInvalidParam, "无效的剧本名 %q", plotRef)
	}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case "":
		name += Ext
	case Ext:
	default:
		return "", errors.Newf(errors.ErrInvalidParam, "不支持的文件格式: %s，请使用.txt文件", ext)
	}
	return name, nil
}

// Truncate 按字符数截断
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	return string([]rune(text)[:maxRunes])
}
