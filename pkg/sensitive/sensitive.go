package sensitive

import (
	"fmt"
	"os"
	"strings"

	"github.com/importcjj/sensitive"
)

// Word 敏感词过滤器，英文词统一按小写匹配
type Word struct {
	Filter *sensitive.Filter
}

// NewWord 创建过滤器，dictPath 为空时只使用 extraWords
func NewWord(dictPath string, extraWords ...string) (*Word, error) {
	filter := sensitive.New()

	if dictPath != "" {
		if _, err := os.Stat(dictPath); err != nil {
			return nil, fmt.Errorf("sensitive dict %s: %w", dictPath, err)
		}
		if err := filter.LoadWordDict(dictPath); err != nil {
			return nil, fmt.Errorf("load sensitive dict: %w", err)
		}
	}

	words := make([]string, 0, len(extraWords))
	for _, w := range extraWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			words = append(words, w)
		}
	}
	if len(words) > 0 {
		filter.AddWord(words...)
	}

	return &Word{
		Filter: filter,
	}, nil
}

// Validate 返回是否通过以及命中的第一个词
func (w *Word) Validate(content string) (bool, string) {
	return w.Filter.Validate(strings.ToLower(content))
}

// FindAll 返回命中的全部敏感词
func (w *Word) FindAll(content string) []string {
	return w.Filter.FindAll(strings.ToLower(content))
}

func (w *Word) Replace(content string, replChar rune) string {
	return w.Filter.Replace(content, replChar)
}
