package mention

import (
	"fmt"
	"regexp"
	"strings"

	"sudooom.im.chatsync/internal/model"
)

// Strictness 提交时提及提取的校验强度
type Strictness int

const (
	// Loose 报告所有 "@First Last" 形状的片段，不校验参与者
	Loose Strictness = iota
	// Strict 只报告与参与者展示名匹配的片段
	Strict
)

// ParseStrictness 从配置字符串解析
func ParseStrictness(s string) (Strictness, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "loose":
		return Loose, nil
	case "strict":
		return Strict, nil
	}
	return Loose, fmt.Errorf("unknown mention strictness %q", s)
}

func (s Strictness) String() string {
	if s == Strict {
		return "strict"
	}
	return "loose"
}

var extractPattern = regexp.MustCompile(`@(\p{Lu}[\p{L}'-]* \p{Lu}[\p{L}'-]*)`)

// Extract 从消息内容中提取提及目标（去掉 @，去重，保持出现顺序）
func Extract(content string, strictness Strictness, roster []model.Participant) []string {
	matches := extractPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	known := make(map[string]bool, len(roster))
	for _, p := range roster {
		known[strings.ToLower(p.DisplayName)] = true
	}

	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		if strictness == Strict && !known[strings.ToLower(name)] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
