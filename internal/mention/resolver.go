package mention

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"sudooom.im.chatsync/internal/model"
)

// MaxCandidates 候选列表展示上限
const MaxCandidates = 5

// triggerPattern 光标前的 @ 触发串：@ 后接一个词，可再跟一个空格和非空的第二个词
// 已补全的单词名后面的空格不会重新打开候选。
var triggerPattern = regexp.MustCompile(`(?:^|\s)@((?:[\p{L}\p{N}_]+(?: [\p{L}\p{N}_]+)?)?)$`)

// Resolver 输入框 @ 提及建议状态
type Resolver struct {
	roster []model.Participant

	text       string
	open       bool
	start      int // 触发 @ 的位置（rune 下标）
	cursor     int // 光标位置（rune 下标）
	query      string
	candidates []model.Participant
	highlight  int
}

// NewResolver 创建提及解析器，roster 不应包含自己
func NewResolver(roster []model.Participant) *Resolver {
	return &Resolver{roster: roster}
}

// SetRoster 更新参与者列表，并按当前文本重新计算
func (r *Resolver) SetRoster(roster []model.Participant) {
	r.roster = roster
	if r.open {
		r.Update(r.text, r.cursor)
	}
}

// Update 文本或光标变化时调用
func (r *Resolver) Update(text string, cursor int) {
	runes := []rune(text)
	if cursor < 0 || cursor > len(runes) {
		cursor = len(runes)
	}
	r.text = text
	r.cursor = cursor

	before := string(runes[:cursor])
	loc := triggerPattern.FindStringSubmatchIndex(before)
	if loc == nil {
		r.close()
		return
	}

	// loc[2] 为捕获组起点，@ 就在它前面
	at := loc[2] - 1
	r.start = utf8.RuneCountInString(before[:at])
	r.query = before[loc[2]:loc[3]]
	r.candidates = r.filter(r.query)
	r.highlight = 0
	r.open = len(r.candidates) > 0
}

// filter 按展示名大小写不敏感的子串匹配
func (r *Resolver) filter(query string) []model.Participant {
	q := strings.ToLower(strings.TrimRight(query, " "))

	matches := make([]model.Participant, 0, MaxCandidates)
	for _, p := range r.roster {
		if !strings.Contains(strings.ToLower(p.DisplayName), q) {
			continue
		}
		matches = append(matches, p)
		if len(matches) == MaxCandidates {
			break
		}
	}
	return matches
}

// Open 是否正在展示候选
func (r *Resolver) Open() bool {
	return r.open
}

// Query 当前触发串（不含 @）
func (r *Resolver) Query() string {
	if !r.open {
		return ""
	}
	return r.query
}

// Candidates 当前候选列表
func (r *Resolver) Candidates() []model.Participant {
	if !r.open {
		return nil
	}
	out := make([]model.Participant, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Highlighted 当前高亮下标，未打开时为 -1
func (r *Resolver) Highlighted() int {
	if !r.open {
		return -1
	}
	return r.highlight
}

// Move 移动高亮，越界时停在两端（不循环）
func (r *Resolver) Move(delta int) {
	if !r.open {
		return
	}
	r.highlight = min(max(r.highlight+delta, 0), len(r.candidates)-1)
}

// Select 选中候选：把 @触发串 替换为 "@全名 "，返回新文本和光标
func (r *Resolver) Select(index int) (string, int, bool) {
	if !r.open || index < 0 || index >= len(r.candidates) {
		return r.text, r.cursor, false
	}

	runes := []rune(r.text)
	insert := []rune("@" + r.candidates[index].DisplayName + " ")

	out := make([]rune, 0, len(runes)+len(insert))
	out = append(out, runes[:r.start]...)
	out = append(out, insert...)
	out = append(out, runes[r.cursor:]...)

	cursor := r.start + len(insert)
	text := string(out)

	r.text = text
	r.cursor = cursor
	r.close()

	return text, cursor, true
}

// SelectHighlighted 选中高亮的候选
func (r *Resolver) SelectHighlighted() (string, int, bool) {
	return r.Select(r.highlight)
}

// Cancel 显式关闭建议
func (r *Resolver) Cancel() {
	r.close()
}

func (r *Resolver) close() {
	r.open = false
	r.query = ""
	r.candidates = nil
	r.highlight = 0
}
