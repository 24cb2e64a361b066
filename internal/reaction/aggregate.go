package reaction

import (
	"strconv"

	"sudooom.im.chatsync/internal/model"
)

// Count 某种回应的数量
type Count struct {
	Kind  model.ReactionKind `json:"kind" yaml:"kind"`
	Count int                `json:"count" yaml:"count"`
}

// Counts 按类型统计，未知类型忽略
func Counts(reactions []model.Reaction) map[model.ReactionKind]int {
	counts := make(map[model.ReactionKind]int, len(model.ReactionKinds))
	for _, r := range reactions {
		if !r.Kind.Valid() {
			continue
		}
		counts[r.Kind]++
	}
	return counts
}

// Aggregate 按固定类型顺序输出非零计数，与输入顺序无关
func Aggregate(reactions []model.Reaction) []Count {
	counts := Counts(reactions)

	out := make([]Count, 0, len(counts))
	for _, kind := range model.ReactionKinds {
		if n := counts[kind]; n > 0 {
			out = append(out, Count{Kind: kind, Count: n})
		}
	}
	return out
}

// HasReacted actor 是否已对该消息做出 kind 回应（用于切换高亮）
func HasReacted(reactions []model.Reaction, actor model.Sender, kind model.ReactionKind) bool {
	key := actor.Key()
	for _, r := range reactions {
		if r.Kind == kind && r.Reactor.Key() == key {
			return true
		}
	}
	return false
}

// CountReplies 统计每个线程根消息的回复数
func CountReplies(messages []model.Message) map[string]int {
	counts := make(map[string]int)
	for _, m := range messages {
		if m.ParentID != "" {
			counts[m.ParentID]++
		}
	}
	return counts
}

// ThreadLabel 线程回复数标签
func ThreadLabel(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return "1 reply"
	default:
		return strconv.Itoa(n) + " replies"
	}
}
