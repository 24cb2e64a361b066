package model

// ReactionKind 回应类型（固定枚举）
type ReactionKind string

const (
	ReactionLike      ReactionKind = "like"
	ReactionLove      ReactionKind = "love"
	ReactionLaugh     ReactionKind = "laugh"
	ReactionWow       ReactionKind = "wow"
	ReactionSad       ReactionKind = "sad"
	ReactionCelebrate ReactionKind = "celebrate"
)

// ReactionKinds 展示顺序
var ReactionKinds = []ReactionKind{
	ReactionLike,
	ReactionLove,
	ReactionLaugh,
	ReactionWow,
	ReactionSad,
	ReactionCelebrate,
}

// Valid 是否为已知回应类型
func (k ReactionKind) Valid() bool {
	for _, kind := range ReactionKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Reaction 消息回应
type Reaction struct {
	MessageID string       `json:"messageId"`
	Reactor   Sender       `json:"reactor"`
	Kind      ReactionKind `json:"kind"`
}
