package model

// ConversationType 会话类型
type ConversationType string

const (
	ConversationDirect        ConversationType = "direct"
	ConversationGroup         ConversationType = "group"
	ConversationChannel       ConversationType = "channel"
	ConversationClientSupport ConversationType = "client_support"
)

// Valid 是否为已知会话类型
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationChannel, ConversationClientSupport:
		return true
	}
	return false
}

// ParticipantKind 参与者类型
type ParticipantKind string

const (
	ParticipantUser   ParticipantKind = "user"
	ParticipantClient ParticipantKind = "client"
)

// Participant 会话参与者
type Participant struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"displayName"`
	Kind        ParticipantKind `json:"kind"`
}

// Sender 返回参与者对应的发送者身份
func (p Participant) Sender() Sender {
	if p.Kind == ParticipantClient {
		return Sender{ClientID: p.ID}
	}
	return Sender{UserID: p.ID}
}

// Conversation 会话快照（由后端持有，本地只读）
type Conversation struct {
	ID             string           `json:"id"`
	Type           ConversationType `json:"type"`
	Title          string           `json:"title,omitempty"`
	Participants   []Participant    `json:"participants"`
	AllowReactions bool             `json:"allowReactions"`
	AllowThreads   bool             `json:"allowThreads"`
	IsMuted        bool             `json:"isMuted"`
	IsPinned       bool             `json:"isPinned"`
}

// Roster 返回除 self 之外的参与者，保持原有顺序
func (c *Conversation) Roster(self Sender) []Participant {
	roster := make([]Participant, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Sender().Key() == self.Key() {
			continue
		}
		roster = append(roster, p)
	}
	return roster
}
