package typing

import (
	"log/slog"
	"sync"
	"time"

	"sudooom.im.chatsync/internal/nats"
)

// DefaultDebounce 同一会话两次广播的最小间隔
const DefaultDebounce = 2 * time.Second

// Publisher 发布输入事件，由 nats.Client 实现
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Broadcaster 广播本地输入活动（带防抖）
type Broadcaster struct {
	publisher     Publisher
	participantID string
	name          string
	debounce      time.Duration
	now           func() time.Time

	mu   sync.Mutex
	last map[string]time.Time

	logger *slog.Logger
}

// NewBroadcaster 创建输入广播器
func NewBroadcaster(publisher Publisher, participantID, name string, debounce time.Duration) *Broadcaster {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Broadcaster{
		publisher:     publisher,
		participantID: participantID,
		name:          name,
		debounce:      debounce,
		now:           time.Now,
		last:          make(map[string]time.Time),
		logger:        slog.Default(),
	}
}

// Touch 本地有输入，防抖窗口内的重复调用被合并
func (b *Broadcaster) Touch(conversationID string) {
	now := b.now()

	b.mu.Lock()
	if last, ok := b.last[conversationID]; ok && now.Sub(last) < b.debounce {
		b.mu.Unlock()
		return
	}
	b.last[conversationID] = now
	b.mu.Unlock()

	ev := Event{
		ConversationID: conversationID,
		ParticipantID:  b.participantID,
		Name:           b.name,
		At:             now,
	}
	if err := b.publisher.PublishJSON(nats.TypingSubject(conversationID), ev); err != nil {
		b.logger.Warn("Failed to broadcast typing", "conversationId", conversationID, "error", err)
	}
}

// Listen 订阅所有会话的输入事件写入 tracker，忽略自己的事件
func Listen(client *nats.Client, tracker *Tracker, selfID string) (func(), error) {
	sub, err := nats.SubscribeJSON(client, nats.SubjectTypingAll, func(subject string, ev Event) {
		if ev.ParticipantID == selfID || ev.ConversationID == "" {
			return
		}
		tracker.Observe(ev)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
