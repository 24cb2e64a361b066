package typing

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultTTL 输入状态有效期
const DefaultTTL = 5 * time.Second

// Event 一次输入活动
type Event struct {
	ConversationID string    `json:"conversationId"`
	ParticipantID  string    `json:"participantId"`
	Name           string    `json:"name"`
	At             time.Time `json:"at"`
}

// entry 本地收到的活动；过期按本地接收时间计算，At 只用于新旧比较
type entry struct {
	ev         Event
	receivedAt time.Time
}

// Tracker 按会话维护正在输入的参与者
// 每个参与者只保留最新一次活动，本地收到后超过 TTL 自动移除。
type Tracker struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	states map[string]map[string]entry
	last   map[string]map[string]time.Time // 每个参与者见过的最新 At，过期后仍保留
	subs   map[string]map[int]chan []Event
	nextID int
}

// NewTracker 创建输入状态跟踪器
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:    ttl,
		now:    time.Now,
		states: make(map[string]map[string]entry),
		last:   make(map[string]map[string]time.Time),
		subs:   make(map[string]map[int]chan []Event),
	}
}

// Observe 记录输入活动，不比同一参与者已见过的事件新的被忽略
// 发送方时钟与本地可能不一致，因此不按 At 判断过期。
func (t *Tracker) Observe(ev Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen, ok := t.last[ev.ConversationID]
	if !ok {
		seen = make(map[string]time.Time)
		t.last[ev.ConversationID] = seen
	}
	if prev, ok := seen[ev.ParticipantID]; ok && !ev.At.After(prev) {
		return false
	}
	seen[ev.ParticipantID] = ev.At

	byParticipant, ok := t.states[ev.ConversationID]
	if !ok {
		byParticipant = make(map[string]entry)
		t.states[ev.ConversationID] = byParticipant
	}
	_, existed := byParticipant[ev.ParticipantID]
	byParticipant[ev.ParticipantID] = entry{ev: ev, receivedAt: t.now()}
	if !existed {
		t.publish(ev.ConversationID)
	}
	return true
}

// Clear 参与者停止输入（例如消息已发送）
func (t *Tracker) Clear(conversationID, participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byParticipant := t.states[conversationID]
	if _, ok := byParticipant[participantID]; !ok {
		return
	}
	delete(byParticipant, participantID)
	t.publish(conversationID)
}

// Active 当前仍在有效期内的输入者，按参与者 id 排序
func (t *Tracker) Active(conversationID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(conversationID)
}

func (t *Tracker) activeLocked(conversationID string) []Event {
	now := t.now()
	out := make([]Event, 0, len(t.states[conversationID]))
	for _, e := range t.states[conversationID] {
		if now.Sub(e.receivedAt) < t.ttl {
			out = append(out, e.ev)
		}
	}
	slices.SortFunc(out, func(a, b Event) int { return strings.Compare(a.ParticipantID, b.ParticipantID) })
	return out
}

// Subscribe 订阅会话输入者变化，返回取消函数
// 通道只保留最新快照，消费慢时中间状态被合并。
func (t *Tracker) Subscribe(conversationID string) (<-chan []Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan []Event, 1)
	id := t.nextID
	t.nextID++

	if t.subs[conversationID] == nil {
		t.subs[conversationID] = make(map[int]chan []Event)
	}
	t.subs[conversationID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs[conversationID], id)
			if len(t.subs[conversationID]) == 0 {
				delete(t.subs, conversationID)
			}
			close(ch)
		})
	}
}

// publish 推送最新快照，调用方持有锁
func (t *Tracker) publish(conversationID string) {
	subs := t.subs[conversationID]
	if len(subs) == 0 {
		return
	}
	snapshot := t.activeLocked(conversationID)
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// Prune 移除过期记录并通知受影响的会话
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for conversationID, byParticipant := range t.states {
		changed := false
		for id, e := range byParticipant {
			if now.Sub(e.receivedAt) >= t.ttl {
				delete(byParticipant, id)
				changed = true
				removed++
			}
		}
		if len(byParticipant) == 0 {
			delete(t.states, conversationID)
		}
		if changed {
			t.publish(conversationID)
		}
	}
	return removed
}

// Run 周期性清理，直到 ctx 取消
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(max(t.ttl/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Prune()
		}
	}
}
