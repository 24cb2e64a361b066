package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTracker(ttl time.Duration) (*Tracker, *manualClock) {
	clock := &manualClock{now: t0}
	tr := NewTracker(ttl)
	tr.now = clock.Now
	return tr, clock
}

func participants(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ParticipantID
	}
	return out
}

func TestTracker_LastWriteWins(t *testing.T) {
	tr, _ := newTracker(5 * time.Second)

	assert.True(t, tr.Observe(Event{ConversationID: "c1", ParticipantID: "jane", Name: "Jane", At: t0}))
	assert.False(t, tr.Observe(Event{ConversationID: "c1", ParticipantID: "jane", Name: "stale", At: t0.Add(-time.Second)}))
	assert.True(t, tr.Observe(Event{ConversationID: "c1", ParticipantID: "jane", Name: "Jane D", At: t0.Add(time.Second)}))

	active := tr.Active("c1")
	require.Len(t, active, 1)
	assert.Equal(t, "Jane D", active[0].Name)
	assert.Empty(t, tr.Active("other"))
}

func TestTracker_TTLEviction(t *testing.T) {
	tr, clock := newTracker(5 * time.Second)

	tr.Observe(Event{ConversationID: "c1", ParticipantID: "bob", At: t0})
	clock.Advance(3 * time.Second)
	tr.Observe(Event{ConversationID: "c1", ParticipantID: "amy", At: clock.Now()})

	assert.Equal(t, []string{"amy", "bob"}, participants(tr.Active("c1")))

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"amy"}, participants(tr.Active("c1")))
	assert.Equal(t, 1, tr.Prune())

	// 重复投递的旧事件不再接受
	assert.False(t, tr.Observe(Event{ConversationID: "c1", ParticipantID: "bob", At: t0}))
}

func TestTracker_SenderClockSkew(t *testing.T) {
	tr, clock := newTracker(5 * time.Second)

	// 发送方时钟慢 10s：到达时仍然有效
	require.True(t, tr.Observe(Event{ConversationID: "c1", ParticipantID: "slow", At: t0.Add(-10 * time.Second)}))
	// 发送方时钟快 60s：同样按本地接收时间过期
	require.True(t, tr.Observe(Event{ConversationID: "c1", ParticipantID: "fast", At: t0.Add(60 * time.Second)}))
	assert.Equal(t, []string{"fast", "slow"}, participants(tr.Active("c1")))

	clock.Advance(4 * time.Second)
	assert.Len(t, tr.Active("c1"), 2)

	clock.Advance(time.Second)
	assert.Empty(t, tr.Active("c1"))
	assert.Equal(t, 2, tr.Prune())
}

func TestTracker_RefreshExtendsFromReceipt(t *testing.T) {
	tr, clock := newTracker(5 * time.Second)

	tr.Observe(Event{ConversationID: "c1", ParticipantID: "jane", At: t0.Add(time.Hour)})
	clock.Advance(4 * time.Second)
	require.True(t, tr.Observe(Event{ConversationID: "c1", ParticipantID: "jane", At: t0.Add(time.Hour + 4*time.Second)}))

	clock.Advance(4 * time.Second)
	assert.Equal(t, []string{"jane"}, participants(tr.Active("c1")))
	clock.Advance(time.Second)
	assert.Empty(t, tr.Active("c1"))
}

func TestTracker_SubscribeReceivesSnapshots(t *testing.T) {
	tr, clock := newTracker(5 * time.Second)

	ch, cancel := tr.Subscribe("c1")
	defer cancel()

	tr.Observe(Event{ConversationID: "c1", ParticipantID: "jane", At: t0})
	assert.Equal(t, []string{"jane"}, participants(<-ch))

	tr.Observe(Event{ConversationID: "c2", ParticipantID: "bob", At: t0})
	select {
	case got := <-ch:
		t.Fatalf("unexpected snapshot for other conversation: %v", got)
	default:
	}

	clock.Advance(6 * time.Second)
	tr.Prune()
	assert.Empty(t, <-ch)
}

func TestTracker_SlowSubscriberGetsLatest(t *testing.T) {
	tr, _ := newTracker(5 * time.Second)
	ch, cancel := tr.Subscribe("c1")
	defer cancel()

	tr.Observe(Event{ConversationID: "c1", ParticipantID: "a", At: t0})
	tr.Observe(Event{ConversationID: "c1", ParticipantID: "b", At: t0})
	tr.Clear("c1", "a")

	assert.Equal(t, []string{"b"}, participants(<-ch))
}

func TestTracker_CancelClosesChannel(t *testing.T) {
	tr, _ := newTracker(time.Second)
	ch, cancel := tr.Subscribe("c1")
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestTracker_RunStopsWithContext(t *testing.T) {
	tr := NewTracker(20 * time.Millisecond)
	tr.Observe(Event{ConversationID: "c1", ParticipantID: "jane", At: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(tr.Active("c1")) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []Event
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, v.(Event))
	return nil
}

func TestBroadcaster_Debounce(t *testing.T) {
	pub := &recordingPublisher{}
	clock := &manualClock{now: t0}
	b := NewBroadcaster(pub, "me", "Me", 2*time.Second)
	b.now = clock.Now

	b.Touch("c1")
	clock.Advance(time.Second)
	b.Touch("c1")
	b.Touch("c2")
	clock.Advance(time.Second)
	b.Touch("c1")

	assert.Equal(t, []string{"chatsync.typing.c1", "chatsync.typing.c2", "chatsync.typing.c1"}, pub.subjects)
	assert.Equal(t, "me", pub.events[0].ParticipantID)
	assert.Equal(t, t0.Add(2*time.Second), pub.events[2].At)
}
