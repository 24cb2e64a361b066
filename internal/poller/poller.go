package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sudooom.im.chatsync/internal/metrics"
	"sudooom.im.chatsync/internal/model"
)

const (
	// DefaultInterval 默认轮询间隔
	DefaultInterval = 3 * time.Second
	// DefaultLimit 默认拉取条数
	DefaultLimit = 50
	// NotifyContentRunes 通知内容截断长度
	NotifyContentRunes = 100
)

// State 轮询状态
type State int32

const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// Fetcher 拉取顶层消息列表（按时间正序）
type Fetcher interface {
	FetchMessages(ctx context.Context, conversationID string, opts model.FetchOptions) ([]model.Message, error)
}

// Sink 拉取结果的接收方，通常是会话
type Sink interface {
	// Reconcile 整体替换本地列表，返回上一次快照的条数（不含本地变更）
	// startedAt 为本次拉取发起的时间，用于判断快照是否早于本地发送
	Reconcile(fetched []model.Message, startedAt time.Time) (previousCount int)
	// NotificationsAllowed 视图在后台且允许通知
	NotificationsAllowed() bool
}

// Notifier 新消息通知
type Notifier interface {
	Notify(ctx context.Context, senderName, content string) error
}

// Config 轮询配置
type Config struct {
	Interval time.Duration
	Limit    int
	Actor    model.Sender // 本地用户，自己的消息不通知
	Now      func() time.Time
}

// Poller 会话轮询器：Idle / Fetching 两状态，同一时刻最多一个拉取
type Poller struct {
	conversationID string
	fetcher        Fetcher
	sink           Sink
	notifier       Notifier
	config         Config

	state atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.RWMutex

	logger *slog.Logger
}

// NewPoller 创建轮询器，notifier 可以为 nil
func NewPoller(conversationID string, fetcher Fetcher, sink Sink, notifier Notifier, config Config) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Limit <= 0 {
		config.Limit = DefaultLimit
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Poller{
		conversationID: conversationID,
		fetcher:        fetcher,
		sink:           sink,
		notifier:       notifier,
		config:         config,
		logger:         slog.Default().With("conversationId", conversationID),
	}
}

// Start 启动轮询，立即拉取一次，之后按间隔拉取
func (p *Poller) Start() error {
	p.runningMu.Lock()
	if p.running {
		p.runningMu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.runningMu.Unlock()

	p.wg.Add(1)
	go p.tickLoop(p.ctx)

	p.logger.Debug("Poller started", "interval", p.config.Interval, "limit", p.config.Limit)
	return nil
}

// tickLoop 时钟循环协程
func (p *Poller) tickLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// Stop 停止轮询并等待循环协程退出，进行中的拉取结果被丢弃
func (p *Poller) Stop() {
	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.running = false
	p.runningMu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.logger.Debug("Poller stopped")
}

// IsRunning 是否运行中
func (p *Poller) IsRunning() bool {
	p.runningMu.RLock()
	defer p.runningMu.RUnlock()
	return p.running
}

// State 当前状态
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Refresh 立即拉取一次；已有拉取在进行或轮询已停止时返回 false
func (p *Poller) Refresh(ctx context.Context) bool {
	if !p.IsRunning() {
		return false
	}
	return p.poll(ctx)
}

// poll 执行一次拉取与合并
func (p *Poller) poll(ctx context.Context) bool {
	if !p.state.CompareAndSwap(int32(Idle), int32(Fetching)) {
		metrics.PollFetches.WithLabelValues("skipped").Inc()
		return false
	}
	defer p.state.Store(int32(Idle))

	startedAt := p.config.Now()
	fetched, err := p.fetcher.FetchMessages(ctx, p.conversationID, model.FetchOptions{Limit: p.config.Limit})

	if !p.IsRunning() {
		metrics.PollFetches.WithLabelValues("discarded").Inc()
		return false
	}
	if err != nil {
		// 失败保持上一次的本地状态
		p.logger.Warn("Poll fetch failed", "error", err)
		metrics.PollFetches.WithLabelValues("error").Inc()
		return true
	}
	metrics.PollFetches.WithLabelValues("ok").Inc()

	previous := p.sink.Reconcile(fetched, startedAt)
	p.maybeNotify(ctx, fetched, previous)
	return true
}

// maybeNotify 四个条件同时满足时发出一次通知
func (p *Poller) maybeNotify(ctx context.Context, fetched []model.Message, previous int) {
	if p.notifier == nil || len(fetched) <= previous {
		return
	}

	newest := fetched[len(fetched)-1]
	if newest.Sender.Key() == p.config.Actor.Key() {
		return
	}
	if !p.sink.NotificationsAllowed() {
		return
	}

	if err := p.notifier.Notify(ctx, newest.DisplayName(), Truncate(newest.Content, NotifyContentRunes)); err != nil {
		p.logger.Warn("Failed to notify", "messageId", newest.ID, "error", err)
		return
	}
	metrics.Notifications.Inc()
}

// Truncate 按字符数截断
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
