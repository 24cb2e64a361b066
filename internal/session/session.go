package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"sudooom.im.chatsync/internal/mention"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/poller"
	"sudooom.im.chatsync/internal/send"
	"sudooom.im.chatsync/internal/upload"
	apperrors "sudooom.im.chatsync/pkg/errors"
)

const markReadTimeout = 10 * time.Second

// Backend 会话依赖的全部远端操作
type Backend interface {
	poller.Fetcher
	send.Creator
	upload.Backend

	EditMessage(ctx context.Context, messageID, content string) (*model.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	AddReaction(ctx context.Context, messageID string, kind model.ReactionKind) error
	SearchMessages(ctx context.Context, conversationID, query string) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
}

// TypingSignal 输入活动上报
type TypingSignal interface {
	Touch(conversationID string)
}

// Options 会话参数
type Options struct {
	Conversation *model.Conversation
	Actor        model.Sender
	Backend      Backend
	Notifier     poller.Notifier // 可选
	Typing       TypingSignal    // 可选

	PollInterval      time.Duration
	PageLimit         int
	UploadParallel    int
	FallbackTextOnly  bool
	MentionStrictness mention.Strictness
	Location          *time.Location
	Now               func() time.Time
}

// Draft 输入框状态
type Draft struct {
	Text   string
	Cursor int
	Files  []model.LocalFile
}

// EditState 正在编辑的消息
type EditState struct {
	MessageID string
	Draft     string
}

// MentionState 提及建议状态
type MentionState struct {
	Open        bool
	Query       string
	Candidates  []model.Participant
	Highlighted int
}

// override 本地已确认但快照可能尚未反映的变更
type override struct {
	msg     model.Message
	created bool
	deleted bool
	at      time.Time
}

// Session 会话编排：持有本地消息列表、草稿、编辑与删除状态
// 所有状态由 mu 保护，网络调用期间不持锁。
type Session struct {
	conv    *model.Conversation
	actor   model.Sender
	backend Backend
	sender  *send.Pipeline
	poller  *poller.Poller
	typing  TypingSignal
	opts    Options

	mu            sync.Mutex
	messages      []model.Message
	loaded        bool
	snapshotCount int // 上一次快照的原始条数
	overrides     map[string]*override
	draft         Draft
	resolver      *mention.Resolver
	editing       *EditState
	pendingDelete string
	starred       map[string]bool
	backgrounded  bool
	permitted     bool
	lastNotice    string
	closed        bool

	bg     sync.WaitGroup
	logger *slog.Logger
}

// New 创建会话
func New(opts Options) *Session {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		conv:      opts.Conversation,
		actor:     opts.Actor,
		backend:   opts.Backend,
		typing:    opts.Typing,
		opts:      opts,
		overrides: make(map[string]*override),
		starred:   make(map[string]bool),
		resolver:  mention.NewResolver(opts.Conversation.Roster(opts.Actor)),
		logger:    slog.Default().With("conversationId", opts.Conversation.ID),
	}

	uploader := upload.NewPipeline(opts.Backend, upload.Config{MaxParallel: opts.UploadParallel})
	s.sender = send.NewPipeline(opts.Backend, uploader, send.Config{FallbackTextOnly: opts.FallbackTextOnly})
	s.poller = poller.NewPoller(opts.Conversation.ID, opts.Backend, s, opts.Notifier, poller.Config{
		Interval: opts.PollInterval,
		Limit:    opts.PageLimit,
		Actor:    opts.Actor,
		Now:      opts.Now,
	})
	return s
}

// Start 启动轮询并上报已读
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	s.mu.Unlock()

	if err := s.poller.Start(); err != nil {
		return err
	}
	s.markRead()
	return nil
}

// Close 停止轮询，之后到达的结果全部丢弃
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.poller.Stop()
	s.bg.Wait()
	s.logger.Debug("Session closed")
}

// Conversation 会话快照
func (s *Session) Conversation() *model.Conversation {
	return s.conv
}

// markRead 异步上报已读，错误只记录日志
func (s *Session) markRead() {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()

		if err := s.backend.MarkRead(ctx, s.conv.ID); err != nil {
			s.logger.Warn("Failed to mark conversation read", "error", err)
		}
	}()
}

// ============== 轮询合并 ==============

// Reconcile 用快照整体替换本地列表（按 id 去重）
// 早于本地变更发起的快照不会覆盖该变更。
// 返回上一次快照的条数，与本次快照同口径比较增长，本地删除不会被误判为新消息。
func (s *Session) Reconcile(fetched []model.Message, startedAt time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return len(fetched)
	}

	next := make([]model.Message, 0, len(fetched)+len(s.overrides))
	index := make(map[string]int, len(fetched))
	for _, m := range fetched {
		if i, ok := index[m.ID]; ok {
			next[i] = m
			continue
		}
		index[m.ID] = len(next)
		next = append(next, m)
	}

	var appended []model.Message
	for id, ov := range s.overrides {
		if startedAt.After(ov.at) {
			delete(s.overrides, id)
			continue
		}
		i, present := index[id]
		switch {
		case ov.deleted && present:
			next[i].ID = "" // 标记删除
		case ov.deleted:
		case present:
			next[i] = ov.msg
		case ov.created:
			appended = append(appended, ov.msg)
		}
	}

	next = slices.DeleteFunc(next, func(m model.Message) bool { return m.ID == "" })
	if len(appended) > 0 {
		slices.SortFunc(appended, func(a, b model.Message) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
		next = append(next, appended...)
	}

	previous := s.snapshotCount
	if !s.loaded {
		// 首个快照只建立基线
		previous = len(fetched)
		s.loaded = true
	}
	s.snapshotCount = len(fetched)
	s.replace(next)
	return previous
}

// replace 替换列表，条数变化时上报已读
func (s *Session) replace(next []model.Message) {
	changed := len(next) != len(s.messages)
	s.messages = next
	if changed {
		s.markRead()
	}
}

// NotificationsAllowed 视图在后台且允许通知
func (s *Session) NotificationsAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backgrounded && s.permitted
}

// SetBackgrounded 视图前后台切换
func (s *Session) SetBackgrounded(backgrounded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backgrounded = backgrounded
}

// SetNotificationsPermitted 通知授权变化
func (s *Session) SetNotificationsPermitted(permitted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permitted = permitted
}

// Messages 当前本地消息列表副本
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// View 渲染用的分组视图
func (s *Session) View(now time.Time) []DayGroup {
	s.mu.Lock()
	messages := slices.Clone(s.messages)
	starred := make(map[string]bool, len(s.starred))
	for id := range s.starred {
		starred[id] = true
	}
	s.mu.Unlock()

	return Group(messages, s.actor, starred, now, s.opts.Location)
}

// LastNotice 最近一次发送的部分失败提示
func (s *Session) LastNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNotice
}

func (s *Session) find(id string) int {
	return slices.IndexFunc(s.messages, func(m model.Message) bool { return m.ID == id })
}

// ============== 草稿与提及 ==============

// SetDraft 输入框文本或光标变化
func (s *Session) SetDraft(text string, cursor int) {
	s.mu.Lock()
	s.draft.Text = text
	s.draft.Cursor = cursor
	s.resolver.Update(text, cursor)
	s.mu.Unlock()

	if s.typing != nil && strings.TrimSpace(text) != "" {
		s.typing.Touch(s.conv.ID)
	}
}

// Draft 当前草稿
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draft
	d.Files = slices.Clone(s.draft.Files)
	return d
}

// AttachFiles 添加待上传文件
func (s *Session) AttachFiles(files ...model.LocalFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.Files = append(s.draft.Files, files...)
}

// RemoveFile 移除待上传文件
func (s *Session) RemoveFile(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.draft.Files) {
		return false
	}
	s.draft.Files = slices.Delete(s.draft.Files, index, index+1)
	return true
}

// Mentions 提及建议状态
func (s *Session) Mentions() MentionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MentionState{
		Open:        s.resolver.Open(),
		Query:       s.resolver.Query(),
		Candidates:  s.resolver.Candidates(),
		Highlighted: s.resolver.Highlighted(),
	}
}

// MoveHighlight 移动候选高亮
func (s *Session) MoveHighlight(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver.Move(delta)
}

// SelectMention 选中候选并写回草稿，index < 0 时选中高亮项
func (s *Session) SelectMention(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		text   string
		cursor int
		ok     bool
	)
	if index < 0 {
		text, cursor, ok = s.resolver.SelectHighlighted()
	} else {
		text, cursor, ok = s.resolver.Select(index)
	}
	if ok {
		s.draft.Text = text
		s.draft.Cursor = cursor
	}
	return ok
}

// CancelMention 关闭提及建议
func (s *Session) CancelMention() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver.Cancel()
}

// ============== 发送 ==============

// Send 发送当前草稿；成功后追加服务端回显并清空已发送的草稿内容，失败时草稿保留
func (s *Session) Send(ctx context.Context, progress upload.ProgressFunc) (*send.Result, error) {
	return s.send(ctx, "", progress)
}

// SendReply 把当前草稿作为 parentID 的线程回复发送
// 回复不进入顶层列表，成功后重新拉取以更新回复数。
func (s *Session) SendReply(ctx context.Context, parentID string, progress upload.ProgressFunc) (*send.Result, error) {
	if !s.conv.AllowThreads {
		return nil, apperrors.ErrThreadsDisabled
	}
	if parentID == "" {
		return nil, apperrors.ErrMessageNotFound
	}
	return s.send(ctx, parentID, progress)
}

func (s *Session) send(ctx context.Context, parentID string, progress upload.ProgressFunc) (*send.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.ErrSessionClosed
	}
	draft := s.draft
	draft.Files = slices.Clone(s.draft.Files)
	s.mu.Unlock()

	mentions := mention.Extract(draft.Text, s.opts.MentionStrictness, s.conv.Roster(s.actor))

	res, err := s.sender.Send(ctx, send.Request{
		ConversationID: s.conv.ID,
		ParentID:       parentID,
		Content:        draft.Text,
		Files:          draft.Files,
		Mentions:       mentions,
		Progress:       progress,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return res, nil
	}
	if parentID == "" {
		s.appendEcho(*res.Message)
	}
	s.clearSent(draft)
	s.lastNotice = res.Notice
	s.mu.Unlock()

	if parentID != "" && !s.poller.Refresh(ctx) {
		s.logger.Debug("Refresh after reply skipped", "parentId", parentID)
	}
	return res, nil
}

// clearSent 只清除已发送的部分；发送期间新输入的文本或新添加的文件保留
func (s *Session) clearSent(sent Draft) {
	if s.draft.Text == sent.Text {
		s.draft.Text = ""
		s.draft.Cursor = 0
		s.resolver.Update("", 0)
	}

	var remaining []model.LocalFile
	pending := slices.Clone(sent.Files)
	for _, f := range s.draft.Files {
		if i := slices.IndexFunc(pending, func(p model.LocalFile) bool { return p.Spec() == f.Spec() }); i >= 0 {
			pending = slices.Delete(pending, i, i+1)
			continue
		}
		remaining = append(remaining, f)
	}
	s.draft.Files = remaining
}

// appendEcho 追加服务端回显，已存在同 id 时不重复
func (s *Session) appendEcho(m model.Message) {
	s.overrides[m.ID] = &override{msg: m, created: true, at: s.opts.Now()}
	if s.find(m.ID) >= 0 {
		return
	}
	s.replace(append(slices.Clone(s.messages), m))
}

// ============== 编辑 ==============

// BeginEdit 进入编辑状态
func (s *Session) BeginEdit(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(messageID)
	if i < 0 {
		return apperrors.ErrMessageNotFound
	}
	if s.messages[i].Sender.Key() != s.actor.Key() {
		return apperrors.ErrNotOwner
	}
	s.editing = &EditState{MessageID: messageID, Draft: s.messages[i].Content}
	return nil
}

// UpdateEdit 修改编辑中的内容
func (s *Session) UpdateEdit(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == nil {
		return apperrors.ErrNotEditing
	}
	s.editing.Draft = content
	return nil
}

// Editing 当前编辑状态
func (s *Session) Editing() (EditState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editing == nil {
		return EditState{}, false
	}
	return *s.editing, true
}

// CancelEdit 退出编辑
func (s *Session) CancelEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = nil
}

// SaveEdit 提交编辑；空内容直接拒绝且保持编辑状态，远端失败时退出编辑且不修改本地
func (s *Session) SaveEdit(ctx context.Context) (*model.Message, error) {
	s.mu.Lock()
	if s.editing == nil {
		s.mu.Unlock()
		return nil, apperrors.ErrNotEditing
	}
	edit := *s.editing
	s.mu.Unlock()

	content := strings.TrimSpace(edit.Draft)
	if content == "" {
		return nil, apperrors.ErrEmptyEdit
	}

	updated, err := s.backend.EditMessage(ctx, edit.MessageID, content)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editing != nil && s.editing.MessageID == edit.MessageID {
		s.editing = nil
	}
	if err != nil {
		s.logger.Warn("Failed to edit message", "messageId", edit.MessageID, "error", err)
		return nil, apperrors.ErrEditFailed.Wrap(err)
	}
	if s.closed {
		return updated, nil
	}

	s.overrides[updated.ID] = &override{msg: *updated, at: s.opts.Now()}
	if i := s.find(updated.ID); i >= 0 {
		s.messages[i] = *updated
	}
	return updated, nil
}

// ============== 删除 ==============

// RequestDelete 请求删除，需要 ConfirmDelete 确认
func (s *Session) RequestDelete(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(messageID)
	if i < 0 {
		return apperrors.ErrMessageNotFound
	}
	if s.messages[i].Sender.Key() != s.actor.Key() {
		return apperrors.ErrNotOwner
	}
	s.pendingDelete = messageID
	return nil
}

// PendingDelete 等待确认删除的消息 id
func (s *Session) PendingDelete() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingDelete
}

// CancelDelete 取消删除
func (s *Session) CancelDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDelete = ""
}

// ConfirmDelete 确认删除；成功后按 id 移除
func (s *Session) ConfirmDelete(ctx context.Context) error {
	s.mu.Lock()
	id := s.pendingDelete
	s.mu.Unlock()
	if id == "" {
		return apperrors.ErrNoPendingDelete
	}

	err := s.backend.DeleteMessage(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingDelete == id {
		s.pendingDelete = ""
	}
	if err != nil {
		s.logger.Warn("Failed to delete message", "messageId", id, "error", err)
		return apperrors.ErrDeleteFailed.Wrap(err)
	}
	if s.closed {
		return nil
	}

	s.overrides[id] = &override{deleted: true, at: s.opts.Now()}
	delete(s.starred, id)
	if i := s.find(id); i >= 0 {
		s.replace(slices.Delete(slices.Clone(s.messages), i, i+1))
	}
	return nil
}

// ============== 收藏 ==============

// ToggleStar 本地切换收藏，返回切换后的状态
func (s *Session) ToggleStar(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starred[messageID] {
		delete(s.starred, messageID)
		return false
	}
	s.starred[messageID] = true
	return true
}

// IsStarred 是否已收藏
func (s *Session) IsStarred(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starred[messageID]
}

// ============== 回应、搜索与线程 ==============

// React 切换回应，成功后立即重新拉取
func (s *Session) React(ctx context.Context, messageID string, kind model.ReactionKind) error {
	if !s.conv.AllowReactions {
		return apperrors.ErrReactionsDisabled
	}
	if !kind.Valid() {
		return apperrors.ErrInvalidReaction
	}

	if err := s.backend.AddReaction(ctx, messageID, kind); err != nil {
		s.logger.Warn("Failed to react", "messageId", messageID, "kind", kind, "error", err)
		return apperrors.ErrReactionFailed.Wrap(err)
	}

	if !s.poller.Refresh(ctx) {
		s.logger.Debug("Refresh after reaction skipped", "messageId", messageID)
	}
	return nil
}

// Search 只读搜索，不影响本地列表
func (s *Session) Search(ctx context.Context, query string) ([]model.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	results, err := s.backend.SearchMessages(ctx, s.conv.ID, query)
	if err != nil {
		s.logger.Warn("Failed to search messages", "query", query, "error", err)
		return nil, apperrors.ErrSearchFailed.Wrap(err)
	}
	return results, nil
}

// Thread 拉取线程回复
func (s *Session) Thread(ctx context.Context, parentID string) ([]model.Message, error) {
	if !s.conv.AllowThreads {
		return nil, apperrors.ErrThreadsDisabled
	}

	limit := s.opts.PageLimit
	if limit <= 0 {
		limit = poller.DefaultLimit
	}
	replies, err := s.backend.FetchMessages(ctx, s.conv.ID, model.FetchOptions{Limit: limit, ParentID: parentID})
	if err != nil {
		s.logger.Warn("Failed to fetch thread", "parentId", parentID, "error", err)
		return nil, apperrors.ErrFetchFailed.Wrap(err)
	}
	return replies, nil
}

// Load 同步拉取一次顶层消息并合并，不经过轮询器，也不触发通知
func (s *Session) Load(ctx context.Context) error {
	limit := s.opts.PageLimit
	if limit <= 0 {
		limit = poller.DefaultLimit
	}

	startedAt := s.opts.Now()
	fetched, err := s.backend.FetchMessages(ctx, s.conv.ID, model.FetchOptions{Limit: limit})
	if err != nil {
		return apperrors.ErrFetchFailed.Wrap(err)
	}
	s.Reconcile(fetched, startedAt)
	return nil
}
