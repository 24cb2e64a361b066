package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"sudooom.im.chatsync/internal/mention"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/repository"
	apperrors "sudooom.im.chatsync/pkg/errors"
	"sudooom.im.chatsync/pkg/snowflake"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
	SearchLimit      = 50
)

// MessageStore 消息存储
type MessageStore interface {
	Create(ctx context.Context, rec *repository.MessageRecord) error
	FindByID(ctx context.Context, id int64) (*repository.MessageRecord, error)
	List(ctx context.Context, conversationID string, parentID *int64, limit int) ([]*repository.MessageRecord, error)
	Search(ctx context.Context, conversationID, query string, limit int) ([]*repository.MessageRecord, error)
	UpdateContent(ctx context.Context, id int64, content string) (*repository.MessageRecord, error)
	SoftDelete(ctx context.Context, id int64) error
	ThreadCounts(ctx context.Context, ids []int64) (map[int64]int, error)
	LatestID(ctx context.Context, conversationID string) (int64, error)
	CountUnread(ctx context.Context, conversationID string, reader model.Sender) (int64, error)
}

// ReactionStore 回应与回执存储
type ReactionStore interface {
	Toggle(ctx context.Context, messageID int64, reactor model.Sender, kind model.ReactionKind) (bool, error)
	ListForMessages(ctx context.Context, ids []int64) (map[int64][]model.Reaction, error)
	MarkRead(ctx context.Context, conversationID string, reader model.Sender, upToID int64) (int64, error)
	ReceiptsForMessages(ctx context.Context, ids []int64) (map[int64][]model.ReadReceipt, error)
}

// ConversationStore 会话存储
type ConversationStore interface {
	FindByID(ctx context.Context, id string, viewer model.Sender) (*model.Conversation, error)
}

// ReadTracker 已读位置缓存
type ReadTracker interface {
	OnMessageCreated(ctx context.Context, conversationID string, msgID int64, senderKey string, participantKeys []string) error
	MarkRead(ctx context.Context, conversationID, actorKey string, lastReadMsgID int64) error
	Get(ctx context.Context, conversationID, actorKey string) (*ReadState, error)
	Reset(ctx context.Context, conversationID, actorKey string, state ReadState) error
}

// AttachmentChecker 附件来源校验
type AttachmentChecker interface {
	Verify(conversationID string, a model.Attachment) error
}

// MessageService 消息服务
type MessageService struct {
	messages      MessageStore
	reactions     ReactionStore
	conversations ConversationStore
	readState     ReadTracker
	attachments   AttachmentChecker
	snowflake     *snowflake.Node
	logger        *slog.Logger
}

// NewMessageService 创建消息服务，readState 可以为 nil
func NewMessageService(messages MessageStore, reactions ReactionStore, conversations ConversationStore, readState ReadTracker, attachments AttachmentChecker, sf *snowflake.Node) *MessageService {
	return &MessageService{
		messages:      messages,
		reactions:     reactions,
		conversations: conversations,
		readState:     readState,
		attachments:   attachments,
		snowflake:     sf,
		logger:        slog.Default(),
	}
}

// authorize 读取会话并确认 actor 可访问
// 匿名发送者只能进入客户支持会话。
func (s *MessageService) authorize(ctx context.Context, conversationID string, actor model.Sender) (*model.Conversation, error) {
	conv, err := s.conversations.FindByID(ctx, conversationID, actor)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, apperrors.ErrConversationGone
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}

	if actor.UserID == "" && actor.ClientID == "" {
		if conv.Type == model.ConversationClientSupport && actor.Name != "" {
			return conv, nil
		}
		return nil, apperrors.ErrConversationGone
	}

	key := actor.Key()
	for _, p := range conv.Participants {
		if p.Sender().Key() == key {
			return conv, nil
		}
	}
	return nil, apperrors.ErrConversationGone
}

// Conversation 会话快照
func (s *MessageService) Conversation(ctx context.Context, conversationID string, actor model.Sender) (*model.Conversation, error) {
	return s.authorize(ctx, conversationID, actor)
}

// List 拉取消息，附带回应、回执和回复数
func (s *MessageService) List(ctx context.Context, conversationID string, actor model.Sender, opts model.FetchOptions) ([]model.Message, error) {
	conv, err := s.authorize(ctx, conversationID, actor)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)

	var parentID *int64
	if opts.ParentID != "" {
		if !conv.AllowThreads {
			return nil, apperrors.ErrThreadsDisabled
		}
		id, err := parseMessageID(opts.ParentID)
		if err != nil {
			return nil, err
		}
		parentID = &id
	}

	records, err := s.messages.List(ctx, conversationID, parentID, limit)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return s.hydrate(ctx, records, parentID == nil)
}

// hydrate 批量补充回应、回执，顶层消息补充回复数
func (s *MessageService) hydrate(ctx context.Context, records []*repository.MessageRecord, withThreads bool) ([]model.Message, error) {
	out := make([]model.Message, 0, len(records))
	if len(records) == 0 {
		return out, nil
	}

	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}

	reactions, err := s.reactions.ListForMessages(ctx, ids)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	receipts, err := s.reactions.ReceiptsForMessages(ctx, ids)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	threads := map[int64]int{}
	if withThreads {
		if threads, err = s.messages.ThreadCounts(ctx, ids); err != nil {
			return nil, apperrors.ErrDBError.Wrap(err)
		}
	}

	for _, rec := range records {
		m := rec.ToModel()
		m.Reactions = reactions[rec.ID]
		m.ReadReceipts = receipts[rec.ID]
		m.ThreadCount = threads[rec.ID]
		out = append(out, m)
	}
	return out, nil
}

// Create 创建消息
func (s *MessageService) Create(ctx context.Context, conversationID string, actor model.Sender, req model.CreateRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Attachments) == 0 {
		return nil, apperrors.ErrEmptyMessage
	}

	conv, err := s.authorize(ctx, conversationID, actor)
	if err != nil {
		return nil, err
	}

	attachments := make([]model.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		if err := s.attachments.Verify(conversationID, a); err != nil {
			return nil, err
		}
		a.Type = model.ClassifyMIME(a.MimeType)
		attachments = append(attachments, a)
	}

	rec := &repository.MessageRecord{
		ID:             s.snowflake.Generate().Int64(),
		ConversationID: conversationID,
		Sender:         actor,
		SenderName:     senderName(conv, actor),
		Content:        content,
		Attachments:    attachments,
		Mentions:       req.Mentions,
	}

	if req.ParentID != "" {
		if !conv.AllowThreads {
			return nil, apperrors.ErrThreadsDisabled
		}
		parentID, err := parseMessageID(req.ParentID)
		if err != nil {
			return nil, err
		}
		parent, err := s.findMessage(ctx, parentID)
		if err != nil {
			return nil, err
		}
		// 只支持一层回复
		if parent.ConversationID != conversationID || parent.ParentID != nil {
			return nil, apperrors.ErrInvalidParams
		}
		rec.ParentID = &parentID
	}

	if len(rec.Mentions) == 0 {
		rec.Mentions = mention.Extract(content, mention.Loose, conv.Roster(actor))
	}

	if err := s.messages.Create(ctx, rec); err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}

	if rec.ParentID == nil && s.readState != nil {
		keys := make([]string, 0, len(conv.Participants))
		for _, p := range conv.Participants {
			keys = append(keys, p.Sender().Key())
		}
		if err := s.readState.OnMessageCreated(ctx, conversationID, rec.ID, actor.Key(), keys); err != nil {
			s.logger.Warn("Failed to update read state", "conversationId", conversationID, "error", err)
		}
	}

	s.logger.Debug("Message created",
		"conversationId", conversationID,
		"messageId", rec.ID,
		"attachments", len(rec.Attachments))

	m := rec.ToModel()
	return &m, nil
}

// senderName 参与者使用会话里的展示名，其他情况使用自报名称
func senderName(conv *model.Conversation, actor model.Sender) string {
	key := actor.Key()
	for _, p := range conv.Participants {
		if p.Sender().Key() == key && p.DisplayName != "" {
			return p.DisplayName
		}
	}
	return actor.Name
}

func (s *MessageService) findMessage(ctx context.Context, id int64) (*repository.MessageRecord, error) {
	rec, err := s.messages.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return rec, nil
}

// owned 读取消息并确认 actor 是发送者
func (s *MessageService) owned(ctx context.Context, actor model.Sender, messageID string) (*repository.MessageRecord, error) {
	id, err := parseMessageID(messageID)
	if err != nil {
		return nil, err
	}
	rec, err := s.findMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, rec.ConversationID, actor); err != nil {
		return nil, err
	}
	if rec.Sender.Key() != actor.Key() {
		return nil, apperrors.ErrNotOwner
	}
	return rec, nil
}

// Edit 修改消息内容，只有发送者可以修改
func (s *MessageService) Edit(ctx context.Context, actor model.Sender, messageID, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.ErrEmptyEdit
	}

	rec, err := s.owned(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}

	updated, err := s.messages.UpdateContent(ctx, rec.ID, content)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}

	msgs, err := s.hydrate(ctx, []*repository.MessageRecord{updated}, updated.ParentID == nil)
	if err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// Delete 删除消息（连同回复），只有发送者可以删除
func (s *MessageService) Delete(ctx context.Context, actor model.Sender, messageID string) error {
	rec, err := s.owned(ctx, actor, messageID)
	if err != nil {
		return err
	}

	if err := s.messages.SoftDelete(ctx, rec.ID); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return apperrors.ErrMessageNotFound
		}
		return apperrors.ErrDBError.Wrap(err)
	}
	return nil
}

// React 切换回应，返回操作后 actor 是否仍有该回应
func (s *MessageService) React(ctx context.Context, actor model.Sender, messageID string, kind model.ReactionKind) (bool, error) {
	if !kind.Valid() {
		return false, apperrors.ErrInvalidReaction
	}

	id, err := parseMessageID(messageID)
	if err != nil {
		return false, err
	}
	rec, err := s.findMessage(ctx, id)
	if err != nil {
		return false, err
	}
	conv, err := s.authorize(ctx, rec.ConversationID, actor)
	if err != nil {
		return false, err
	}
	if !conv.AllowReactions {
		return false, apperrors.ErrReactionsDisabled
	}

	added, err := s.reactions.Toggle(ctx, id, actor, kind)
	if err != nil {
		return false, apperrors.ErrDBError.Wrap(err)
	}
	return added, nil
}

// Search 搜索会话消息，空查询返回空列表
func (s *MessageService) Search(ctx context.Context, conversationID string, actor model.Sender, query string) ([]model.Message, error) {
	if _, err := s.authorize(ctx, conversationID, actor); err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Message{}, nil
	}

	records, err := s.messages.Search(ctx, conversationID, query, SearchLimit)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return s.hydrate(ctx, records, false)
}

// MarkRead 把会话当前所有顶层消息标记为已读
func (s *MessageService) MarkRead(ctx context.Context, conversationID string, actor model.Sender) error {
	if _, err := s.authorize(ctx, conversationID, actor); err != nil {
		return err
	}

	latest, err := s.messages.LatestID(ctx, conversationID)
	if err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	if latest == 0 {
		return nil
	}

	if _, err := s.reactions.MarkRead(ctx, conversationID, actor, latest); err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}

	if s.readState != nil {
		if err := s.readState.MarkRead(ctx, conversationID, actor.Key(), latest); err != nil {
			s.logger.Warn("Failed to update read state", "conversationId", conversationID, "error", err)
		}
	}
	return nil
}

// Unread 未读数；缓存缺失时从数据库重新统计
func (s *MessageService) Unread(ctx context.Context, conversationID string, actor model.Sender) (int64, error) {
	if _, err := s.authorize(ctx, conversationID, actor); err != nil {
		return 0, err
	}

	if s.readState != nil {
		state, err := s.readState.Get(ctx, conversationID, actor.Key())
		if err == nil && state.UpdateAt > 0 {
			return state.UnreadCount, nil
		}
		if err != nil {
			s.logger.Warn("Failed to read unread state", "conversationId", conversationID, "error", err)
		}
	}

	n, err := s.messages.CountUnread(ctx, conversationID, actor)
	if err != nil {
		return 0, apperrors.ErrDBError.Wrap(err)
	}

	if s.readState != nil {
		latest, err := s.messages.LatestID(ctx, conversationID)
		if err == nil {
			_ = s.readState.Reset(ctx, conversationID, actor.Key(), ReadState{LastMsgID: latest, UnreadCount: n})
		}
	}
	return n, nil
}

func parseMessageID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ErrMessageNotFound
	}
	return id, nil
}
