package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/repository"
	apperrors "sudooom.im.chatsync/pkg/errors"
	"sudooom.im.chatsync/pkg/snowflake"
)

// MockMessageStore 模拟消息存储
type MockMessageStore struct {
	CreateFunc        func(ctx context.Context, rec *repository.MessageRecord) error
	FindByIDFunc      func(ctx context.Context, id int64) (*repository.MessageRecord, error)
	ListFunc          func(ctx context.Context, conversationID string, parentID *int64, limit int) ([]*repository.MessageRecord, error)
	SearchFunc        func(ctx context.Context, conversationID, query string, limit int) ([]*repository.MessageRecord, error)
	UpdateContentFunc func(ctx context.Context, id int64, content string) (*repository.MessageRecord, error)
	SoftDeleteFunc    func(ctx context.Context, id int64) error
	LatestIDFunc      func(ctx context.Context, conversationID string) (int64, error)
	CountUnreadFunc   func(ctx context.Context, conversationID string, reader model.Sender) (int64, error)
}

func (m *MockMessageStore) Create(ctx context.Context, rec *repository.MessageRecord) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	rec.CreateAt = time.Now()
	rec.UpdateAt = rec.CreateAt
	return nil
}

func (m *MockMessageStore) FindByID(ctx context.Context, id int64) (*repository.MessageRecord, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, repository.ErrMessageNotFound
}

func (m *MockMessageStore) List(ctx context.Context, conversationID string, parentID *int64, limit int) ([]*repository.MessageRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, conversationID, parentID, limit)
	}
	return nil, nil
}

func (m *MockMessageStore) Search(ctx context.Context, conversationID, query string, limit int) ([]*repository.MessageRecord, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, conversationID, query, limit)
	}
	return nil, nil
}

func (m *MockMessageStore) UpdateContent(ctx context.Context, id int64, content string) (*repository.MessageRecord, error) {
	if m.UpdateContentFunc != nil {
		return m.UpdateContentFunc(ctx, id, content)
	}
	return nil, repository.ErrMessageNotFound
}

func (m *MockMessageStore) SoftDelete(ctx context.Context, id int64) error {
	if m.SoftDeleteFunc != nil {
		return m.SoftDeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockMessageStore) ThreadCounts(ctx context.Context, ids []int64) (map[int64]int, error) {
	return map[int64]int{}, nil
}

func (m *MockMessageStore) LatestID(ctx context.Context, conversationID string) (int64, error) {
	if m.LatestIDFunc != nil {
		return m.LatestIDFunc(ctx, conversationID)
	}
	return 0, nil
}

func (m *MockMessageStore) CountUnread(ctx context.Context, conversationID string, reader model.Sender) (int64, error) {
	if m.CountUnreadFunc != nil {
		return m.CountUnreadFunc(ctx, conversationID, reader)
	}
	return 0, nil
}

// MockReactionStore 模拟回应存储
type MockReactionStore struct {
	ToggleFunc   func(ctx context.Context, messageID int64, reactor model.Sender, kind model.ReactionKind) (bool, error)
	MarkReadFunc func(ctx context.Context, conversationID string, reader model.Sender, upToID int64) (int64, error)
	reactions    map[int64][]model.Reaction
}

func (m *MockReactionStore) Toggle(ctx context.Context, messageID int64, reactor model.Sender, kind model.ReactionKind) (bool, error) {
	if m.ToggleFunc != nil {
		return m.ToggleFunc(ctx, messageID, reactor, kind)
	}
	return true, nil
}

func (m *MockReactionStore) ListForMessages(ctx context.Context, ids []int64) (map[int64][]model.Reaction, error) {
	if m.reactions == nil {
		return map[int64][]model.Reaction{}, nil
	}
	return m.reactions, nil
}

func (m *MockReactionStore) MarkRead(ctx context.Context, conversationID string, reader model.Sender, upToID int64) (int64, error) {
	if m.MarkReadFunc != nil {
		return m.MarkReadFunc(ctx, conversationID, reader, upToID)
	}
	return 0, nil
}

func (m *MockReactionStore) ReceiptsForMessages(ctx context.Context, ids []int64) (map[int64][]model.ReadReceipt, error) {
	return map[int64][]model.ReadReceipt{}, nil
}

// MockConversationStore 模拟会话存储
type MockConversationStore struct {
	conv *model.Conversation
}

func (m *MockConversationStore) FindByID(ctx context.Context, id string, viewer model.Sender) (*model.Conversation, error) {
	if m.conv == nil || m.conv.ID != id {
		return nil, repository.ErrConversationNotFound
	}
	return m.conv, nil
}

// MockReadTracker 记录已读缓存调用
type MockReadTracker struct {
	created []string
	marked  int64
	state   *ReadState
	resetTo *ReadState
}

func (m *MockReadTracker) OnMessageCreated(ctx context.Context, conversationID string, msgID int64, senderKey string, participantKeys []string) error {
	m.created = append(m.created, participantKeys...)
	return nil
}

func (m *MockReadTracker) MarkRead(ctx context.Context, conversationID, actorKey string, lastReadMsgID int64) error {
	m.marked = lastReadMsgID
	return nil
}

func (m *MockReadTracker) Get(ctx context.Context, conversationID, actorKey string) (*ReadState, error) {
	if m.state == nil {
		return &ReadState{}, nil
	}
	return m.state, nil
}

func (m *MockReadTracker) Reset(ctx context.Context, conversationID, actorKey string, state ReadState) error {
	m.resetTo = &state
	return nil
}

// MockAttachmentChecker 未设置 VerifyFunc 时全部通过
type MockAttachmentChecker struct {
	VerifyFunc func(conversationID string, a model.Attachment) error
}

func (m *MockAttachmentChecker) Verify(conversationID string, a model.Attachment) error {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(conversationID, a)
	}
	return nil
}

var (
	me   = model.Sender{UserID: "u-me"}
	jane = model.Sender{UserID: "u-jane"}
)

func testConversation() *model.Conversation {
	return &model.Conversation{
		ID:   "c1",
		Type: model.ConversationGroup,
		Participants: []model.Participant{
			{ID: "u-me", DisplayName: "Sam Lee", Kind: model.ParticipantUser},
			{ID: "u-jane", DisplayName: "Jane Doe", Kind: model.ParticipantUser},
		},
		AllowReactions: true,
		AllowThreads:   true,
	}
}

func newTestService(t *testing.T, store *MockMessageStore, reactions *MockReactionStore, tracker *MockReadTracker) *MessageService {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	var readState ReadTracker
	if tracker != nil {
		readState = tracker
	}
	return NewMessageService(store, reactions, &MockConversationStore{conv: testConversation()}, readState, &MockAttachmentChecker{}, node)
}

func TestMessageService_CreateExtractsMentionsAndUpdatesReadState(t *testing.T) {
	var stored *repository.MessageRecord
	store := &MockMessageStore{
		CreateFunc: func(ctx context.Context, rec *repository.MessageRecord) error {
			stored = rec
			return nil
		},
	}
	tracker := &MockReadTracker{}
	svc := newTestService(t, store, &MockReactionStore{}, tracker)

	msg, err := svc.Create(context.Background(), "c1", me, model.CreateRequest{Content: "  proofs ready @Jane Doe  "})
	require.NoError(t, err)

	assert.Equal(t, "proofs ready @Jane Doe", msg.Content)
	assert.Equal(t, "Sam Lee", msg.SenderName)
	assert.Equal(t, []string{"Jane Doe"}, stored.Mentions)
	assert.Equal(t, []string{"user:u-me", "user:u-jane"}, tracker.created)
}

func TestMessageService_CreateRejectsEmpty(t *testing.T) {
	svc := newTestService(t, &MockMessageStore{}, &MockReactionStore{}, nil)

	_, err := svc.Create(context.Background(), "c1", me, model.CreateRequest{Content: "   "})
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyMessage))
}

func TestMessageService_CreateVerifiesAttachments(t *testing.T) {
	created := false
	store := &MockMessageStore{
		CreateFunc: func(ctx context.Context, rec *repository.MessageRecord) error {
			created = true
			require.Len(t, rec.Attachments, 1)
			assert.Equal(t, model.AttachmentVideo, rec.Attachments[0].Type)
			return nil
		},
	}
	checker := &MockAttachmentChecker{}
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := NewMessageService(store, &MockReactionStore{}, &MockConversationStore{conv: testConversation()}, nil, checker, node)

	att := model.Attachment{Type: model.AttachmentImage, URL: "http://files.test/files/c1/a.mp4", Name: "a.mp4", Size: 9, MimeType: "video/mp4"}

	checker.VerifyFunc = func(conversationID string, a model.Attachment) error {
		return apperrors.ErrInvalidAttachment
	}
	_, err = svc.Create(context.Background(), "c1", me, model.CreateRequest{Attachments: []model.Attachment{att}})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidAttachment))
	assert.False(t, created)

	checker.VerifyFunc = func(conversationID string, a model.Attachment) error {
		assert.Equal(t, "c1", conversationID)
		return nil
	}
	_, err = svc.Create(context.Background(), "c1", me, model.CreateRequest{Attachments: []model.Attachment{att}})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMessageService_CreateRequiresParticipant(t *testing.T) {
	svc := newTestService(t, &MockMessageStore{}, &MockReactionStore{}, nil)

	_, err := svc.Create(context.Background(), "c1", model.Sender{UserID: "stranger"}, model.CreateRequest{Content: "hi"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConversationGone))

	_, err = svc.Create(context.Background(), "c1", model.Sender{Name: "Visitor"}, model.CreateRequest{Content: "hi"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConversationGone))

	_, err = svc.Create(context.Background(), "missing", me, model.CreateRequest{Content: "hi"})
	assert.True(t, apperrors.Is(err, apperrors.ErrConversationGone))
}

func TestMessageService_CreateReplyOnlyOneLevel(t *testing.T) {
	parent := int64(7)
	store := &MockMessageStore{
		FindByIDFunc: func(ctx context.Context, id int64) (*repository.MessageRecord, error) {
			if id == 7 {
				return &repository.MessageRecord{ID: 7, ConversationID: "c1", Sender: jane}, nil
			}
			return &repository.MessageRecord{ID: id, ConversationID: "c1", ParentID: &parent}, nil
		},
	}
	tracker := &MockReadTracker{}
	svc := newTestService(t, store, &MockReactionStore{}, tracker)

	msg, err := svc.Create(context.Background(), "c1", me, model.CreateRequest{Content: "reply", ParentID: "7"})
	require.NoError(t, err)
	assert.Equal(t, "7", msg.ParentID)
	assert.Empty(t, tracker.created)

	_, err = svc.Create(context.Background(), "c1", me, model.CreateRequest{Content: "nested", ParentID: "8"})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))
}

func TestMessageService_EditOwnerOnly(t *testing.T) {
	store := &MockMessageStore{
		FindByIDFunc: func(ctx context.Context, id int64) (*repository.MessageRecord, error) {
			return &repository.MessageRecord{ID: id, ConversationID: "c1", Sender: jane, Content: "old"}, nil
		},
	}
	svc := newTestService(t, store, &MockReactionStore{}, nil)

	_, err := svc.Edit(context.Background(), me, "11", "new")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotOwner))

	_, err = svc.Edit(context.Background(), jane, "11", "  ")
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyEdit))

	_, err = svc.Edit(context.Background(), jane, "abc", "new")
	assert.True(t, apperrors.Is(err, apperrors.ErrMessageNotFound))
}

func TestMessageService_EditUpdates(t *testing.T) {
	store := &MockMessageStore{
		FindByIDFunc: func(ctx context.Context, id int64) (*repository.MessageRecord, error) {
			return &repository.MessageRecord{ID: id, ConversationID: "c1", Sender: me, Content: "old"}, nil
		},
		UpdateContentFunc: func(ctx context.Context, id int64, content string) (*repository.MessageRecord, error) {
			return &repository.MessageRecord{ID: id, ConversationID: "c1", Sender: me, Content: content, IsEdited: true}, nil
		},
	}
	svc := newTestService(t, store, &MockReactionStore{}, nil)

	msg, err := svc.Edit(context.Background(), me, "11", " new text ")
	require.NoError(t, err)
	assert.Equal(t, "new text", msg.Content)
	assert.True(t, msg.IsEdited)
	assert.Equal(t, "11", msg.ID)
}

func TestMessageService_DeleteMapsErrors(t *testing.T) {
	store := &MockMessageStore{
		FindByIDFunc: func(ctx context.Context, id int64) (*repository.MessageRecord, error) {
			return &repository.MessageRecord{ID: id, ConversationID: "c1", Sender: me}, nil
		},
		SoftDeleteFunc: func(ctx context.Context, id int64) error {
			return errors.New("connection reset")
		},
	}
	svc := newTestService(t, store, &MockReactionStore{}, nil)

	err := svc.Delete(context.Background(), me, "11")
	assert.True(t, apperrors.Is(err, apperrors.ErrDBError))

	err = svc.Delete(context.Background(), jane, "11")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotOwner))
}

func TestMessageService_React(t *testing.T) {
	store := &MockMessageStore{
		FindByIDFunc: func(ctx context.Context, id int64) (*repository.MessageRecord, error) {
			return &repository.MessageRecord{ID: id, ConversationID: "c1", Sender: jane}, nil
		},
	}
	var toggled model.ReactionKind
	reactions := &MockReactionStore{
		ToggleFunc: func(ctx context.Context, messageID int64, reactor model.Sender, kind model.ReactionKind) (bool, error) {
			toggled = kind
			return true, nil
		},
	}
	svc := newTestService(t, store, reactions, nil)

	added, err := svc.React(context.Background(), me, "11", model.ReactionLove)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, model.ReactionLove, toggled)

	_, err = svc.React(context.Background(), me, "11", "thumbs")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidReaction))

	svc.conversations.(*MockConversationStore).conv.AllowReactions = false
	_, err = svc.React(context.Background(), me, "11", model.ReactionLike)
	assert.True(t, apperrors.Is(err, apperrors.ErrReactionsDisabled))
}

func TestMessageService_ListAttachesReactionsAndClampsLimit(t *testing.T) {
	var gotLimit int
	store := &MockMessageStore{
		ListFunc: func(ctx context.Context, conversationID string, parentID *int64, limit int) ([]*repository.MessageRecord, error) {
			gotLimit = limit
			assert.Nil(t, parentID)
			return []*repository.MessageRecord{{ID: 1, ConversationID: "c1", Sender: jane, Content: "hi"}}, nil
		},
	}
	reactions := &MockReactionStore{reactions: map[int64][]model.Reaction{
		1: {{MessageID: "1", Reactor: me, Kind: model.ReactionLike}},
	}}
	svc := newTestService(t, store, reactions, nil)

	msgs, err := svc.List(context.Background(), "c1", me, model.FetchOptions{Limit: 1000})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, MaxPageLimit, gotLimit)
	assert.Len(t, msgs[0].Reactions, 1)

	_, err = svc.List(context.Background(), "c1", me, model.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageLimit, gotLimit)
}

func TestMessageService_ListThreadsDisabled(t *testing.T) {
	svc := newTestService(t, &MockMessageStore{}, &MockReactionStore{}, nil)
	svc.conversations.(*MockConversationStore).conv.AllowThreads = false

	_, err := svc.List(context.Background(), "c1", me, model.FetchOptions{ParentID: "7"})
	assert.True(t, apperrors.Is(err, apperrors.ErrThreadsDisabled))
}

func TestMessageService_SearchEmptyQuery(t *testing.T) {
	store := &MockMessageStore{
		SearchFunc: func(ctx context.Context, conversationID, query string, limit int) ([]*repository.MessageRecord, error) {
			t.Fatal("store should not be queried")
			return nil, nil
		},
	}
	svc := newTestService(t, store, &MockReactionStore{}, nil)

	msgs, err := svc.Search(context.Background(), "c1", me, "  ")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMessageService_MarkRead(t *testing.T) {
	var upTo int64
	store := &MockMessageStore{
		LatestIDFunc: func(ctx context.Context, conversationID string) (int64, error) { return 42, nil },
	}
	reactions := &MockReactionStore{
		MarkReadFunc: func(ctx context.Context, conversationID string, reader model.Sender, upToID int64) (int64, error) {
			upTo = upToID
			return 3, nil
		},
	}
	tracker := &MockReadTracker{}
	svc := newTestService(t, store, reactions, tracker)

	require.NoError(t, svc.MarkRead(context.Background(), "c1", me))
	assert.EqualValues(t, 42, upTo)
	assert.EqualValues(t, 42, tracker.marked)
}

func TestMessageService_UnreadFallsBackToStore(t *testing.T) {
	store := &MockMessageStore{
		CountUnreadFunc: func(ctx context.Context, conversationID string, reader model.Sender) (int64, error) { return 4, nil },
		LatestIDFunc:    func(ctx context.Context, conversationID string) (int64, error) { return 99, nil },
	}
	tracker := &MockReadTracker{}
	svc := newTestService(t, store, &MockReactionStore{}, tracker)

	n, err := svc.Unread(context.Background(), "c1", me)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	require.NotNil(t, tracker.resetTo)
	assert.EqualValues(t, 99, tracker.resetTo.LastMsgID)

	tracker.state = &ReadState{UnreadCount: 2, UpdateAt: 1}
	n, err = svc.Unread(context.Background(), "c1", me)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
