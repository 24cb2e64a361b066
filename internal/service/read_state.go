package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReadState 某个参与者在会话中的阅读位置
type ReadState struct {
	LastMsgID     int64 `json:"lastMsgId"`
	LastReadMsgID int64 `json:"lastReadMsgId"`
	UnreadCount   int64 `json:"unreadCount"`
	UpdateAt      int64 `json:"updateAt"`
}

// readStateKey chatsync:read:<conversationId>:<actorKey>
func readStateKey(conversationID, actorKey string) string {
	return "chatsync:read:" + conversationID + ":" + actorKey
}

// ReadStateService 已读位置与未读数（基于 Redis）
type ReadStateService struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewReadStateService 创建已读状态服务
func NewReadStateService(redisClient *redis.Client) *ReadStateService {
	return &ReadStateService{
		redisClient: redisClient,
		logger:      slog.Default(),
	}
}

// OnMessageCreated 新的顶层消息：更新所有参与者的最新消息，除发送者外未读数加一
func (s *ReadStateService) OnMessageCreated(ctx context.Context, conversationID string, msgID int64, senderKey string, participantKeys []string) error {
	now := time.Now().UnixMilli()

	pipe := s.redisClient.Pipeline()
	for _, key := range participantKeys {
		stateKey := readStateKey(conversationID, key)
		pipe.HSet(ctx, stateKey, "last_msg_id", msgID, "update_at", now)
		if key == senderKey {
			// 自己发的消息视为已读
			pipe.HSet(ctx, stateKey, "last_read_msg_id", msgID, "unread_count", 0)
		} else {
			pipe.HIncrBy(ctx, stateKey, "unread_count", 1)
		}
	}
	_, err := pipe.Exec(ctx)

	return err
}

// MarkRead 标记会话已读
func (s *ReadStateService) MarkRead(ctx context.Context, conversationID, actorKey string, lastReadMsgID int64) error {
	return s.redisClient.HSet(ctx, readStateKey(conversationID, actorKey),
		"unread_count", 0,
		"last_read_msg_id", lastReadMsgID,
		"update_at", time.Now().UnixMilli(),
	).Err()
}

// Get 读取阅读位置，不存在时返回零值
func (s *ReadStateService) Get(ctx context.Context, conversationID, actorKey string) (*ReadState, error) {
	data, err := s.redisClient.HGetAll(ctx, readStateKey(conversationID, actorKey)).Result()
	if err != nil {
		return nil, err
	}

	return &ReadState{
		LastMsgID:     parseInt64(data["last_msg_id"]),
		LastReadMsgID: parseInt64(data["last_read_msg_id"]),
		UnreadCount:   max(parseInt64(data["unread_count"]), 0),
		UpdateAt:      parseInt64(data["update_at"]),
	}, nil
}

// Reset 用数据库重新统计的值覆盖缓存（缓存丢失时使用）
func (s *ReadStateService) Reset(ctx context.Context, conversationID, actorKey string, state ReadState) error {
	return s.redisClient.HSet(ctx, readStateKey(conversationID, actorKey),
		"last_msg_id", state.LastMsgID,
		"last_read_msg_id", state.LastReadMsgID,
		"unread_count", state.UnreadCount,
		"update_at", time.Now().UnixMilli(),
	).Err()
}

func parseInt64(str string) int64 {
	v, _ := strconv.ParseInt(str, 10, 64)
	return v
}
