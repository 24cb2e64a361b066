package service

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// getTestRedisClient 获取测试用的 Redis 客户端
func getTestRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 使用测试专用数据库
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: redis unavailable: %v", err)
	}

	client.FlushDB(ctx)

	return client
}

func TestReadStateService_UnreadFlow(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	svc := NewReadStateService(client)
	ctx := context.Background()

	participants := []string{"user:me", "user:jane"}

	if err := svc.OnMessageCreated(ctx, "c1", 101, "user:jane", participants); err != nil {
		t.Fatalf("OnMessageCreated failed: %v", err)
	}
	if err := svc.OnMessageCreated(ctx, "c1", 102, "user:jane", participants); err != nil {
		t.Fatalf("OnMessageCreated failed: %v", err)
	}

	mine, err := svc.Get(ctx, "c1", "user:me")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if mine.UnreadCount != 2 || mine.LastMsgID != 102 {
		t.Errorf("expected 2 unread up to 102, got %+v", mine)
	}

	theirs, _ := svc.Get(ctx, "c1", "user:jane")
	if theirs.UnreadCount != 0 || theirs.LastReadMsgID != 102 {
		t.Errorf("sender should have read own message, got %+v", theirs)
	}

	if err := svc.MarkRead(ctx, "c1", "user:me", 102); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	mine, _ = svc.Get(ctx, "c1", "user:me")
	if mine.UnreadCount != 0 || mine.LastReadMsgID != 102 {
		t.Errorf("expected read state reset, got %+v", mine)
	}
}

func TestReadStateService_MissingKey(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	state, err := NewReadStateService(client).Get(context.Background(), "nope", "user:x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if *state != (ReadState{}) {
		t.Errorf("expected zero state, got %+v", state)
	}
}
