package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sudooom.im.chatsync/internal/nats"
)

// Notification 新消息通知
type Notification struct {
	ConversationID string    `json:"conversationId"`
	SenderName     string    `json:"senderName"`
	Content        string    `json:"content"`
	At             time.Time `json:"at"`
}

// LogNotifier 以日志形式输出通知
type LogNotifier struct {
	conversationID string
	logger         *slog.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(conversationID string) *LogNotifier {
	return &LogNotifier{conversationID: conversationID, logger: slog.Default()}
}

// Notify 实现 poller.Notifier
func (n *LogNotifier) Notify(ctx context.Context, senderName, content string) error {
	n.logger.InfoContext(ctx, "New message",
		"conversationId", n.conversationID,
		"sender", senderName,
		"content", content,
	)
	return nil
}

// Publisher 发布 JSON，由 nats.Client 实现
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// NATSNotifier 把通知发布到 chatsync.notify.<actorKey>，由桌面端或推送网关消费
type NATSNotifier struct {
	publisher      Publisher
	conversationID string
	subject        string
}

// NewNATSNotifier 创建 NATS 通知器
func NewNATSNotifier(publisher Publisher, conversationID, actorKey string) *NATSNotifier {
	return &NATSNotifier{
		publisher:      publisher,
		conversationID: conversationID,
		subject:        nats.NotifySubject(actorKey),
	}
}

// Notify 实现 poller.Notifier
func (n *NATSNotifier) Notify(ctx context.Context, senderName, content string) error {
	return n.publisher.PublishJSON(n.subject, Notification{
		ConversationID: n.conversationID,
		SenderName:     senderName,
		Content:        content,
		At:             time.Now(),
	})
}

// Notifier 与 poller.Notifier 相同的形状
type Notifier interface {
	Notify(ctx context.Context, senderName, content string) error
}

// Multi 依次调用所有通知器，返回合并后的错误
type Multi []Notifier

// Notify 实现 poller.Notifier
func (m Multi) Notify(ctx context.Context, senderName, content string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, senderName, content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
