package nats

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"sudooom.im.chatsync/internal/config"
)

const (
	// SubjectTypingPrefix 输入状态主题前缀，完整主题为 chatsync.typing.<conversationId>
	SubjectTypingPrefix = "chatsync.typing."
	// SubjectTypingAll 订阅所有会话的输入状态
	SubjectTypingAll = SubjectTypingPrefix + "*"
	// SubjectNotifyPrefix 新消息通知主题前缀，完整主题为 chatsync.notify.<actorKey>
	SubjectNotifyPrefix = "chatsync.notify."
)

// TypingSubject 会话的输入状态主题
func TypingSubject(conversationID string) string {
	return SubjectTypingPrefix + token(conversationID)
}

// NotifySubject 用户的通知主题
func NotifySubject(actorKey string) string {
	return SubjectNotifyPrefix + token(actorKey)
}

// token 主题片段不能包含 . * > 和空白
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Client NATS 客户端封装
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewClient 创建 NATS 客户端
func NewClient(cfg config.NATSConfig) (*Client, error) {
	opts := []nats.Option{
		nats.Name("chatsync"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:   conn,
		logger: slog.Default(),
	}, nil
}

// Conn 返回底层 NATS 连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishJSON 以 JSON 发布
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal payload", "subject", subject, "error", err)
		return err
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.logger.Error("Failed to publish", "subject", subject, "error", err)
		return err
	}
	return nil
}

// SubscribeJSON 订阅并把消息体解码为 T 后回调，解码失败的消息被丢弃
func SubscribeJSON[T any](c *Client, subject string, handle func(subject string, v T)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			c.logger.Warn("Dropping malformed message", "subject", msg.Subject, "error", err)
			return
		}
		handle(msg.Subject, v)
	})
}

// Close 关闭连接
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Drain()
	}
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
