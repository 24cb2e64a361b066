package model

import "time"

// Sender 发送者身份，UserID / ClientID / Name 三选一
type Sender struct {
	UserID   string `json:"userId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	Name     string `json:"name,omitempty"` // 匿名发送者
}

// Key 稳定的比较键
func (s Sender) Key() string {
	switch {
	case s.UserID != "":
		return "user:" + s.UserID
	case s.ClientID != "":
		return "client:" + s.ClientID
	default:
		return "anon:" + s.Name
	}
}

// IsZero 是否未设置任何身份
func (s Sender) IsZero() bool {
	return s.UserID == "" && s.ClientID == "" && s.Name == ""
}

// Message 消息实体
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	ParentID       string        `json:"parentId,omitempty"` // 线程根消息
	Sender         Sender        `json:"sender"`
	SenderName     string        `json:"senderName"`
	Content        string        `json:"content"`
	IsEdited       bool          `json:"isEdited"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	ReadReceipts   []ReadReceipt `json:"readReceipts,omitempty"`
	Mentions       []string      `json:"mentions,omitempty"`
	ThreadCount    int           `json:"threadCount"`
}

// DisplayName 发送者展示名
func (m *Message) DisplayName() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.Sender.Name
}

// ReadReceipt 已读回执（只追加）
type ReadReceipt struct {
	MessageID string    `json:"messageId"`
	Reader    Sender    `json:"reader"`
	ReadAt    time.Time `json:"readAt"`
}

// FetchOptions 拉取消息参数
type FetchOptions struct {
	Limit    int    `json:"limit"`
	ParentID string `json:"parentId,omitempty"` // 为空时只返回顶层消息
}

// CreateRequest 创建消息请求
type CreateRequest struct {
	Content     string       `json:"content"`
	ParentID    string       `json:"parentId,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
}
