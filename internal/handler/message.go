package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"sudooom.im.chatsync/internal/middleware"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/pkg/response"
)

// MessageService 消息处理器依赖的服务
type MessageService interface {
	Conversation(ctx context.Context, conversationID string, actor model.Sender) (*model.Conversation, error)
	List(ctx context.Context, conversationID string, actor model.Sender, opts model.FetchOptions) ([]model.Message, error)
	Create(ctx context.Context, conversationID string, actor model.Sender, req model.CreateRequest) (*model.Message, error)
	Edit(ctx context.Context, actor model.Sender, messageID, content string) (*model.Message, error)
	Delete(ctx context.Context, actor model.Sender, messageID string) error
	React(ctx context.Context, actor model.Sender, messageID string, kind model.ReactionKind) (bool, error)
	Search(ctx context.Context, conversationID string, actor model.Sender, query string) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID string, actor model.Sender) error
	Unread(ctx context.Context, conversationID string, actor model.Sender) (int64, error)
}

// EditRequest 编辑消息
type EditRequest struct {
	Content string `json:"content"`
}

// ReactionRequest 添加回应
type ReactionRequest struct {
	Kind model.ReactionKind `json:"kind" binding:"required"`
}

// MessageHandler 消息处理器
type MessageHandler struct {
	messageService MessageService
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(messageService MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// GetConversation 会话快照
// GET /api/v1/conversations/:id
func (h *MessageHandler) GetConversation(c *gin.Context) {
	conv, err := h.messageService.Conversation(c.Request.Context(), c.Param("id"), middleware.GetActor(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, conv)
}

// ListMessages 拉取消息
// GET /api/v1/conversations/:id/messages?limit=&parent_id=
func (h *MessageHandler) ListMessages(c *gin.Context) {
	opts := model.FetchOptions{ParentID: c.Query("parent_id")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			response.InvalidParams(c, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	msgs, err := h.messageService.List(c.Request.Context(), c.Param("id"), middleware.GetActor(c), opts)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"list": msgs})
}

// CreateMessage 发送消息
// POST /api/v1/conversations/:id/messages
func (h *MessageHandler) CreateMessage(c *gin.Context) {
	var req model.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	msg, err := h.messageService.Create(c.Request.Context(), c.Param("id"), middleware.GetActor(c), req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// EditMessage 编辑消息
// PATCH /api/v1/messages/:id
func (h *MessageHandler) EditMessage(c *gin.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	msg, err := h.messageService.Edit(c.Request.Context(), middleware.GetActor(c), c.Param("id"), req.Content)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// DeleteMessage 删除消息
// DELETE /api/v1/messages/:id
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	if err := h.messageService.Delete(c.Request.Context(), middleware.GetActor(c), c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// AddReaction 切换回应
// POST /api/v1/messages/:id/reactions
func (h *MessageHandler) AddReaction(c *gin.Context) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	added, err := h.messageService.React(c.Request.Context(), middleware.GetActor(c), c.Param("id"), req.Kind)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"added": added})
}

// SearchMessages 搜索消息
// GET /api/v1/conversations/:id/search?q=
func (h *MessageHandler) SearchMessages(c *gin.Context) {
	msgs, err := h.messageService.Search(c.Request.Context(), c.Param("id"), middleware.GetActor(c), c.Query("q"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"list": msgs})
}

// MarkRead 标记已读
// POST /api/v1/conversations/:id/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	if err := h.messageService.MarkRead(c.Request.Context(), c.Param("id"), middleware.GetActor(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetUnread 未读数
// GET /api/v1/conversations/:id/unread
func (h *MessageHandler) GetUnread(c *gin.Context) {
	n, err := h.messageService.Unread(c.Request.Context(), c.Param("id"), middleware.GetActor(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"count": n})
}
