package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/pkg/response"
)

const (
	HeaderActorUserID   = "X-Actor-User-Id"
	HeaderActorClientID = "X-Actor-Client-Id"
	HeaderActorName     = "X-Actor-Name"

	actorKey = "actor"
)

// Actor 从请求头读取调用方身份，三个头都为空时拒绝请求
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := model.Sender{
			UserID:   strings.TrimSpace(c.GetHeader(HeaderActorUserID)),
			ClientID: strings.TrimSpace(c.GetHeader(HeaderActorClientID)),
			Name:     strings.TrimSpace(c.GetHeader(HeaderActorName)),
		}
		if actor.IsZero() {
			response.Unauthorized(c)
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// GetActor 从 context 获取调用方身份
func GetActor(c *gin.Context) model.Sender {
	actor, exists := c.Get(actorKey)
	if !exists {
		return model.Sender{}
	}
	return actor.(model.Sender)
}
