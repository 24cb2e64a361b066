package router

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.chatsync/internal/config"
	"sudooom.im.chatsync/internal/handler"
	"sudooom.im.chatsync/internal/health"
	"sudooom.im.chatsync/internal/metrics"
	"sudooom.im.chatsync/internal/middleware"
)

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.Config,
	checker *health.Checker,
	messageHandler *handler.MessageHandler,
	uploadHandler *handler.UploadHandler,
) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins))

	r.GET("/health", checker.Handle)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// 上传地址自带签名，不需要调用方身份
	r.PUT("/uploads/*key", uploadHandler.Transfer)
	r.GET("/files/*key", uploadHandler.ServeFile)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Actor())
	if cfg.Server.RateLimit.Enabled {
		v1.Use(middleware.NewRateLimiter(cfg.Server.RateLimit).Middleware())
	}
	{
		conversations := v1.Group("/conversations/:id")
		{
			conversations.GET("", messageHandler.GetConversation)
			conversations.GET("/messages", messageHandler.ListMessages)
			conversations.POST("/messages", messageHandler.CreateMessage)
			conversations.GET("/search", messageHandler.SearchMessages)
			conversations.POST("/uploads", uploadHandler.RequestTargets)
			conversations.POST("/read", messageHandler.MarkRead)
			conversations.GET("/unread", messageHandler.GetUnread)
		}

		messages := v1.Group("/messages/:id")
		{
			messages.PATCH("", messageHandler.EditMessage)
			messages.DELETE("", messageHandler.DeleteMessage)
			messages.POST("/reactions", messageHandler.AddReaction)
		}
	}

	return r
}
