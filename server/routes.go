package server

import (
	"time"

	"github.com/labstack/echo/v4"

	custommiddleware "github.com/khiemvuong/e-commerce-saas-sub002/middleware"
)

func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc) {
	e := s.Echo
	api := e.Group("/api/v1")

	// Auth routes (unprotected)
	auth := api.Group("/auth")
	{
		loginLimit := custommiddleware.NewRateLimitMiddleware(s.limiter, custommiddleware.RateLimitConfig{
			Limit:  10,
			Window: time.Minute,
		})
		auth.POST("/register", s.AuthHandler.Register)
		auth.POST("/login", s.AuthHandler.Login, loginLimit)
		auth.POST("/refresh", s.AuthHandler.RefreshToken)
	}

	// 需要认证
	protected := api.Group("")
	protected.Use(authMiddleware)
	{
		// User routes
		protected.GET("/user", s.AuthHandler.GetCurrentUser)

		// Conversation routes（读侧，消息写入只走 WebSocket + Kafka）
		conversations := protected.Group("/conversations")
		{
			conversations.POST("", s.ConversationHandler.CreateConversation)      // 创建/获取会话
			conversations.GET("", s.ConversationHandler.ListConversations)        // 会话列表
			conversations.GET("/:id/messages", s.ConversationHandler.GetMessages) // 历史消息分页
			conversations.POST("/:id/seen", s.ConversationHandler.MarkSeen)       // 清持久未读数
		}

		// 聊天长连接
		protected.GET("/chat/ws", s.ChatGatewayHandler.HandleWebSocket)
	}
}
