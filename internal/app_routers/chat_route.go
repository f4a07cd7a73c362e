package approuters

import (
	"github.com/gin-gonic/gin"

	"Syncline/internal/configuration"
	"Syncline/internal/handler"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	router.POST("/api/auth/token", container.AuthHandler.IssueToken)

	chat := router.Group("/api/chat")
	chat.Use(handler.AuthMiddleware(container.Tokens))
	{
		chat.GET("/conversations", container.ChatHandler.GetConversations)
		chat.GET("/conversations/:conversationId/messages", container.ChatHandler.GetMessages)
		chat.PUT("/conversations/:conversationId/read", container.ChatHandler.MarkConversationRead)
		chat.POST("/messages", container.ChatHandler.CreateMessage)
		chat.GET("/messages/unread-count", container.ChatHandler.GetUnreadCount)
		chat.PUT("/messages/:messageId/read", container.ChatHandler.MarkMessageRead)
		chat.DELETE("/messages/:messageId", container.ChatHandler.DeleteMessage)
	}
}
