package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"Syncline/internal/model"
	"Syncline/internal/repo"
	"Syncline/internal/service"
)

type ChatHandler interface {
	GetConversations(c *gin.Context)
	GetMessages(c *gin.Context)
	CreateMessage(c *gin.Context)
	MarkMessageRead(c *gin.Context)
	MarkConversationRead(c *gin.Context)
	DeleteMessage(c *gin.Context)
	GetUnreadCount(c *gin.Context)
}

type chatHandler struct {
	service service.ChatService
}

func NewChatHandler(svc service.ChatService) ChatHandler {
	return &chatHandler{service: svc}
}

func (h *chatHandler) GetConversations(c *gin.Context) {
	convs, err := h.service.Conversations(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *chatHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("conversationId")

	page, err := strconv.ParseInt(c.DefaultQuery("page", "0"), 10, 64)
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page number"})
		return
	}
	size, err := strconv.ParseInt(c.DefaultQuery("size", "20"), 10, 64)
	if err != nil || size < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page size"})
		return
	}

	result, err := h.service.Messages(c.Request.Context(), currentUser(c), conversationID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Content == nil {
		result.Content = []model.Message{}
	}
	c.JSON(http.StatusOK, result)
}

func (h *chatHandler) CreateMessage(c *gin.Context) {
	var req model.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), currentUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *chatHandler) MarkMessageRead(c *gin.Context) {
	err := h.service.MarkMessageRead(c.Request.Context(), currentUser(c), c.Param("messageId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *chatHandler) MarkConversationRead(c *gin.Context) {
	err := h.service.MarkConversationRead(c.Request.Context(), currentUser(c), c.Param("conversationId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *chatHandler) DeleteMessage(c *gin.Context) {
	err := h.service.Delete(c.Request.Context(), currentUser(c), c.Param("messageId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *chatHandler) GetUnreadCount(c *gin.Context) {
	count, err := h.service.UnreadCount(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UnreadCount{Count: count})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repo.ErrMessageNotFound),
		errors.Is(err, repo.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrMissingReceiver),
		errors.Is(err, repo.ErrInvalidConversationID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
