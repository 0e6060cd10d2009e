package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/khiemvuong/e-commerce-saas-sub002/models"
	"github.com/khiemvuong/e-commerce-saas-sub002/services"
)

type ConversationHandler struct {
	conversations *services.ConversationService
}

func NewConversationHandler(conversations *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// 创建或获取与对端的会话
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var dto services.CreateConversationDTO
	if err := c.Bind(&dto); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := c.Validate(&dto); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	conv, err := h.conversations.CreateOrGetConversation(user, dto.PeerID)
	if err != nil {
		if errors.Is(err, services.ErrSamePeerRole) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, conv)
}

// 会话列表，带对端在线状态和未读数
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	user := c.Get("user").(*models.User)

	results, err := h.conversations.ListConversations(c.Request().Context(), user)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to fetch conversations"})
	}
	return c.JSON(http.StatusOK, results)
}

// 获取聊天历史消息
func (h *ConversationHandler) GetMessages(c echo.Context) error {
	user := c.Get("user").(*models.User)
	conversationID := c.Param("id")

	// 分页参数
	limit := 50
	offset := 0
	if c.QueryParam("limit") != "" {
		fmt.Sscanf(c.QueryParam("limit"), "%d", &limit)
	}
	if c.QueryParam("offset") != "" {
		fmt.Sscanf(c.QueryParam("offset"), "%d", &offset)
	}

	messages, err := h.conversations.GetMessages(user, conversationID, limit, offset)
	if err != nil {
		return conversationError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// 已读：清掉调用方角色的持久未读数
func (h *ConversationHandler) MarkSeen(c echo.Context) error {
	user := c.Get("user").(*models.User)
	conversationID := c.Param("id")

	if err := h.conversations.MarkConversationSeen(c.Request().Context(), user, conversationID); err != nil {
		return conversationError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func conversationError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrNotParticipant):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
