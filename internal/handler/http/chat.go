package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/service"
)

// ChatHandler 暴露 HTTP 侧的聊天重放接口，供不走 WebSocket 的消费方使用。
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	if chatService == nil {
		panic("ChatService cannot be nil for ChatHandler")
	}
	return &ChatHandler{chatService: chatService}
}

// Replay 处理 GET /api/rooms/:roomId/chat?after=<message_id>
// after 为空时从日志保留的最早一条开始返回。
func (h *ChatHandler) Replay(c *gin.Context) {
	roomID := c.Param("roomId")
	after := c.Query("after")

	messages, err := h.chatService.MessagesAfter(c.Request.Context(), roomID, after)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to replay chat over HTTP")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(messages))
}
