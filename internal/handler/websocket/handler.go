package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: 生产环境应根据部署域名收紧 Origin 检查
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler 负责把 HTTP 请求升级为 WebSocket 连接并交给 Hub 托管。
type Handler struct {
	hub *hub.Hub
}

// NewHandler 创建 WebSocket Handler 实例
func NewHandler(h *hub.Hub) *Handler {
	if h == nil {
		panic("Hub cannot be nil for websocket Handler")
	}
	return &Handler{hub: h}
}

// Serve 处理 GET /ws/:roomId 的连接升级。
// 参与者身份由 identity 中间件写入 gin context；
// 重连客户端可以带 last_message_id 查询参数来指定聊天重放的检查点。
func (h *Handler) Serve(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	participantID := c.GetString("participant_id")
	participantName := c.GetString("participant_name")
	lastMessageID := c.Query("last_message_id")

	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"participant_id": participantID,
	})

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logCtx.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := hub.NewClient(h.hub, conn, roomID, participantID, participantName, lastMessageID)

	registerMsg := hub.HubMessage{Type: "register", RoomID: roomID, Client: client}
	if !h.hub.QueueMessage(registerMsg) {
		logCtx.Error("Hub queue full, rejecting new websocket connection")
		client.CloseConn()
		return
	}

	client.Run()
	logCtx.Info("WebSocket client connected and pumps started")
}
