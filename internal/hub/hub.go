package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/events"
	"live-classroom/internal/service"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type    string  // "register", "unregister", "action"
	RoomID  string  // 房间 ID
	Client  *Client // 来源客户端
	RawData []byte  // 仅用于 action (原始 WebSocket 消息)
}

// clientAction 是参与者动作的信封，payload 的形状由网关校验后交给引擎。
type clientAction struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Hub 维护活跃客户端集合，把参与者动作分发给引擎，并通过
// Redis Pub/Sub 把引擎输出广播给房间成员。广播路径是
// 发布到共享频道 -> 订阅循环 -> 本地客户端，因此多进程部署下
// 每个进程都能把事件送达自己持有的连接，且不会重复投递。
type Hub struct {
	messageChan chan HubMessage

	// 客户端集合与房间订阅，按 RoomID 组织，由同一把锁保护
	rooms   map[string]map[*Client]bool
	subs    map[string]*redis.PubSub
	roomsMu sync.Mutex

	pollService *service.PollService
	qnaService  *service.QnaService
	chatService *service.ChatService
	publisher   *events.Publisher
	redisClient *redis.Client

	// maxChatTextLen 是单条聊天文本的最大字符数 (按 rune 计)，
	// 载荷形状校验属于网关，超长文本在进入引擎之前拒绝
	maxChatTextLen int
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(pollService *service.PollService, qnaService *service.QnaService, chatService *service.ChatService, publisher *events.Publisher, redisClient *redis.Client, maxChatTextLen int) *Hub {
	if pollService == nil || qnaService == nil || chatService == nil {
		panic("All services must be non-nil for Hub")
	}
	if publisher == nil || redisClient == nil {
		panic("Publisher and redis client cannot be nil for Hub")
	}
	if maxChatTextLen <= 0 {
		maxChatTextLen = 60
	}
	return &Hub{
		messageChan:    make(chan HubMessage, 512),
		rooms:          make(map[string]map[*Client]bool),
		subs:           make(map[string]*redis.PubSub),
		pollService:    pollService,
		qnaService:     qnaService,
		chatService:    chatService,
		publisher:      publisher,
		redisClient:    redisClient,
		maxChatTextLen: maxChatTextLen,
	}
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerClient(msg.Client)
		case "unregister":
			h.unregisterClient(msg.Client)
		case "action":
			// 异步处理客户端动作，避免阻塞 Hub 主循环；
			// 动作间的正确性由引擎在存储端的原子原语保证，这里无需串行化
			go h.handleClientAction(msg)
		default:
			log.Warnf("Hub: Received unknown message type: %s in room %s", msg.Type, msg.RoomID)
		}
	}
	log.Info("Hub is shutting down...")
}

// registerClient 把客户端加入房间，房间的首个本地客户端触发频道订阅。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"participant_id": client.ParticipantID(),
		"action":         "registerClient",
	})

	h.roomsMu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
		h.subscribeRoomLocked(roomID)
		logCtx.Info("Client list created for new room, subscription started")
	}
	h.rooms[roomID][client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	// 异步推送初始房间状态给新客户端
	go h.sendInitialState(client)
}

// unregisterClient 把客户端移出房间，房间清空时关闭频道订阅。
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"participant_id": client.ParticipantID(),
		"action":         "unregisterClient",
	})

	h.roomsMu.Lock()
	if roomClients, roomExists := h.rooms[roomID]; roomExists {
		if _, clientExists := roomClients[client]; clientExists {
			delete(roomClients, client)

			// 关闭此客户端的 send 通道，这将导致其 WritePump 退出；
			// 先检查通道状态，防止重复关闭 panic
			select {
			case <-client.send:
				logCtx.Warn("Client send channel already closed or has data during unregister")
			default:
				close(client.send)
			}

			if len(roomClients) == 0 {
				delete(h.rooms, roomID)
				if sub, ok := h.subs[roomID]; ok {
					delete(h.subs, roomID)
					// 关闭订阅会终止对应的转发 goroutine
					if err := sub.Close(); err != nil {
						logCtx.WithError(err).Warn("Failed to close room subscription")
					}
				}
				logCtx.Info("Room empty, removed from Hub and unsubscribed")
			}
		} else {
			logCtx.Warn("Client not found in room during unregister")
		}
	} else {
		logCtx.Warn("Room not found during client unregister")
	}
	h.roomsMu.Unlock()
	logCtx.Info("Client unregistered from Hub")
}

// subscribeRoomLocked 订阅房间事件频道并启动转发循环。调用方必须持有 roomsMu。
func (h *Hub) subscribeRoomLocked(roomID string) {
	sub := h.redisClient.Subscribe(context.Background(), h.publisher.Channel(roomID))
	h.subs[roomID] = sub
	go func() {
		for msg := range sub.Channel() {
			h.broadcast(roomID, []byte(msg.Payload))
		}
		logrus.WithField("room_id", roomID).Debug("Room subscription forwarder exited")
	}()
}

// StopAllSubscriptions 关闭全部房间订阅，供优雅关闭使用。
func (h *Hub) StopAllSubscriptions() {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	for roomID, sub := range h.subs {
		if err := sub.Close(); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Failed to close room subscription during shutdown")
		}
		delete(h.subs, roomID)
	}
}

// sendInitialState 推送房间当前状态 (投票、问答、断点之后的聊天) 给新客户端。
func (h *Hub) sendInitialState(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":        client.RoomID(),
		"participant_id": client.ParticipantID(),
		"operation":      "sendInitialState",
	})

	// 使用后台 context，Service 调用不应被原始请求取消
	ctx := context.Background()
	roomID := client.RoomID()

	polls, err := h.pollService.GetPollsInRoom(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load polls for initial state")
		h.sendError(client, "internal", "Failed to load room state")
		return
	}
	qnas, err := h.qnaService.GetQnaInRoom(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load qna for initial state")
		h.sendError(client, "internal", "Failed to load room state")
		return
	}
	messages, err := h.chatService.MessagesAfter(ctx, roomID, client.LastMessageID())
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessageID) {
			// 检查点损坏时从头重放，而不是拒绝连接
			messages, err = h.chatService.MessagesAfter(ctx, roomID, "")
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to replay chat for initial state")
			h.sendError(client, "internal", "Failed to load room state")
			return
		}
	}

	stateBytes, err := events.Marshal(events.TypeRoomState, roomID, map[string]interface{}{
		"polls":    polls,
		"qna":      qnas,
		"messages": messages,
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal initial state")
		return
	}

	select {
	case client.send <- stateBytes:
		logCtx.Info("Initial state sent to client channel")
	default:
		logCtx.Warn("Client send channel full when trying to send initial state, message dropped")
	}
}

// handleClientAction 把参与者动作路由到对应的引擎方法，
// 成功结果发布到房间频道，失败映射为发给动作发起者的错误信封。
func (h *Hub) handleClientAction(msg HubMessage) {
	ctx := context.Background()
	client := msg.Client
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":        msg.RoomID,
		"participant_id": client.ParticipantID(),
		"operation":      "handleClientAction",
	})

	var action clientAction
	if err := json.Unmarshal(msg.RawData, &action); err != nil {
		logCtx.WithError(err).Warn("Failed to unmarshal client action")
		h.sendError(client, "bad_request", "Malformed action envelope")
		return
	}
	logCtx = logCtx.WithField("client_action", action.Action)

	switch action.Action {
	case "chat.send":
		h.handleChatSend(ctx, client, action.Payload, logCtx)
	case "chat.replay":
		h.handleChatReplay(ctx, client, action.Payload, logCtx)
	case "poll.vote":
		h.handlePollVote(ctx, client, action.Payload, logCtx)
	case "qna.answer":
		h.handleQnaAnswer(ctx, client, action.Payload, logCtx)
	default:
		logCtx.Warn("Unknown client action")
		h.sendError(client, "bad_request", "Unknown action: "+action.Action)
	}
}

func (h *Hub) handleChatSend(ctx context.Context, client *Client, payload json.RawMessage, logCtx *logrus.Entry) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "bad_request", "Malformed chat payload")
		return
	}
	if utf8.RuneCountInString(req.Text) > h.maxChatTextLen {
		logCtx.Debug("Chat text exceeds length cap, rejected at gateway")
		h.sendError(client, "bad_request", fmt.Sprintf("Message text exceeds %d characters", h.maxChatTextLen))
		return
	}

	// 先过限流: 软拒绝只回给发送者，不是异常
	if !h.chatService.CheckRateLimit(ctx, client.RoomID(), client.ParticipantID()) {
		logCtx.Debug("Chat send rate limited")
		h.sendError(client, "rate_limited", "Too many messages, slow down")
		return
	}

	msg, err := h.chatService.SaveMessage(ctx, client.RoomID(), client.ParticipantID(), client.ParticipantName(), req.Text)
	if err != nil {
		logCtx.WithError(err).Error("Failed to save chat message")
		h.sendError(client, "internal", "Failed to send message")
		return
	}
	if err := h.publisher.Publish(ctx, client.RoomID(), events.TypeChatMessage, msg); err != nil {
		logCtx.WithError(err).Error("Failed to publish chat message")
	}
}

func (h *Hub) handleChatReplay(ctx context.Context, client *Client, payload json.RawMessage, logCtx *logrus.Entry) {
	var req struct {
		LastMessageID string `json:"last_message_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "bad_request", "Malformed replay payload")
		return
	}
	messages, err := h.chatService.MessagesAfter(ctx, client.RoomID(), req.LastMessageID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMessageID) {
			h.sendError(client, "bad_request", "Invalid last_message_id")
			return
		}
		logCtx.WithError(err).Error("Failed to replay chat")
		h.sendError(client, "internal", "Failed to replay chat")
		return
	}
	replyBytes, err := events.Marshal(events.TypeChatReplay, client.RoomID(), map[string]interface{}{"messages": messages})
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal chat replay")
		return
	}
	select {
	case client.send <- replyBytes:
	default:
		logCtx.Warn("Client send channel full, dropping chat replay")
	}
}

func (h *Hub) handlePollVote(ctx context.Context, client *Client, payload json.RawMessage, logCtx *logrus.Entry) {
	var req struct {
		PollID   string `json:"poll_id"`
		OptionID int    `json:"option_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "bad_request", "Malformed vote payload")
		return
	}
	tally, err := h.pollService.SubmitVote(ctx, req.PollID, client.ParticipantID(), req.OptionID)
	if err != nil {
		h.sendServiceError(client, err, logCtx)
		return
	}
	if err := h.publisher.Publish(ctx, client.RoomID(), events.TypePollTally, map[string]interface{}{
		"poll_id": req.PollID,
		"tally":   tally,
	}); err != nil {
		logCtx.WithError(err).Error("Failed to publish poll tally")
	}
}

func (h *Hub) handleQnaAnswer(ctx context.Context, client *Client, payload json.RawMessage, logCtx *logrus.Entry) {
	var req struct {
		QnaID string `json:"qna_id"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "bad_request", "Malformed answer payload")
		return
	}
	count, err := h.qnaService.SubmitAnswer(ctx, req.QnaID, client.ParticipantID(), client.ParticipantName(), req.Text)
	if err != nil {
		h.sendServiceError(client, err, logCtx)
		return
	}
	if err := h.publisher.Publish(ctx, client.RoomID(), events.TypeQnaAnswerCount, map[string]interface{}{
		"qna_id":       req.QnaID,
		"answer_count": count,
	}); err != nil {
		logCtx.WithError(err).Error("Failed to publish qna answer count")
	}
}

// sendServiceError 把引擎的业务错误映射为发给动作发起者的错误信封。
func (h *Hub) sendServiceError(client *Client, err error, logCtx *logrus.Entry) {
	switch {
	case errors.Is(err, service.ErrPollNotFound), errors.Is(err, service.ErrQnaNotFound):
		h.sendError(client, "not_found", err.Error())
	case errors.Is(err, service.ErrNotActive):
		h.sendError(client, "not_active", err.Error())
	case errors.Is(err, service.ErrDuplicateSubmission):
		h.sendError(client, "duplicate", err.Error())
	default:
		// 部分写入失败等内部错误不向客户端暴露内部状态
		logCtx.WithError(err).Error("Action failed in engine")
		h.sendError(client, "internal", "Action failed")
	}
}

// sendError 向单个客户端发送错误信封 (非阻塞)。
func (h *Hub) sendError(client *Client, code, message string) {
	payload, err := events.Marshal(events.TypeError, client.RoomID(), map[string]string{
		"code":    code,
		"message": message,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}

// broadcast 把消息发送给指定房间的所有本地客户端。
func (h *Hub) broadcast(roomID string, message []byte) {
	h.roomsMu.Lock()
	roomClients, ok := h.rooms[roomID]
	clientsToSend := make([]*Client, 0, len(roomClients))
	if ok {
		for client := range roomClients {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.roomsMu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":         roomID,
		"message_size":    len(message),
		"recipient_count": len(clientsToSend),
	})
	logCtx.Debug("Broadcasting message to clients")

	for _, client := range clientsToSend {
		// 非阻塞发送，单个慢客户端不能阻塞广播
		select {
		case client.send <- message:
		default:
			logCtx.WithField("participant_id", client.ParticipantID()).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 这是 Client 向 Hub 发送消息的安全方式。
// 返回 true 如果消息成功入队，false 如果队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"message_type": msg.Type,
			"room_id":      msg.RoomID,
		}).Warn("Hub message channel full, dropping message")
		return false
	}
}
