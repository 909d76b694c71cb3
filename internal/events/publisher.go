package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// 房间事件类型。Payload 是引擎返回的数据结构原样广播，不做框架包装。
const (
	TypeRoomState      = "room.state"
	TypeChatMessage    = "chat.message"
	TypeChatReplay     = "chat.replay"
	TypePollCreated    = "poll.created"
	TypePollStarted    = "poll.started"
	TypePollTally      = "poll.tally"
	TypePollEnded      = "poll.ended"
	TypeQnaCreated     = "qna.created"
	TypeQnaStarted     = "qna.started"
	TypeQnaAnswerCount = "qna.answer_count"
	TypeQnaEnded       = "qna.ended"
	TypeError          = "error"
)

// Event 是发往房间频道的消息信封。
type Event struct {
	Type    string      `json:"type"`
	RoomID  string      `json:"room_id"`
	Payload interface{} `json:"payload,omitempty"`
}

// Publisher 把房间事件发布到 Redis Pub/Sub。
// 应用可能以多进程运行，本地广播必须经过共享的频道而不是进程内直投。
type Publisher struct {
	client    *redis.Client
	keyPrefix string
}

// NewPublisher 创建 Publisher 实例。
func NewPublisher(client *redis.Client, keyPrefix string) *Publisher {
	if client == nil {
		panic("redis client cannot be nil for Publisher")
	}
	if keyPrefix == "" {
		keyPrefix = "lc:"
	}
	return &Publisher{client: client, keyPrefix: keyPrefix}
}

// Channel 返回房间事件频道名，订阅方 (Hub) 使用同一命名。
func (p *Publisher) Channel(roomID string) string {
	return fmt.Sprintf("%sroom:%s:events", p.keyPrefix, roomID)
}

// Publish 把事件序列化后发布到房间频道。
func (p *Publisher) Publish(ctx context.Context, roomID, eventType string, payload interface{}) error {
	event := Event{Type: eventType, RoomID: roomID, Payload: payload}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s for room %s: %w", eventType, roomID, err)
	}
	if err := p.client.Publish(ctx, p.Channel(roomID), string(data)).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id":    roomID,
			"event_type": eventType,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("failed to publish event %s to room %s: %w", eventType, roomID, err)
	}
	return nil
}

// Marshal 把事件序列化为可直接写给单个客户端的字节，供点对点回复复用同一信封。
func Marshal(eventType, roomID string, payload interface{}) ([]byte, error) {
	return json.Marshal(Event{Type: eventType, RoomID: roomID, Payload: payload})
}
