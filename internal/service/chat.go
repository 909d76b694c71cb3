package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"live-classroom/internal/domain"
	"live-classroom/internal/repository"
)

// ChatService 负责低延迟、容量受限、可重放的房间消息日志和发送频率控制。
type ChatService struct {
	chatRepo repository.ChatLogRepository
	// failOpen 是显式命名的放行策略: 限流检查遇到存储错误时视为放行，
	// 可用性优先于严格限流。按部署调整，而不是隐式的异常吞掉。
	failOpen bool
}

// NewChatService 创建 ChatService 实例。
func NewChatService(chatRepo repository.ChatLogRepository, failOpen bool) *ChatService {
	if chatRepo == nil {
		panic("ChatLogRepository cannot be nil for ChatService")
	}
	return &ChatService{chatRepo: chatRepo, failOpen: failOpen}
}

// SaveMessage 生成可排序的消息 ID 并写入房间的时间有序日志。
// 写入的同一批量序列里完成容量裁剪与过期续刷。
func (s *ChatService) SaveMessage(ctx context.Context, roomID, senderID, senderName, text string) (*domain.ChatMessage, error) {
	now := time.Now().UnixMilli()
	msg := &domain.ChatMessage{
		ID:         domain.SortableID(now),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  now,
	}
	if err := s.chatRepo.Append(ctx, roomID, msg); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room_id":   roomID,
			"sender_id": senderID,
		}).Error("Failed to save chat message")
		return nil, fmt.Errorf("failed to save chat message in room %s: %w", roomID, err)
	}
	return msg, nil
}

// MessagesAfter 返回检查点之后的全部消息，已按时间升序排列。
// lastMessageID 为空表示从头重放；重连客户端用它补齐断线期间的缺口。
// 范围读的下界是开区间 (> 时间戳而非 >=)。
func (s *ChatService) MessagesAfter(ctx context.Context, roomID, lastMessageID string) ([]domain.ChatMessage, error) {
	var afterMillis int64
	if lastMessageID != "" {
		millis, err := domain.TimestampOf(lastMessageID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("MessagesAfter: malformed checkpoint message id")
			return nil, ErrInvalidMessageID
		}
		afterMillis = millis
	}
	messages, err := s.chatRepo.MessagesAfter(ctx, roomID, afterMillis)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to replay chat messages")
		return nil, fmt.Errorf("failed to replay chat in room %s: %w", roomID, err)
	}
	return messages, nil
}

// CheckRateLimit 执行滑动窗口限流检查，返回 false 表示本次发送被软拒绝。
// 检查与记录在存储端的单个原子脚本中完成；存储出错时按配置的 failOpen 策略放行。
func (s *ChatService) CheckRateLimit(ctx context.Context, roomID, participantID string) bool {
	allowed, err := s.chatRepo.AllowSend(ctx, roomID, participantID)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room_id":        roomID,
			"participant_id": participantID,
			"fail_open":      s.failOpen,
		}).Error("Rate limit check failed against store")
		return s.failOpen
	}
	return allowed
}
