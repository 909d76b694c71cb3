package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"live-classroom/internal/domain"
)

// MockChatLogRepository 是 repository.ChatLogRepository 的 testify mock 实现
type MockChatLogRepository struct {
	mock.Mock
}

func (m *MockChatLogRepository) Append(ctx context.Context, roomID string, msg *domain.ChatMessage) error {
	args := m.Called(ctx, roomID, msg)
	return args.Error(0)
}

func (m *MockChatLogRepository) MessagesAfter(ctx context.Context, roomID string, afterMillis int64) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, roomID, afterMillis)
	if messages, ok := args.Get(0).([]domain.ChatMessage); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChatLogRepository) AllowSend(ctx context.Context, roomID, participantID string) (bool, error) {
	args := m.Called(ctx, roomID, participantID)
	return args.Bool(0), args.Error(1)
}
