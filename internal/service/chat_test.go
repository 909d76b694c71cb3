package service_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"live-classroom/internal/domain"
	"live-classroom/internal/repository/mocks"
	"live-classroom/internal/service"
)

func TestSaveMessage_AssignsSortableIDAndTimestamp(t *testing.T) {
	// Arrange
	mockRepo := new(mocks.MockChatLogRepository)
	svc := service.NewChatService(mockRepo, true)
	ctx := context.Background()
	var captured *domain.ChatMessage
	mockRepo.On("Append", ctx, "room-1", mock.AnythingOfType("*domain.ChatMessage")).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(*domain.ChatMessage)
		}).Return(nil)

	// Act
	msg, err := svc.SaveMessage(ctx, "room-1", "stu-1", "小明", "大家好")

	// Assert: 消息 ID 嵌入与 Timestamp 一致的毫秒时间戳
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, msg, captured)
	millisPart, _, found := strings.Cut(msg.ID, "-")
	require.True(t, found, "消息 ID 应包含后缀分隔符")
	assert.Equal(t, strconv.FormatInt(msg.Timestamp, 10), millisPart)
	assert.Equal(t, "stu-1", msg.SenderID)
	mockRepo.AssertExpectations(t)
}

func TestMessagesAfter_EmptyCheckpointReplaysFromStart(t *testing.T) {
	// Arrange
	mockRepo := new(mocks.MockChatLogRepository)
	svc := service.NewChatService(mockRepo, true)
	ctx := context.Background()
	stored := []domain.ChatMessage{{ID: "100-AAAAAA", Timestamp: 100}}
	mockRepo.On("MessagesAfter", ctx, "room-1", int64(0)).Return(stored, nil)

	// Act
	messages, err := svc.MessagesAfter(ctx, "room-1", "")

	// Assert: 空检查点从头重放
	require.NoError(t, err)
	assert.Equal(t, stored, messages)
	mockRepo.AssertExpectations(t)
}

func TestMessagesAfter_CheckpointUsesEmbeddedTimestamp(t *testing.T) {
	// Arrange
	mockRepo := new(mocks.MockChatLogRepository)
	svc := service.NewChatService(mockRepo, true)
	ctx := context.Background()
	mockRepo.On("MessagesAfter", ctx, "room-1", int64(1700000000123)).Return([]domain.ChatMessage{}, nil)

	// Act
	_, err := svc.MessagesAfter(ctx, "room-1", "1700000000123-XYZ123")

	// Assert: 传给存储层的下界是 ID 中嵌入的毫秒时间戳
	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestMessagesAfter_MalformedCheckpoint(t *testing.T) {
	// Arrange
	mockRepo := new(mocks.MockChatLogRepository)
	svc := service.NewChatService(mockRepo, true)

	// Act
	messages, err := svc.MessagesAfter(context.Background(), "room-1", "not-a-valid!id")

	// Assert
	assert.ErrorIs(t, err, service.ErrInvalidMessageID)
	assert.Nil(t, messages)
	mockRepo.AssertNotCalled(t, "MessagesAfter", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckRateLimit_Allowed(t *testing.T) {
	// Arrange
	mockRepo := new(mocks.MockChatLogRepository)
	svc := service.NewChatService(mockRepo, true)
	ctx := context.Background()
	mockRepo.On("AllowSend", ctx, "room-1", "stu-1").Return(true, nil)

	// Act & Assert
	assert.True(t, svc.CheckRateLimit(ctx, "room-1", "stu-1"))
	mockRepo.AssertExpectations(t)
}

func TestCheckRateLimit_Rejected(t *testing.T) {
	// Arrange
	mockRepo := new(mocks.MockChatLogRepository)
	svc := service.NewChatService(mockRepo, true)
	ctx := context.Background()
	mockRepo.On("AllowSend", ctx, "room-1", "stu-1").Return(false, nil)

	// Act & Assert
	assert.False(t, svc.CheckRateLimit(ctx, "room-1", "stu-1"))
}

func TestCheckRateLimit_StoreErrorFollowsFailOpenPolicy(t *testing.T) {
	ctx := context.Background()
	storeErr := errors.New("redis timeout")

	// failOpen = true: 存储出错时放行
	openRepo := new(mocks.MockChatLogRepository)
	openRepo.On("AllowSend", ctx, "room-1", "stu-1").Return(false, storeErr)
	openSvc := service.NewChatService(openRepo, true)
	assert.True(t, openSvc.CheckRateLimit(ctx, "room-1", "stu-1"), "fail-open 策略下存储错误应放行")

	// failOpen = false: 存储出错时拒绝
	closedRepo := new(mocks.MockChatLogRepository)
	closedRepo.On("AllowSend", ctx, "room-1", "stu-1").Return(false, storeErr)
	closedSvc := service.NewChatService(closedRepo, false)
	assert.False(t, closedSvc.CheckRateLimit(ctx, "room-1", "stu-1"), "fail-closed 策略下存储错误应拒绝")
}
