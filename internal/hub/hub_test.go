package hub

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"live-classroom/internal/events"
	"live-classroom/internal/repository/mocks"
	"live-classroom/internal/service"
)

func newChatTestHub(t *testing.T, chatRepo *mocks.MockChatLogRepository) (*Hub, *Client) {
	t.Helper()
	// 本组测试不触达真实 Redis，client 只是满足构造函数的非空检查
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { redisClient.Close() })

	pollService := service.NewPollService(new(mocks.MockPollRepository))
	qnaService := service.NewQnaService(new(mocks.MockQnaRepository))
	chatService := service.NewChatService(chatRepo, true)
	publisher := events.NewPublisher(redisClient, "test:")

	h := NewHub(pollService, qnaService, chatService, publisher, redisClient, 60)
	c := NewClient(h, nil, "room-1", "stu-1", "小明", "")
	return h, c
}

func chatSendPayload(t *testing.T, text string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"text": text})
	require.NoError(t, err)
	return payload
}

func receiveEvent(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var evt events.Event
		require.NoError(t, json.Unmarshal(raw, &evt))
		return evt
	default:
		t.Fatal("客户端 send 通道上应有一条回复")
		return events.Event{}
	}
}

func TestHandleChatSend_RejectsTextOverLengthCap(t *testing.T) {
	// Arrange: 61 个字符，超出 60 的上限
	chatRepo := new(mocks.MockChatLogRepository)
	h, c := newChatTestHub(t, chatRepo)
	payload := chatSendPayload(t, strings.Repeat("字", 61))

	// Act
	h.handleChatSend(context.Background(), c, payload, logrus.WithField("test", "over_cap"))

	// Assert: 超长文本在网关被拒绝，不触达限流和存储
	chatRepo.AssertNotCalled(t, "AllowSend", mock.Anything, mock.Anything, mock.Anything)
	chatRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything)

	evt := receiveEvent(t, c)
	assert.Equal(t, events.TypeError, evt.Type)
	errPayload, ok := evt.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "bad_request", errPayload["code"])
}

func TestHandleChatSend_CapCountsRunesNotBytes(t *testing.T) {
	// Arrange: 60 个中文字符 (180 字节)，按 rune 计恰好在上限内
	chatRepo := new(mocks.MockChatLogRepository)
	h, c := newChatTestHub(t, chatRepo)
	chatRepo.On("AllowSend", mock.Anything, "room-1", "stu-1").Return(true, nil)
	chatRepo.On("Append", mock.Anything, "room-1", mock.Anything).Return(nil)
	payload := chatSendPayload(t, strings.Repeat("字", 60))

	// Act
	h.handleChatSend(context.Background(), c, payload, logrus.WithField("test", "at_cap"))

	// Assert: 恰好达到上限的文本被接受并写入
	chatRepo.AssertCalled(t, "Append", mock.Anything, "room-1", mock.Anything)
}
