package redisstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstate "live-classroom/internal/infra/state/redis"
)

func newTestChatRepo(t *testing.T, window time.Duration, max int) *redisstate.ChatLogRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisstate.NewChatLogRepository(client, redisstate.Options{
		RateLimitWindow: window,
		RateLimitMax:    max,
	})
}

func TestAllowSend_RejectsSixthSendInWindow(t *testing.T) {
	// Arrange
	repo := newTestChatRepo(t, 3*time.Second, 5)
	ctx := context.Background()

	// Act & Assert: 窗口内前 5 次放行
	for i := 0; i < 5; i++ {
		allowed, err := repo.AllowSend(ctx, "room-1", "stu-1")
		require.NoError(t, err)
		assert.True(t, allowed, "第 %d 次发送应放行", i+1)
	}

	// 第 6 次被拒绝
	allowed, err := repo.AllowSend(ctx, "room-1", "stu-1")
	require.NoError(t, err)
	assert.False(t, allowed, "窗口内第 6 次发送应被拒绝")
}

func TestAllowSend_LimitIsPerParticipant(t *testing.T) {
	// Arrange
	repo := newTestChatRepo(t, 3*time.Second, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := repo.AllowSend(ctx, "room-1", "stu-1")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	// Act: stu-1 已满额，stu-2 首次发送
	blocked, err := repo.AllowSend(ctx, "room-1", "stu-1")
	require.NoError(t, err)
	allowed, err2 := repo.AllowSend(ctx, "room-1", "stu-2")
	require.NoError(t, err2)

	// Assert: 限流维度是 房间+参与者，互不影响
	assert.False(t, blocked)
	assert.True(t, allowed)
}

func TestAllowSend_WindowSlides(t *testing.T) {
	// Arrange: 缩短窗口便于观察滑动
	repo := newTestChatRepo(t, 100*time.Millisecond, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := repo.AllowSend(ctx, "room-1", "stu-1")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	blocked, err := repo.AllowSend(ctx, "room-1", "stu-1")
	require.NoError(t, err)
	require.False(t, blocked, "窗口内超额发送应被拒绝")

	// Act: 等待旧记录滑出窗口
	time.Sleep(150 * time.Millisecond)
	allowed, err := repo.AllowSend(ctx, "room-1", "stu-1")

	// Assert: 脚本内的 ZREMRANGEBYSCORE 淘汰过期记录后重新放行
	require.NoError(t, err)
	assert.True(t, allowed)
}
