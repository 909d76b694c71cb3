package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/domain"
)

// allowSendScript 把滑动窗口限流的 "淘汰-计数-判定-记录-续期" 整个序列
// 放进一个服务端原子脚本，同一参与者的并发发送不可能都观察到
// 未超限的计数而同时被放行。
var allowSendScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// ChatLogRepository 是 repository.ChatLogRepository 的 Redis 实现。
// 消息存进按时间戳打分的有序集合，房间内的重放因此天然有序，
// 不依赖消息到达引擎的先后。
type ChatLogRepository struct {
	entityRepository
	opts Options
}

// NewChatLogRepository 创建 ChatLogRepository 实例。
func NewChatLogRepository(client *redis.Client, opts Options) *ChatLogRepository {
	opts = opts.withDefaults()
	return &ChatLogRepository{
		entityRepository: newEntityRepository(client, opts.KeyPrefix),
		opts:             opts,
	}
}

// --- Key Generation Helpers ---

func (r *ChatLogRepository) chatKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:chat", r.keyPrefix, roomID)
}

func (r *ChatLogRepository) rateLimitKey(roomID, participantID string) string {
	return fmt.Sprintf("%sroom:%s:ratelimit:chat:%s", r.keyPrefix, roomID, participantID)
}

// Append 插入消息并在同一批量序列里裁剪容量、刷新过期。
// 每次发送都无条件执行，闲置房间的聊天记录随 TTL 自然消失，无需后台清理任务。
func (r *ChatLogRepository) Append(ctx context.Context, roomID string, msg *domain.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal chat message %s: %w", msg.ID, err)
	}
	key := r.chatKey(roomID)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(msg.Timestamp), Member: string(payload)})
	pipe.ZRemRangeByRank(ctx, key, 0, -(r.opts.ChatHistoryLimit + 1))
	pipe.Expire(ctx, key, r.opts.ChatLogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to append chat message to room %s: %w", roomID, err)
	}
	return nil
}

// MessagesAfter 执行开区间下界的范围读 (> afterMillis 而非 >=)，
// 重连客户端用它补齐最后一条已知消息之后的缺口。
func (r *ChatLogRepository) MessagesAfter(ctx context.Context, roomID string, afterMillis int64) ([]domain.ChatMessage, error) {
	key := r.chatKey(roomID)
	entries, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(afterMillis, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read chat messages for room %s: %w", roomID, err)
	}
	messages := make([]domain.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("Skipping undecodable chat message entry")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// AllowSend 以原子脚本执行滑动窗口检查并在放行时记录本次动作。
// 存储错误由调用方决定放行策略 (fail-open/fail-closed)，本层只负责传播。
func (r *ChatLogRepository) AllowSend(ctx context.Context, roomID, participantID string) (bool, error) {
	now := time.Now().UnixMilli()
	key := r.rateLimitKey(roomID, participantID)
	// 成员带随机后缀，同一毫秒内的多次动作不会互相覆盖
	member := domain.SortableID(now)
	allowed, err := allowSendScript.Run(ctx, r.client, []string{key},
		now, r.opts.RateLimitWindow.Milliseconds(), r.opts.RateLimitMax, member).Int()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit script failed for %s in room %s: %w", participantID, roomID, err)
	}
	return allowed == 1, nil
}
