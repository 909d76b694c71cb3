package redisstate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"live-classroom/internal/repository"
)

// Options 汇总状态引擎的可调参数。补偿回滚和过期策略依赖这些值，
// 因此作为显式配置而不是散落的常量。
type Options struct {
	// KeyPrefix 是所有引擎 key 的统一前缀，方便按部署隔离
	KeyPrefix string
	// RoomRetention 是投票/问答实体及房间索引的 TTL
	RoomRetention time.Duration
	// SubmissionRetention 是去重集合与回答列表在每次提交时刷新的 TTL
	SubmissionRetention time.Duration
	// CounterTTLMargin 是计数 key 在投票时限之外额外存活的安全余量，
	// 避免计数早于投票实体消失 (调优参数，不是正确性要求)
	CounterTTLMargin time.Duration
	// ChatHistoryLimit 是单个房间保留的最大消息条数
	ChatHistoryLimit int64
	// ChatLogTTL 是聊天记录自最后一条消息起的存活时间
	ChatLogTTL time.Duration
	// RateLimitWindow / RateLimitMax 定义聊天滑动窗口限流
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// withDefaults 为未设置的字段填充默认值。
func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "lc:"
	}
	if o.RoomRetention <= 0 {
		o.RoomRetention = 6 * time.Hour
	}
	if o.SubmissionRetention <= 0 {
		o.SubmissionRetention = 1 * time.Hour
	}
	if o.CounterTTLMargin <= 0 {
		o.CounterTTLMargin = 5 * time.Minute
	}
	if o.ChatHistoryLimit <= 0 {
		o.ChatHistoryLimit = 1000
	}
	if o.ChatLogTTL <= 0 {
		o.ChatLogTTL = 2 * time.Hour
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = 3 * time.Second
	}
	if o.RateLimitMax <= 0 {
		o.RateLimitMax = 5
	}
	return o
}

// hashWrite 描述一次待批量提交的实体写入。
type hashWrite struct {
	key    string
	fields map[string]interface{}
	ttl    time.Duration
}

// entityRepository 是各 Redis 存储库共享的基础实现:
// 把类型化实体的字段序列化进 Redis Hash，并提供批量读写和
// 供上层组合多实体多步骤序列的 pipeline 构建辅助方法。
type entityRepository struct {
	client    *redis.Client
	keyPrefix string
}

func newEntityRepository(client *redis.Client, keyPrefix string) entityRepository {
	if client == nil {
		panic("redis client cannot be nil for entity repository")
	}
	return entityRepository{client: client, keyPrefix: keyPrefix}
}

// saveHash 写入单个实体。带 TTL 时把 HSET 和 EXPIRE 合并为一次原子批量，
// 读取方不会观察到没有过期时间的记录；无 TTL 时直接写入。
func (r *entityRepository) saveHash(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
			return fmt.Errorf("redis: failed to save entity %s: %w", key, err)
		}
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to save entity %s with ttl: %w", key, err)
	}
	return nil
}

// saveHashes 把多个实体写入合并为一次往返。
func (r *entityRepository) saveHashes(ctx context.Context, writes []hashWrite) error {
	if len(writes) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, w := range writes {
		r.addSaveToPipeline(ctx, pipe, w.key, w.fields, w.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to save %d entities: %w", len(writes), err)
	}
	return nil
}

// findHash 读取完整记录。key 不存在时返回 repository.ErrNotFound 而不是存储错误。
func (r *entityRepository) findHash(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read entity %s: %w", key, err)
	}
	if len(fields) == 0 {
		// HGETALL 对不存在的 key 返回空表
		return nil, repository.ErrNotFound
	}
	return fields, nil
}

// findHashes 批量读取，保持输入顺序；缺失的条目以 nil 占位，调用方需容忍空洞。
func (r *entityRepository) findHashes(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: failed to batch read %d entities: %w", len(keys), err)
	}
	results := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		results[i] = fields
	}
	return results, nil
}

// deleteHash 删除记录，幂等。
func (r *entityRepository) deleteHash(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete entity %s: %w", key, err)
	}
	return nil
}

// --- Pipeline 构建辅助方法，供子类组合多实体原子序列 ---

func (r *entityRepository) addSaveToPipeline(ctx context.Context, pipe redis.Pipeliner, key string, fields map[string]interface{}, ttl time.Duration) {
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
}

func (r *entityRepository) addDeleteToPipeline(ctx context.Context, pipe redis.Pipeliner, key string) {
	pipe.Del(ctx, key)
}

func (r *entityRepository) addUpdatePartialToPipeline(ctx context.Context, pipe redis.Pipeliner, key string, fields map[string]interface{}) {
	pipe.HSet(ctx, key, fields)
}

// --- Hash 字段反序列化辅助: 文本存储的数值/布尔/时间字段还原为声明类型 ---

func hashInt(fields map[string]string, name string) int {
	v, _ := strconv.Atoi(fields[name])
	return v
}

func hashInt64(fields map[string]string, name string) int64 {
	v, _ := strconv.ParseInt(fields[name], 10, 64)
	return v
}

func hashBool(fields map[string]string, name string) bool {
	v, _ := strconv.ParseBool(fields[name])
	return v
}

// hashTime 从毫秒时间戳字段还原时间，0 或缺失还原为零值时间。
func hashTime(fields map[string]string, name string) time.Time {
	millis := hashInt64(fields, name)
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

// timeField 把时间序列化为毫秒时间戳字段，零值时间存为 0。
func timeField(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
