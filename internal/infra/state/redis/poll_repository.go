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

// PollRepository 是 repository.PollRepository 的 Redis 实现。
// 并发正确性完全依赖 Redis 原语: SADD 的返回值充当去重保证，
// HINCRBY 原子且可交换，活动窗口由标记 key 的 TTL 在服务端强制执行。
type PollRepository struct {
	entityRepository
	opts Options
}

// NewPollRepository 创建 PollRepository 实例。
func NewPollRepository(client *redis.Client, opts Options) *PollRepository {
	opts = opts.withDefaults()
	return &PollRepository{
		entityRepository: newEntityRepository(client, opts.KeyPrefix),
		opts:             opts,
	}
}

// --- Key Generation Helpers ---

func (r *PollRepository) pollKey(pollID string) string {
	return fmt.Sprintf("%spoll:%s", r.keyPrefix, pollID)
}

func (r *PollRepository) activeKey(pollID string) string {
	return fmt.Sprintf("%spoll:%s:active", r.keyPrefix, pollID)
}

func (r *PollRepository) countsKey(pollID string) string {
	return fmt.Sprintf("%spoll:%s:counts", r.keyPrefix, pollID)
}

func (r *PollRepository) votersKey(pollID string) string {
	return fmt.Sprintf("%spoll:%s:voters", r.keyPrefix, pollID)
}

func (r *PollRepository) roomIndexKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:polls", r.keyPrefix, roomID)
}

// --- Serialization ---

func pollFields(poll *domain.Poll) (map[string]interface{}, error) {
	optionsJSON, err := json.Marshal(poll.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options for poll %s: %w", poll.ID, err)
	}
	return map[string]interface{}{
		"id":         poll.ID,
		"room_id":    poll.RoomID,
		"status":     string(poll.Status),
		"title":      poll.Title,
		"options":    string(optionsJSON),
		"time_limit": poll.TimeLimitSeconds,
		"created_at": timeField(poll.CreatedAt),
		"updated_at": timeField(poll.UpdatedAt),
		"started_at": timeField(poll.StartedAt),
		"ended_at":   timeField(poll.EndedAt),
	}, nil
}

func pollFromFields(fields map[string]string) (*domain.Poll, error) {
	var options []domain.PollOption
	if raw := fields["options"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options for poll %s: %w", fields["id"], err)
		}
	}
	return &domain.Poll{
		ID:               fields["id"],
		RoomID:           fields["room_id"],
		Status:           domain.PollStatus(fields["status"]),
		Title:            fields["title"],
		Options:          options,
		TimeLimitSeconds: hashInt(fields, "time_limit"),
		CreatedAt:        hashTime(fields, "created_at"),
		UpdatedAt:        hashTime(fields, "updated_at"),
		StartedAt:        hashTime(fields, "started_at"),
		EndedAt:          hashTime(fields, "ended_at"),
	}, nil
}

// --- repository.PollRepository Implementation ---

// SaveAllToRoom 在一次批量序列中写入实体并追加房间索引。
func (r *PollRepository) SaveAllToRoom(ctx context.Context, roomID string, polls []*domain.Poll) error {
	if len(polls) == 0 {
		return nil
	}
	indexKey := r.roomIndexKey(roomID)
	pipe := r.client.TxPipeline()
	for _, poll := range polls {
		fields, err := pollFields(poll)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		r.addSaveToPipeline(ctx, pipe, r.pollKey(poll.ID), fields, r.opts.RoomRetention)
		pipe.RPush(ctx, indexKey, poll.ID)
	}
	pipe.Expire(ctx, indexKey, r.opts.RoomRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to save %d polls to room %s: %w", len(polls), roomID, err)
	}
	return nil
}

// RemoveAllFromRoom 删除实体并从索引移除 ID，幂等。
func (r *PollRepository) RemoveAllFromRoom(ctx context.Context, roomID string, pollIDs []string) error {
	if len(pollIDs) == 0 {
		return nil
	}
	indexKey := r.roomIndexKey(roomID)
	pipe := r.client.TxPipeline()
	for _, pollID := range pollIDs {
		r.addDeleteToPipeline(ctx, pipe, r.pollKey(pollID))
		pipe.LRem(ctx, indexKey, 0, pollID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to remove %d polls from room %s: %w", len(pollIDs), roomID, err)
	}
	return nil
}

func (r *PollRepository) FindByID(ctx context.Context, pollID string) (*domain.Poll, error) {
	fields, err := r.findHash(ctx, r.pollKey(pollID))
	if err != nil {
		return nil, err
	}
	poll, err := pollFromFields(fields)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return poll, nil
}

// FindByRoom 先读房间索引，再批量获取全部实体。索引不存在视为空房间。
func (r *PollRepository) FindByRoom(ctx context.Context, roomID string) ([]*domain.Poll, error) {
	indexKey := r.roomIndexKey(roomID)
	pollIDs, err := r.client.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read poll index for room %s: %w", roomID, err)
	}
	if len(pollIDs) == 0 {
		return []*domain.Poll{}, nil
	}
	keys := make([]string, len(pollIDs))
	for i, pollID := range pollIDs {
		keys[i] = r.pollKey(pollID)
	}
	entries, err := r.findHashes(ctx, keys)
	if err != nil {
		return nil, err
	}
	polls := make([]*domain.Poll, 0, len(entries))
	for i, fields := range entries {
		if fields == nil {
			// 实体先于索引过期，跳过空洞
			continue
		}
		poll, convErr := pollFromFields(fields)
		if convErr != nil {
			logrus.WithError(convErr).WithField("poll_id", pollIDs[i]).Warn("Skipping undecodable poll entity")
			continue
		}
		polls = append(polls, poll)
	}
	return polls, nil
}

// Activate 把状态更新、活动标记和零计数初始化合并为一次批量序列。
// 活动标记的 TTL = 投票时限；计数 key 的 TTL 额外加上安全余量，
// 使计数存活时间长于投票本身，余量窗口内不会出现可读实体引用已消失计数的情况。
func (r *PollRepository) Activate(ctx context.Context, poll *domain.Poll, timeLimit time.Duration) error {
	pipe := r.client.TxPipeline()
	r.addUpdatePartialToPipeline(ctx, pipe, r.pollKey(poll.ID), map[string]interface{}{
		"status":     string(domain.PollStatusActive),
		"time_limit": poll.TimeLimitSeconds,
		"started_at": timeField(poll.StartedAt),
		"ended_at":   timeField(poll.EndedAt),
		"updated_at": timeField(poll.UpdatedAt),
	})
	pipe.Set(ctx, r.activeKey(poll.ID), "1", timeLimit)
	zeroCounts := make(map[string]interface{}, len(poll.Options))
	for _, option := range poll.Options {
		zeroCounts[strconv.Itoa(option.ID)] = 0
	}
	if len(zeroCounts) > 0 {
		pipe.HSet(ctx, r.countsKey(poll.ID), zeroCounts)
	}
	pipe.Expire(ctx, r.countsKey(poll.ID), timeLimit+r.opts.CounterTTLMargin)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to activate poll %s: %w", poll.ID, err)
	}
	return nil
}

// Deactivate 回滚 Activate: 状态回退到 pending，删除活动标记与计数。
func (r *PollRepository) Deactivate(ctx context.Context, pollID string) error {
	pipe := r.client.TxPipeline()
	r.addUpdatePartialToPipeline(ctx, pipe, r.pollKey(pollID), map[string]interface{}{
		"status":     string(domain.PollStatusPending),
		"started_at": 0,
		"ended_at":   0,
		"updated_at": time.Now().UnixMilli(),
	})
	r.addDeleteToPipeline(ctx, pipe, r.activeKey(pollID))
	r.addDeleteToPipeline(ctx, pipe, r.countsKey(pollID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to deactivate poll %s: %w", pollID, err)
	}
	return nil
}

// IsActive 检查活动标记是否仍然存在。
func (r *PollRepository) IsActive(ctx context.Context, pollID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.activeKey(pollID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to check activity flag for poll %s: %w", pollID, err)
	}
	return n == 1, nil
}

// AddVoter 借助 SADD 的返回值同时完成 "是否已投" 的检查与占位，
// 同一参与者的并发请求最多只有一个得到 true。
func (r *PollRepository) AddVoter(ctx context.Context, pollID, participantID string) (bool, error) {
	added, err := r.client.SAdd(ctx, r.votersKey(pollID), participantID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to add voter %s to poll %s: %w", participantID, pollID, err)
	}
	return added == 1, nil
}

func (r *PollRepository) RemoveVoter(ctx context.Context, pollID, participantID string) error {
	if err := r.client.SRem(ctx, r.votersKey(pollID), participantID).Err(); err != nil {
		return fmt.Errorf("redis: failed to remove voter %s from poll %s: %w", participantID, pollID, err)
	}
	return nil
}

// ApplyVote 递增选项计数、刷新去重集合过期并读回完整计数表，一次批量完成。
func (r *PollRepository) ApplyVote(ctx context.Context, pollID string, optionID int) (map[string]string, error) {
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, r.countsKey(pollID), strconv.Itoa(optionID), 1)
	pipe.Expire(ctx, r.votersKey(pollID), r.opts.SubmissionRetention)
	countsCmd := pipe.HGetAll(ctx, r.countsKey(pollID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: failed to apply vote on poll %s option %d: %w", pollID, optionID, err)
	}
	return countsCmd.Val(), nil
}

// UndoVote 补偿 ApplyVote: 移除参与者占位并把计数减一，
// 使重试的投票不会被静默挡住。
func (r *PollRepository) UndoVote(ctx context.Context, pollID, participantID string, optionID int) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, r.votersKey(pollID), participantID)
	pipe.HIncrBy(ctx, r.countsKey(pollID), strconv.Itoa(optionID), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to undo vote of %s on poll %s: %w", participantID, pollID, err)
	}
	return nil
}

// Finalize 把状态置为 ended、删除活动标记并读回最终计数表。
func (r *PollRepository) Finalize(ctx context.Context, pollID string, endedAt time.Time) (map[string]string, error) {
	pipe := r.client.TxPipeline()
	r.addUpdatePartialToPipeline(ctx, pipe, r.pollKey(pollID), map[string]interface{}{
		"status":     string(domain.PollStatusEnded),
		"ended_at":   timeField(endedAt),
		"updated_at": timeField(endedAt),
	})
	r.addDeleteToPipeline(ctx, pipe, r.activeKey(pollID))
	countsCmd := pipe.HGetAll(ctx, r.countsKey(pollID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: failed to finalize poll %s: %w", pollID, err)
	}
	return countsCmd.Val(), nil
}
