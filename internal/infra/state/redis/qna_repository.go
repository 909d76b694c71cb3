package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/domain"
)

// QnaRepository 是 repository.QnaRepository 的 Redis 实现。
// 与 PollRepository 结构一致，提交落点是回答列表的追加而非计数递增。
type QnaRepository struct {
	entityRepository
	opts Options
}

// NewQnaRepository 创建 QnaRepository 实例。
func NewQnaRepository(client *redis.Client, opts Options) *QnaRepository {
	opts = opts.withDefaults()
	return &QnaRepository{
		entityRepository: newEntityRepository(client, opts.KeyPrefix),
		opts:             opts,
	}
}

// --- Key Generation Helpers ---

func (r *QnaRepository) qnaKey(qnaID string) string {
	return fmt.Sprintf("%sqna:%s", r.keyPrefix, qnaID)
}

func (r *QnaRepository) activeKey(qnaID string) string {
	return fmt.Sprintf("%sqna:%s:active", r.keyPrefix, qnaID)
}

func (r *QnaRepository) answerersKey(qnaID string) string {
	return fmt.Sprintf("%sqna:%s:answerers", r.keyPrefix, qnaID)
}

func (r *QnaRepository) answersKey(qnaID string) string {
	return fmt.Sprintf("%sqna:%s:answers", r.keyPrefix, qnaID)
}

func (r *QnaRepository) roomIndexKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:qna", r.keyPrefix, roomID)
}

// --- Serialization ---

func qnaFields(qna *domain.Qna) map[string]interface{} {
	return map[string]interface{}{
		"id":         qna.ID,
		"room_id":    qna.RoomID,
		"status":     string(qna.Status),
		"title":      qna.Title,
		"time_limit": qna.TimeLimitSeconds,
		"is_public":  fmt.Sprintf("%t", qna.IsPublic),
		"created_at": timeField(qna.CreatedAt),
		"updated_at": timeField(qna.UpdatedAt),
		"started_at": timeField(qna.StartedAt),
		"ended_at":   timeField(qna.EndedAt),
	}
}

func qnaFromFields(fields map[string]string) *domain.Qna {
	return &domain.Qna{
		ID:               fields["id"],
		RoomID:           fields["room_id"],
		Status:           domain.PollStatus(fields["status"]),
		Title:            fields["title"],
		TimeLimitSeconds: hashInt(fields, "time_limit"),
		IsPublic:         hashBool(fields, "is_public"),
		CreatedAt:        hashTime(fields, "created_at"),
		UpdatedAt:        hashTime(fields, "updated_at"),
		StartedAt:        hashTime(fields, "started_at"),
		EndedAt:          hashTime(fields, "ended_at"),
	}
}

// --- repository.QnaRepository Implementation ---

func (r *QnaRepository) SaveAllToRoom(ctx context.Context, roomID string, qnas []*domain.Qna) error {
	if len(qnas) == 0 {
		return nil
	}
	indexKey := r.roomIndexKey(roomID)
	pipe := r.client.TxPipeline()
	for _, qna := range qnas {
		r.addSaveToPipeline(ctx, pipe, r.qnaKey(qna.ID), qnaFields(qna), r.opts.RoomRetention)
		pipe.RPush(ctx, indexKey, qna.ID)
	}
	pipe.Expire(ctx, indexKey, r.opts.RoomRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to save %d qna to room %s: %w", len(qnas), roomID, err)
	}
	return nil
}

func (r *QnaRepository) RemoveAllFromRoom(ctx context.Context, roomID string, qnaIDs []string) error {
	if len(qnaIDs) == 0 {
		return nil
	}
	indexKey := r.roomIndexKey(roomID)
	pipe := r.client.TxPipeline()
	for _, qnaID := range qnaIDs {
		r.addDeleteToPipeline(ctx, pipe, r.qnaKey(qnaID))
		pipe.LRem(ctx, indexKey, 0, qnaID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to remove %d qna from room %s: %w", len(qnaIDs), roomID, err)
	}
	return nil
}

func (r *QnaRepository) FindByID(ctx context.Context, qnaID string) (*domain.Qna, error) {
	fields, err := r.findHash(ctx, r.qnaKey(qnaID))
	if err != nil {
		return nil, err
	}
	return qnaFromFields(fields), nil
}

func (r *QnaRepository) FindByRoom(ctx context.Context, roomID string) ([]*domain.Qna, error) {
	indexKey := r.roomIndexKey(roomID)
	qnaIDs, err := r.client.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read qna index for room %s: %w", roomID, err)
	}
	if len(qnaIDs) == 0 {
		return []*domain.Qna{}, nil
	}
	keys := make([]string, len(qnaIDs))
	for i, qnaID := range qnaIDs {
		keys[i] = r.qnaKey(qnaID)
	}
	entries, err := r.findHashes(ctx, keys)
	if err != nil {
		return nil, err
	}
	qnas := make([]*domain.Qna, 0, len(entries))
	for _, fields := range entries {
		if fields == nil {
			continue
		}
		qnas = append(qnas, qnaFromFields(fields))
	}
	return qnas, nil
}

// Activate 只包含状态变更和活动标记，问答没有计数要初始化。
func (r *QnaRepository) Activate(ctx context.Context, qna *domain.Qna, timeLimit time.Duration) error {
	pipe := r.client.TxPipeline()
	r.addUpdatePartialToPipeline(ctx, pipe, r.qnaKey(qna.ID), map[string]interface{}{
		"status":     string(domain.PollStatusActive),
		"time_limit": qna.TimeLimitSeconds,
		"started_at": timeField(qna.StartedAt),
		"ended_at":   timeField(qna.EndedAt),
		"updated_at": timeField(qna.UpdatedAt),
	})
	pipe.Set(ctx, r.activeKey(qna.ID), "1", timeLimit)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to activate qna %s: %w", qna.ID, err)
	}
	return nil
}

func (r *QnaRepository) Deactivate(ctx context.Context, qnaID string) error {
	pipe := r.client.TxPipeline()
	r.addUpdatePartialToPipeline(ctx, pipe, r.qnaKey(qnaID), map[string]interface{}{
		"status":     string(domain.PollStatusPending),
		"started_at": 0,
		"ended_at":   0,
		"updated_at": time.Now().UnixMilli(),
	})
	r.addDeleteToPipeline(ctx, pipe, r.activeKey(qnaID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to deactivate qna %s: %w", qnaID, err)
	}
	return nil
}

func (r *QnaRepository) IsActive(ctx context.Context, qnaID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.activeKey(qnaID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to check activity flag for qna %s: %w", qnaID, err)
	}
	return n == 1, nil
}

func (r *QnaRepository) AddAnswerer(ctx context.Context, qnaID, participantID string) (bool, error) {
	added, err := r.client.SAdd(ctx, r.answerersKey(qnaID), participantID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to add answerer %s to qna %s: %w", participantID, qnaID, err)
	}
	return added == 1, nil
}

func (r *QnaRepository) RemoveAnswerer(ctx context.Context, qnaID, participantID string) error {
	if err := r.client.SRem(ctx, r.answerersKey(qnaID), participantID).Err(); err != nil {
		return fmt.Errorf("redis: failed to remove answerer %s from qna %s: %w", participantID, qnaID, err)
	}
	return nil
}

// AppendAnswer 追加序列化的回答、刷新去重集合与列表的过期，返回新的列表长度。
func (r *QnaRepository) AppendAnswer(ctx context.Context, qnaID string, answer domain.Answer) (int64, error) {
	payload, err := json.Marshal(answer)
	if err != nil {
		return 0, fmt.Errorf("redis: failed to marshal answer for qna %s: %w", qnaID, err)
	}
	pipe := r.client.TxPipeline()
	lenCmd := pipe.RPush(ctx, r.answersKey(qnaID), string(payload))
	pipe.Expire(ctx, r.answersKey(qnaID), r.opts.SubmissionRetention)
	pipe.Expire(ctx, r.answerersKey(qnaID), r.opts.SubmissionRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: failed to append answer to qna %s: %w", qnaID, err)
	}
	return lenCmd.Val(), nil
}

func (r *QnaRepository) Answers(ctx context.Context, qnaID string) ([]domain.Answer, error) {
	entries, err := r.client.LRange(ctx, r.answersKey(qnaID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read answers for qna %s: %w", qnaID, err)
	}
	answers := make([]domain.Answer, 0, len(entries))
	for _, entry := range entries {
		var answer domain.Answer
		if err := json.Unmarshal([]byte(entry), &answer); err != nil {
			logrus.WithError(err).WithField("qna_id", qnaID).Warn("Skipping undecodable answer entry")
			continue
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

func (r *QnaRepository) Finalize(ctx context.Context, qnaID string, endedAt time.Time) error {
	pipe := r.client.TxPipeline()
	r.addUpdatePartialToPipeline(ctx, pipe, r.qnaKey(qnaID), map[string]interface{}{
		"status":     string(domain.PollStatusEnded),
		"ended_at":   timeField(endedAt),
		"updated_at": timeField(endedAt),
	})
	r.addDeleteToPipeline(ctx, pipe, r.activeKey(qnaID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to finalize qna %s: %w", qnaID, err)
	}
	return nil
}
