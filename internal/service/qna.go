package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"live-classroom/internal/domain"
	"live-classroom/internal/repository"
)

// QnaService 与 PollService 的生命周期和回滚纪律一致，
// 差别在于提交是把回答追加到有序列表而非递增计数。
type QnaService struct {
	qnaRepo repository.QnaRepository
}

// NewQnaService 创建 QnaService 实例。
func NewQnaService(qnaRepo repository.QnaRepository) *QnaService {
	if qnaRepo == nil {
		panic("QnaRepository cannot be nil for QnaService")
	}
	return &QnaService{qnaRepo: qnaRepo}
}

// AddQnaToRoom 批量创建问答并写入房间索引，失败时补偿回滚后抛出原始错误。
func (s *QnaService) AddQnaToRoom(ctx context.Context, roomID string, drafts []domain.QnaDraft) ([]*domain.Qna, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "qna_count": len(drafts)})

	now := time.Now().UTC()
	qnas := make([]*domain.Qna, len(drafts))
	for i, draft := range drafts {
		qnas[i] = domain.NewQna(roomID, draft, now)
	}

	if err := s.qnaRepo.SaveAllToRoom(ctx, roomID, qnas); err != nil {
		logCtx.WithError(err).Error("Failed to save qna, starting compensating rollback")
		qnaIDs := make([]string, len(qnas))
		for i, qna := range qnas {
			qnaIDs[i] = qna.ID
		}
		if rbErr := s.qnaRepo.RemoveAllFromRoom(ctx, roomID, qnaIDs); rbErr != nil {
			logCtx.WithError(rbErr).WithField("manual_cleanup_required", true).
				Error("Rollback of qna creation failed, residual qna keys left in store")
		}
		return nil, fmt.Errorf("failed to add qna to room %s: %w", roomID, err)
	}

	logCtx.Info("Qna added to room")
	return qnas, nil
}

// GetQnaInRoom 返回房间内的全部问答，房间尚无索引时返回空列表。
func (s *QnaService) GetQnaInRoom(ctx context.Context, roomID string) ([]*domain.Qna, error) {
	qnas, err := s.qnaRepo.FindByRoom(ctx, roomID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to load qna in room")
		return nil, fmt.Errorf("failed to load qna in room %s: %w", roomID, err)
	}
	return qnas, nil
}

// StartQna 激活问答: 只有状态变更和带 TTL 的活动标记，没有计数要初始化。
func (s *QnaService) StartQna(ctx context.Context, qnaID string, timeLimitSeconds int) (*domain.Qna, error) {
	logCtx := logrus.WithField("qna_id", qnaID)

	qna, err := s.qnaRepo.FindByID(ctx, qnaID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logCtx.Warn("StartQna: qna not found")
			return nil, ErrQnaNotFound
		}
		logCtx.WithError(err).Error("StartQna: failed to load qna")
		return nil, fmt.Errorf("failed to load qna %s: %w", qnaID, err)
	}

	if timeLimitSeconds <= 0 {
		timeLimitSeconds = qna.TimeLimitSeconds
	}
	if timeLimitSeconds <= 0 {
		timeLimitSeconds = 60
	}
	timeLimit := time.Duration(timeLimitSeconds) * time.Second
	now := time.Now().UTC()
	qna.Status = domain.PollStatusActive
	qna.TimeLimitSeconds = timeLimitSeconds
	qna.StartedAt = now
	qna.EndedAt = now.Add(timeLimit)
	qna.UpdatedAt = now

	if err := s.qnaRepo.Activate(ctx, qna, timeLimit); err != nil {
		logCtx.WithError(err).Error("Failed to activate qna, starting compensating rollback")
		if rbErr := s.qnaRepo.Deactivate(ctx, qnaID); rbErr != nil {
			logCtx.WithError(rbErr).WithField("manual_cleanup_required", true).
				Error("Rollback of qna activation failed, qna state may be inconsistent")
		}
		return nil, fmt.Errorf("failed to start qna %s: %w", qnaID, err)
	}

	logCtx.WithFields(logrus.Fields{"started_at": qna.StartedAt, "ended_at": qna.EndedAt}).Info("Qna started")
	return qna, nil
}

// SubmitAnswer 追加一条回答并返回新的回答总数。
// 去重模式与投票相同: 活动标记检查，然后以回答者集合的插入作为唯一并发控制；
// 追加失败时补偿撤销集合占位后抛出原始错误。
func (s *QnaService) SubmitAnswer(ctx context.Context, qnaID, participantID, participantName, text string) (int64, error) {
	logCtx := logrus.WithFields(logrus.Fields{"qna_id": qnaID, "participant_id": participantID})

	// 1. 活动标记检查
	active, err := s.qnaRepo.IsActive(ctx, qnaID)
	if err != nil {
		logCtx.WithError(err).Error("SubmitAnswer: failed to check activity flag")
		return 0, fmt.Errorf("failed to check qna %s activity: %w", qnaID, err)
	}
	if !active {
		logCtx.Debug("SubmitAnswer: qna not active")
		return 0, ErrNotActive
	}

	// 2. 去重保证
	added, err := s.qnaRepo.AddAnswerer(ctx, qnaID, participantID)
	if err != nil {
		logCtx.WithError(err).Error("SubmitAnswer: failed to reserve answer")
		return 0, fmt.Errorf("failed to reserve answer on qna %s: %w", qnaID, err)
	}
	if !added {
		logCtx.Debug("SubmitAnswer: duplicate answer rejected")
		return 0, ErrDuplicateSubmission
	}

	// 3. 追加回答，返回新列表长度作为回答计数
	answer := domain.Answer{
		ParticipantID:   participantID,
		ParticipantName: participantName,
		Text:            text,
	}
	count, err := s.qnaRepo.AppendAnswer(ctx, qnaID, answer)
	if err != nil {
		logCtx.WithError(err).Error("SubmitAnswer: failed to append answer, starting compensating rollback")
		if rbErr := s.qnaRepo.RemoveAnswerer(ctx, qnaID, participantID); rbErr != nil {
			logCtx.WithError(rbErr).WithField("manual_cleanup_required", true).
				Error("Rollback of answer failed, answerer reservation may be orphaned")
		}
		return 0, fmt.Errorf("failed to append answer to qna %s: %w", qnaID, err)
	}

	return count, nil
}

// GetAnswers 返回问答的全部回答，仅当问答标记为公开时可读。
func (s *QnaService) GetAnswers(ctx context.Context, qnaID string) ([]domain.Answer, error) {
	qna, err := s.qnaRepo.FindByID(ctx, qnaID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrQnaNotFound
		}
		return nil, fmt.Errorf("failed to load qna %s: %w", qnaID, err)
	}
	if !qna.IsPublic {
		return nil, ErrAnswersPrivate
	}
	answers, err := s.qnaRepo.Answers(ctx, qnaID)
	if err != nil {
		logrus.WithError(err).WithField("qna_id", qnaID).Error("Failed to load answers")
		return nil, fmt.Errorf("failed to load answers for qna %s: %w", qnaID, err)
	}
	return answers, nil
}

// FinalizeQna 把问答显式置为 ended 并返回更新后的实体与回答总数。
func (s *QnaService) FinalizeQna(ctx context.Context, qnaID string) (*domain.Qna, int, error) {
	logCtx := logrus.WithField("qna_id", qnaID)

	qna, err := s.qnaRepo.FindByID(ctx, qnaID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, ErrQnaNotFound
		}
		return nil, 0, fmt.Errorf("failed to load qna %s: %w", qnaID, err)
	}

	now := time.Now().UTC()
	if err := s.qnaRepo.Finalize(ctx, qnaID, now); err != nil {
		logCtx.WithError(err).Error("Failed to finalize qna")
		return nil, 0, fmt.Errorf("failed to finalize qna %s: %w", qnaID, err)
	}
	qna.Status = domain.PollStatusEnded
	qna.EndedAt = now
	qna.UpdatedAt = now

	answers, err := s.qnaRepo.Answers(ctx, qnaID)
	if err != nil {
		// 收尾广播缺少计数并不致命，记录后按 0 处理
		logCtx.WithError(err).Warn("Failed to load answers while finalizing qna")
		return qna, 0, nil
	}

	logCtx.Info("Qna finalized")
	return qna, len(answers), nil
}
