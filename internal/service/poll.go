package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"live-classroom/internal/domain"
	"live-classroom/internal/repository"
)

// PollService 负责投票的生命周期、房间级索引、原子激活、
// 带去重保证的投票提交以及失败时的补偿回滚。
type PollService struct {
	pollRepo repository.PollRepository
}

// NewPollService 创建 PollService 实例。
func NewPollService(pollRepo repository.PollRepository) *PollService {
	if pollRepo == nil {
		panic("PollRepository cannot be nil for PollService")
	}
	return &PollService{pollRepo: pollRepo}
}

// AddPollsToRoom 批量创建投票并写入房间索引。
// 批量序列中任何命令失败都会触发补偿回滚: 删除全部实体并清理索引，
// 然后把原始错误向上抛出；回滚自身失败是更高严重级别的独立状况，
// 记录后不掩盖原始错误。
func (s *PollService) AddPollsToRoom(ctx context.Context, roomID string, drafts []domain.PollDraft) ([]*domain.Poll, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "poll_count": len(drafts)})

	// 1. 构造 pending 状态的实体，选项 ID 为稠密 0 基下标
	now := time.Now().UTC()
	polls := make([]*domain.Poll, len(drafts))
	for i, draft := range drafts {
		polls[i] = domain.NewPoll(roomID, draft, now)
	}

	// 2. 一次批量序列写入实体 + 房间索引
	if err := s.pollRepo.SaveAllToRoom(ctx, roomID, polls); err != nil {
		logCtx.WithError(err).Error("Failed to save polls, starting compensating rollback")

		// 3. 补偿回滚: 逆向清理已尝试写入的全部状态
		pollIDs := make([]string, len(polls))
		for i, poll := range polls {
			pollIDs[i] = poll.ID
		}
		if rbErr := s.pollRepo.RemoveAllFromRoom(ctx, roomID, pollIDs); rbErr != nil {
			// 回滚失败: 残留状态需要人工清理
			logCtx.WithError(rbErr).WithField("manual_cleanup_required", true).
				Error("Rollback of poll creation failed, residual poll keys left in store")
		}
		return nil, fmt.Errorf("failed to add polls to room %s: %w", roomID, err)
	}

	logCtx.Info("Polls added to room")
	return polls, nil
}

// GetPollsInRoom 返回房间内的全部投票，房间尚无索引时返回空列表。
func (s *PollService) GetPollsInRoom(ctx context.Context, roomID string) ([]*domain.Poll, error) {
	polls, err := s.pollRepo.FindByRoom(ctx, roomID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to load polls in room")
		return nil, fmt.Errorf("failed to load polls in room %s: %w", roomID, err)
	}
	return polls, nil
}

// StartPoll 激活投票: 状态置为 active、写入带 TTL 的活动标记、初始化零计数，
// 三者合并为一次批量序列。返回更新后的实体，StartedAt/EndedAt 是调用方
// 可广播的权威截止时间。失败时回滚为 pending 并删除标记与计数。
func (s *PollService) StartPoll(ctx context.Context, pollID string, timeLimitSeconds int) (*domain.Poll, error) {
	logCtx := logrus.WithField("poll_id", pollID)

	// 1. 前置条件: 投票必须存在
	poll, err := s.pollRepo.FindByID(ctx, pollID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logCtx.Warn("StartPoll: poll not found")
			return nil, ErrPollNotFound
		}
		logCtx.WithError(err).Error("StartPoll: failed to load poll")
		return nil, fmt.Errorf("failed to load poll %s: %w", pollID, err)
	}

	// 2. 计算权威起止时间
	if timeLimitSeconds <= 0 {
		timeLimitSeconds = poll.TimeLimitSeconds
	}
	if timeLimitSeconds <= 0 {
		timeLimitSeconds = 60
	}
	timeLimit := time.Duration(timeLimitSeconds) * time.Second
	now := time.Now().UTC()
	poll.Status = domain.PollStatusActive
	poll.TimeLimitSeconds = timeLimitSeconds
	poll.StartedAt = now
	poll.EndedAt = now.Add(timeLimit)
	poll.UpdatedAt = now

	// 3. 一次批量序列完成激活
	if err := s.pollRepo.Activate(ctx, poll, timeLimit); err != nil {
		logCtx.WithError(err).Error("Failed to activate poll, starting compensating rollback")
		if rbErr := s.pollRepo.Deactivate(ctx, pollID); rbErr != nil {
			logCtx.WithError(rbErr).WithField("manual_cleanup_required", true).
				Error("Rollback of poll activation failed, poll state may be inconsistent")
		}
		return nil, fmt.Errorf("failed to start poll %s: %w", pollID, err)
	}

	logCtx.WithFields(logrus.Fields{"started_at": poll.StartedAt, "ended_at": poll.EndedAt}).Info("Poll started")
	return poll, nil
}

// SubmitVote 提交一票并返回按选项 ID 排序的实时计票结果。
// 去重集合的插入结果是唯一的并发控制: "预约这一票" 与 "是否已投" 的检查
// 在 SADD 中一步完成，因此应用计数失败后总能安全补偿——
// 预约是重试唯一可能被挡住的状态。
func (s *PollService) SubmitVote(ctx context.Context, pollID, participantID string, optionID int) ([]domain.OptionCount, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"poll_id":        pollID,
		"participant_id": participantID,
		"option_id":      optionID,
	})

	// 1. 活动标记检查: 标记不存在则拒绝，无任何副作用
	active, err := s.pollRepo.IsActive(ctx, pollID)
	if err != nil {
		logCtx.WithError(err).Error("SubmitVote: failed to check activity flag")
		return nil, fmt.Errorf("failed to check poll %s activity: %w", pollID, err)
	}
	if !active {
		logCtx.Debug("SubmitVote: poll not active")
		return nil, ErrNotActive
	}

	// 2. 去重保证: SADD 已存在则为重复投票，到此为止
	added, err := s.pollRepo.AddVoter(ctx, pollID, participantID)
	if err != nil {
		logCtx.WithError(err).Error("SubmitVote: failed to reserve vote")
		return nil, fmt.Errorf("failed to reserve vote on poll %s: %w", pollID, err)
	}
	if !added {
		logCtx.Debug("SubmitVote: duplicate vote rejected")
		return nil, ErrDuplicateSubmission
	}

	// 3. 应用计票: 递增计数、刷新去重集合过期、读回计数表，一次批量完成
	counts, err := s.pollRepo.ApplyVote(ctx, pollID, optionID)
	if err != nil {
		logCtx.WithError(err).Error("SubmitVote: failed to apply vote, starting compensating rollback")
		// 补偿: 撤销预约并回退计数，恢复提交前状态，重试不会被静默拒绝
		if rbErr := s.pollRepo.UndoVote(ctx, pollID, participantID, optionID); rbErr != nil {
			logCtx.WithError(rbErr).WithField("manual_cleanup_required", true).
				Error("Rollback of vote failed, voter reservation may be orphaned")
		}
		return nil, fmt.Errorf("failed to apply vote on poll %s: %w", pollID, err)
	}

	// 4. 整形为按选项 ID 排序的计票结果
	return shapeTally(counts), nil
}

// FinalizePoll 把投票显式置为 ended 并返回最终计票结果。
// 活动窗口本身由标记的 TTL 强制，本方法只负责收尾的状态与广播数据。
func (s *PollService) FinalizePoll(ctx context.Context, pollID string) (*domain.Poll, []domain.OptionCount, error) {
	logCtx := logrus.WithField("poll_id", pollID)

	poll, err := s.pollRepo.FindByID(ctx, pollID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrPollNotFound
		}
		return nil, nil, fmt.Errorf("failed to load poll %s: %w", pollID, err)
	}

	now := time.Now().UTC()
	counts, err := s.pollRepo.Finalize(ctx, pollID, now)
	if err != nil {
		logCtx.WithError(err).Error("Failed to finalize poll")
		return nil, nil, fmt.Errorf("failed to finalize poll %s: %w", pollID, err)
	}

	tally := shapeTally(counts)
	poll.Status = domain.PollStatusEnded
	poll.EndedAt = now
	poll.UpdatedAt = now
	for _, entry := range tally {
		for i := range poll.Options {
			if poll.Options[i].ID == entry.ID {
				poll.Options[i].Count = entry.Count
			}
		}
	}

	logCtx.Info("Poll finalized")
	return poll, tally, nil
}

// shapeTally 把计数表 (选项 ID 字符串 -> 计数字符串) 整形为按 ID 升序的结果。
func shapeTally(counts map[string]string) []domain.OptionCount {
	tally := make([]domain.OptionCount, 0, len(counts))
	for rawID, rawCount := range counts {
		id, err := strconv.Atoi(rawID)
		if err != nil {
			logrus.WithField("option_id", rawID).Warn("Skipping unparsable option id in tally")
			continue
		}
		count, err := strconv.ParseInt(rawCount, 10, 64)
		if err != nil {
			logrus.WithField("option_id", rawID).Warn("Skipping unparsable option count in tally")
			continue
		}
		tally = append(tally, domain.OptionCount{ID: id, Count: count})
	}
	sort.Slice(tally, func(i, j int) bool { return tally[i].ID < tally[j].ID })
	return tally
}
