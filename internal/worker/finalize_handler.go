package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/events"
	"live-classroom/internal/service"
	"live-classroom/internal/tasks"
)

// FinalizeHandler 在活动截止时刻执行收尾: 把实体显式置为 ended 并广播最终结果。
// 提交窗口的关闭由存储端活动标记的 TTL 保证，与本处理器是否及时执行无关。
type FinalizeHandler struct {
	pollService *service.PollService
	qnaService  *service.QnaService
	publisher   *events.Publisher
}

// NewFinalizeHandler 创建 FinalizeHandler 实例。
func NewFinalizeHandler(pollService *service.PollService, qnaService *service.QnaService, publisher *events.Publisher) *FinalizeHandler {
	if pollService == nil || qnaService == nil || publisher == nil {
		panic("FinalizeHandler dependencies cannot be nil")
	}
	return &FinalizeHandler{pollService: pollService, qnaService: qnaService, publisher: publisher}
}

// ProcessPollFinalize 处理投票收尾任务。
func (h *FinalizeHandler) ProcessPollFinalize(ctx context.Context, t *asynq.Task) error {
	var payload tasks.FinalizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// 载荷损坏无法重试，直接丢弃
		return fmt.Errorf("failed to unmarshal poll finalize payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": payload.RoomID,
		"poll_id": payload.EntityID,
		"task":    tasks.TypePollFinalize,
	})

	poll, tally, err := h.pollService.FinalizePoll(ctx, payload.EntityID)
	if err != nil {
		if errors.Is(err, service.ErrPollNotFound) {
			// 房间保留期已过、实体被清理，没有可收尾的东西
			logCtx.Info("Poll already expired before finalize, skipping")
			return nil
		}
		logCtx.WithError(err).Error("Failed to finalize poll")
		return err
	}

	if err := h.publisher.Publish(ctx, payload.RoomID, events.TypePollEnded, map[string]interface{}{
		"poll":  poll,
		"tally": tally,
	}); err != nil {
		logCtx.WithError(err).Error("Failed to publish poll ended event")
		return err
	}
	logCtx.Info("Poll finalized and result broadcast")
	return nil
}

// ProcessQnaFinalize 处理问答收尾任务。
func (h *FinalizeHandler) ProcessQnaFinalize(ctx context.Context, t *asynq.Task) error {
	var payload tasks.FinalizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal qna finalize payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": payload.RoomID,
		"qna_id":  payload.EntityID,
		"task":    tasks.TypeQnaFinalize,
	})

	qna, answerCount, err := h.qnaService.FinalizeQna(ctx, payload.EntityID)
	if err != nil {
		if errors.Is(err, service.ErrQnaNotFound) {
			logCtx.Info("Qna already expired before finalize, skipping")
			return nil
		}
		logCtx.WithError(err).Error("Failed to finalize qna")
		return err
	}

	if err := h.publisher.Publish(ctx, payload.RoomID, events.TypeQnaEnded, map[string]interface{}{
		"qna":          qna,
		"answer_count": answerCount,
	}); err != nil {
		logCtx.WithError(err).Error("Failed to publish qna ended event")
		return err
	}
	logCtx.Info("Qna finalized and count broadcast")
	return nil
}
