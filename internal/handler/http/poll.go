package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/domain"
	"live-classroom/internal/events"
	"live-classroom/internal/service"
	"live-classroom/internal/tasks"
)

// PollHandler 暴露主持人侧的投票管理接口。
// 参与者侧的投票提交走 WebSocket 动作，不在这里。
type PollHandler struct {
	pollService *service.PollService
	publisher   *events.Publisher
	asynqClient *asynq.Client
}

// NewPollHandler 创建 PollHandler 实例
func NewPollHandler(pollService *service.PollService, publisher *events.Publisher, asynqClient *asynq.Client) *PollHandler {
	if pollService == nil || publisher == nil || asynqClient == nil {
		panic("PollHandler dependencies cannot be nil")
	}
	return &PollHandler{pollService: pollService, publisher: publisher, asynqClient: asynqClient}
}

type createPollsRequest struct {
	Polls []domain.PollDraft `json:"polls" binding:"required,min=1,dive"`
}

// CreatePolls 处理 POST /api/rooms/:roomId/polls
func (h *PollHandler) CreatePolls(c *gin.Context) {
	roomID := c.Param("roomId")
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "handler": "CreatePolls"})

	var req createPollsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Invalid create polls request")
		c.JSON(http.StatusBadRequest, ErrorResponse("invalid request body: "+err.Error()))
		return
	}
	for _, draft := range req.Polls {
		if len(draft.Options) < 2 {
			c.JSON(http.StatusBadRequest, ErrorResponse("each poll needs at least two options"))
			return
		}
	}

	polls, err := h.pollService.AddPollsToRoom(c.Request.Context(), roomID, req.Polls)
	if err != nil {
		logCtx.WithError(err).Error("Failed to create polls")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), roomID, events.TypePollCreated, gin.H{"polls": polls}); err != nil {
		logCtx.WithError(err).Error("Failed to publish poll created event")
	}
	c.JSON(http.StatusCreated, SuccessResponse(polls))
}

// ListPolls 处理 GET /api/rooms/:roomId/polls
func (h *PollHandler) ListPolls(c *gin.Context) {
	roomID := c.Param("roomId")
	polls, err := h.pollService.GetPollsInRoom(c.Request.Context(), roomID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to list polls")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(polls))
}

type startPollRequest struct {
	TimeLimitSeconds int `json:"time_limit_seconds"`
}

// StartPoll 处理 POST /api/polls/:pollId/start
// 激活成功后广播 poll.started，并调度截止时刻的收尾任务。
func (h *PollHandler) StartPoll(c *gin.Context) {
	pollID := c.Param("pollId")
	logCtx := logrus.WithFields(logrus.Fields{"poll_id": pollID, "handler": "StartPoll"})

	var req startPollRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse("invalid request body: "+err.Error()))
		return
	}

	poll, err := h.pollService.StartPoll(c.Request.Context(), pollID, req.TimeLimitSeconds)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to start poll")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), poll.RoomID, events.TypePollStarted, poll); err != nil {
		logCtx.WithError(err).Error("Failed to publish poll started event")
	}

	// 调度截止时刻的收尾任务。提交窗口由活动标记的 TTL 强制，
	// 任务失败只影响收尾广播的及时性，不影响正确性，所以只记日志。
	task, err := tasks.NewPollFinalizeTask(poll.RoomID, poll.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build poll finalize task")
	} else if _, err := h.asynqClient.Enqueue(task, asynq.ProcessAt(poll.EndedAt), asynq.Queue("default")); err != nil {
		logCtx.WithError(err).Error("Failed to enqueue poll finalize task")
	}

	c.JSON(http.StatusOK, SuccessResponse(poll))
}
