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

// QnaHandler 暴露主持人侧的开放问答管理接口。
type QnaHandler struct {
	qnaService  *service.QnaService
	publisher   *events.Publisher
	asynqClient *asynq.Client
}

// NewQnaHandler 创建 QnaHandler 实例
func NewQnaHandler(qnaService *service.QnaService, publisher *events.Publisher, asynqClient *asynq.Client) *QnaHandler {
	if qnaService == nil || publisher == nil || asynqClient == nil {
		panic("QnaHandler dependencies cannot be nil")
	}
	return &QnaHandler{qnaService: qnaService, publisher: publisher, asynqClient: asynqClient}
}

type createQnaRequest struct {
	Qna []domain.QnaDraft `json:"qna" binding:"required,min=1,dive"`
}

// CreateQna 处理 POST /api/rooms/:roomId/qna
func (h *QnaHandler) CreateQna(c *gin.Context) {
	roomID := c.Param("roomId")
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "handler": "CreateQna"})

	var req createQnaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Invalid create qna request")
		c.JSON(http.StatusBadRequest, ErrorResponse("invalid request body: "+err.Error()))
		return
	}

	qnas, err := h.qnaService.AddQnaToRoom(c.Request.Context(), roomID, req.Qna)
	if err != nil {
		logCtx.WithError(err).Error("Failed to create qna")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), roomID, events.TypeQnaCreated, gin.H{"qna": qnas}); err != nil {
		logCtx.WithError(err).Error("Failed to publish qna created event")
	}
	c.JSON(http.StatusCreated, SuccessResponse(qnas))
}

// ListQna 处理 GET /api/rooms/:roomId/qna
func (h *QnaHandler) ListQna(c *gin.Context) {
	roomID := c.Param("roomId")
	qnas, err := h.qnaService.GetQnaInRoom(c.Request.Context(), roomID)
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("Failed to list qna")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(qnas))
}

type startQnaRequest struct {
	TimeLimitSeconds int `json:"time_limit_seconds"`
}

// StartQna 处理 POST /api/qna/:qnaId/start
func (h *QnaHandler) StartQna(c *gin.Context) {
	qnaID := c.Param("qnaId")
	logCtx := logrus.WithFields(logrus.Fields{"qna_id": qnaID, "handler": "StartQna"})

	var req startQnaRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse("invalid request body: "+err.Error()))
		return
	}

	qna, err := h.qnaService.StartQna(c.Request.Context(), qnaID, req.TimeLimitSeconds)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to start qna")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), qna.RoomID, events.TypeQnaStarted, qna); err != nil {
		logCtx.WithError(err).Error("Failed to publish qna started event")
	}

	task, err := tasks.NewQnaFinalizeTask(qna.RoomID, qna.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build qna finalize task")
	} else if _, err := h.asynqClient.Enqueue(task, asynq.ProcessAt(qna.EndedAt), asynq.Queue("default")); err != nil {
		logCtx.WithError(err).Error("Failed to enqueue qna finalize task")
	}

	c.JSON(http.StatusOK, SuccessResponse(qna))
}

// GetAnswers 处理 GET /api/qna/:qnaId/answers
// 仅当问答标记为公开时返回回答列表。
func (h *QnaHandler) GetAnswers(c *gin.Context) {
	qnaID := c.Param("qnaId")
	answers, err := h.qnaService.GetAnswers(c.Request.Context(), qnaID)
	if err != nil {
		logrus.WithError(err).WithField("qna_id", qnaID).Warn("Failed to get answers")
		c.JSON(statusFor(err), ErrorResponse(messageFor(err)))
		return
	}
	c.JSON(http.StatusOK, SuccessResponse(answers))
}
