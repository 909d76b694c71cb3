package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型名。finalize 任务在活动截止时刻把实体显式置为 ended 并广播收尾事件；
// 提交窗口的正确性始终由存储端带 TTL 的活动标记保证，任务只负责及时通知。
const (
	TypePollFinalize = "poll:finalize"
	TypeQnaFinalize  = "qna:finalize"
)

// FinalizePayload 是 finalize 任务的载荷。
type FinalizePayload struct {
	RoomID   string `json:"room_id"`
	EntityID string `json:"entity_id"`
}

// NewPollFinalizeTask 创建投票收尾任务。
func NewPollFinalizeTask(roomID, pollID string) (*asynq.Task, error) {
	payload, err := json.Marshal(FinalizePayload{RoomID: roomID, EntityID: pollID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal poll finalize payload: %w", err)
	}
	return asynq.NewTask(TypePollFinalize, payload), nil
}

// NewQnaFinalizeTask 创建问答收尾任务。
func NewQnaFinalizeTask(roomID, qnaID string) (*asynq.Task, error) {
	payload, err := json.Marshal(FinalizePayload{RoomID: roomID, EntityID: qnaID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal qna finalize payload: %w", err)
	}
	return asynq.NewTask(TypeQnaFinalize, payload), nil
}
