package domain

import "time"

// Qna 表示房间内的一次开放问答。
// 生命周期与 Poll 相同: pending -> active -> ended。
type Qna struct {
	ID               string     `json:"id"`
	RoomID           string     `json:"room_id"`
	Status           PollStatus `json:"status"`
	Title            string     `json:"title"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	IsPublic         bool       `json:"is_public"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        time.Time  `json:"started_at,omitempty"`
	EndedAt          time.Time  `json:"ended_at,omitempty"`
}

// QnaDraft 是创建问答时来自调用方的已校验输入。
type QnaDraft struct {
	Title            string `json:"title"`
	IsPublic         bool   `json:"is_public"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
}

// NewQna 从草稿构造一个处于 pending 状态的问答实体。
func NewQna(roomID string, draft QnaDraft, now time.Time) *Qna {
	return &Qna{
		ID:               SortableID(now.UnixMilli()),
		RoomID:           roomID,
		Status:           PollStatusPending,
		Title:            draft.Title,
		TimeLimitSeconds: draft.TimeLimitSeconds,
		IsPublic:         draft.IsPublic,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Answer 是一名参与者对问答的回答，追加写入，每人最多一条。
type Answer struct {
	ParticipantID   string `json:"participant_id"`
	ParticipantName string `json:"participant_name"`
	Text            string `json:"text"`
}
