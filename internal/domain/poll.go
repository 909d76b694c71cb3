package domain

import "time"

// PollStatus 表示投票的生命周期状态。
// 状态机: pending --start--> active --end--> ended，不允许跳过状态。
type PollStatus string

const (
	PollStatusPending PollStatus = "pending"
	PollStatusActive  PollStatus = "active"
	PollStatusEnded   PollStatus = "ended"
)

// PollOption 是投票的一个选项。
// ID 是创建时分配的从 0 开始的连续下标，之后不会复用。
type PollOption struct {
	ID    int    `json:"id"`
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Poll 表示房间内的一次单选投票。
type Poll struct {
	ID               string       `json:"id"`
	RoomID           string       `json:"room_id"`
	Status           PollStatus   `json:"status"`
	Title            string       `json:"title"`
	Options          []PollOption `json:"options"`
	TimeLimitSeconds int          `json:"time_limit_seconds"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	StartedAt        time.Time    `json:"started_at,omitempty"`
	EndedAt          time.Time    `json:"ended_at,omitempty"`
}

// PollDraft 是创建投票时来自调用方的已校验输入。
type PollDraft struct {
	Title            string   `json:"title"`
	Options          []string `json:"options"`
	TimeLimitSeconds int      `json:"time_limit_seconds"`
}

// NewPoll 从草稿构造一个处于 pending 状态的投票实体。
// 选项 ID 为稠密的 0 基下标。
func NewPoll(roomID string, draft PollDraft, now time.Time) *Poll {
	options := make([]PollOption, len(draft.Options))
	for i, value := range draft.Options {
		options[i] = PollOption{ID: i, Value: value}
	}
	return &Poll{
		ID:               SortableID(now.UnixMilli()),
		RoomID:           roomID,
		Status:           PollStatusPending,
		Title:            draft.Title,
		Options:          options,
		TimeLimitSeconds: draft.TimeLimitSeconds,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// OptionCount 是广播给客户端的单个选项的实时计票结果。
type OptionCount struct {
	ID    int   `json:"id"`
	Count int64 `json:"count"`
}
