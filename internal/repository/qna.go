package repository

import (
	"context"
	"time"

	"live-classroom/internal/domain"
)

// QnaRepository 与 PollRepository 结构一致，差别在于提交是列表追加而非计数递增。
type QnaRepository interface {
	SaveAllToRoom(ctx context.Context, roomID string, qnas []*domain.Qna) error
	RemoveAllFromRoom(ctx context.Context, roomID string, qnaIDs []string) error
	FindByID(ctx context.Context, qnaID string) (*domain.Qna, error)
	FindByRoom(ctx context.Context, roomID string) ([]*domain.Qna, error)

	// Activate 只写入状态变更和带 TTL 的活动标记 (问答没有计数)。
	Activate(ctx context.Context, qna *domain.Qna, timeLimit time.Duration) error
	Deactivate(ctx context.Context, qnaID string) error
	IsActive(ctx context.Context, qnaID string) (bool, error)

	// AddAnswerer 返回 false 表示该参与者已经回答过。
	AddAnswerer(ctx context.Context, qnaID, participantID string) (bool, error)
	RemoveAnswerer(ctx context.Context, qnaID, participantID string) error

	// AppendAnswer 把序列化后的回答追加到有序列表并返回新的列表长度。
	AppendAnswer(ctx context.Context, qnaID string, answer domain.Answer) (int64, error)

	// Answers 按追加顺序读取全部回答。
	Answers(ctx context.Context, qnaID string) ([]domain.Answer, error)

	Finalize(ctx context.Context, qnaID string, endedAt time.Time) error
}
