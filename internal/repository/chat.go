package repository

import (
	"context"

	"live-classroom/internal/domain"
)

// ChatLogRepository 定义按时间有序、容量受限、自动过期的房间聊天记录存储，
// 以及按 房间+参与者 维度的滑动窗口限流。
type ChatLogRepository interface {
	// Append 在一次批量序列中: 按消息时间戳插入、裁剪到最近 N 条、刷新整个
	// 聊天记录 key 的过期时间。裁剪和续期在每次发送时无条件执行。
	Append(ctx context.Context, roomID string, msg *domain.ChatMessage) error

	// MessagesAfter 对时间有序结构做开区间下界范围读 (> afterMillis)，
	// 返回结果已按时间升序排列。
	MessagesAfter(ctx context.Context, roomID string, afterMillis int64) ([]domain.ChatMessage, error)

	// AllowSend 以单个服务端原子脚本执行滑动窗口限流:
	// 淘汰窗口外的记录、统计剩余数量、未超限则记录本次动作并刷新窗口过期。
	// 返回 false 表示本次动作被拒绝。
	AllowSend(ctx context.Context, roomID, participantID string) (bool, error)
}
