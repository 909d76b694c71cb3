package repository

import (
	"context"
	"time"

	"live-classroom/internal/domain"
)

// PollRepository 定义投票实体及其房间索引、活动标记、计票和去重集合的存储操作。
// 实现必须保证: 单条命令原子执行；多命令序列以批量(pipeline)方式提交；
// 本层不做重试，存储错误原样向上传播。
type PollRepository interface {
	// SaveAllToRoom 在一次批量序列中写入全部投票实体并把 ID 追加到房间索引。
	SaveAllToRoom(ctx context.Context, roomID string, polls []*domain.Poll) error

	// RemoveAllFromRoom 是 SaveAllToRoom 的补偿操作: 删除实体并从索引移除 ID。
	// 幂等，key 不存在时不报错。
	RemoveAllFromRoom(ctx context.Context, roomID string, pollIDs []string) error

	// FindByID 读取单个投票实体，不存在时返回 ErrNotFound。
	FindByID(ctx context.Context, pollID string) (*domain.Poll, error)

	// FindByRoom 通过房间索引批量读取该房间的全部投票，索引不存在时返回空切片。
	// 缺失的实体被跳过，调用方需容忍空洞。
	FindByRoom(ctx context.Context, roomID string) ([]*domain.Poll, error)

	// Activate 在一次批量序列中: 更新实体状态字段、写入带 TTL 的活动标记、
	// 初始化全部选项计数为零 (计数 key 的 TTL = limit + 配置的安全余量)。
	Activate(ctx context.Context, poll *domain.Poll, timeLimit time.Duration) error

	// Deactivate 是 Activate 的补偿操作: 状态回退到 pending，删除活动标记和计数。
	Deactivate(ctx context.Context, pollID string) error

	// IsActive 检查活动标记是否存在。标记的存在性是投票是否接受提交的唯一权威依据。
	IsActive(ctx context.Context, pollID string) (bool, error)

	// AddVoter 把参与者加入去重集合。返回 false 表示该参与者已在集合中。
	// SADD 的结果即是并发控制: 同一参与者的并发提交只有一个能得到 true。
	AddVoter(ctx context.Context, pollID, participantID string) (bool, error)

	// RemoveVoter 把参与者移出去重集合 (补偿用)。
	RemoveVoter(ctx context.Context, pollID, participantID string) error

	// ApplyVote 在一次批量序列中: 原子递增选项计数、刷新去重集合的过期时间、
	// 读回完整的计数表 (选项 ID -> 计数字符串)。
	ApplyVote(ctx context.Context, pollID string, optionID int) (map[string]string, error)

	// UndoVote 是 ApplyVote 的补偿操作: 移除参与者并把选项计数减一。
	UndoVote(ctx context.Context, pollID, participantID string, optionID int) error

	// Finalize 把状态置为 ended、删除活动标记并读回最终计数表。
	Finalize(ctx context.Context, pollID string, endedAt time.Time) (map[string]string, error)
}
