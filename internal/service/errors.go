package service

import "errors"

// 业务错误分类。传输层负责把它们映射为协议相关的错误信封:
// NotFound / InvalidState / DuplicateSubmission 是非致命的用户可读拒绝，
// 批量写入的部分失败在补偿回滚后以包装过的原始错误向上抛出。
var (
	ErrPollNotFound = errors.New("poll not found")
	ErrQnaNotFound  = errors.New("qna not found")

	// ErrNotActive 表示活动标记已不存在 (未开始或已随 TTL 失效)，提交被拒绝且无副作用
	ErrNotActive = errors.New("not accepting submissions")

	// ErrDuplicateSubmission 表示该参与者已经投过票/回答过，即使并发提交也保证不会重复计入
	ErrDuplicateSubmission = errors.New("participant already submitted")

	// ErrInvalidMessageID 表示重放检查点的消息 ID 格式不合法
	ErrInvalidMessageID = errors.New("invalid message id")

	// ErrAnswersPrivate 表示该问答的回答列表未公开
	ErrAnswersPrivate = errors.New("answers are not public")
)
