package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"live-classroom/internal/domain"
	"live-classroom/internal/repository"
	"live-classroom/internal/repository/mocks"
	"live-classroom/internal/service"
)

func newTestPollService(t *testing.T) (*service.PollService, *mocks.MockPollRepository) {
	t.Helper()
	mockRepo := new(mocks.MockPollRepository)
	return service.NewPollService(mockRepo), mockRepo
}

func TestAddPollsToRoom_Success(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	drafts := []domain.PollDraft{
		{Title: "今天的内容难吗?", Options: []string{"简单", "适中", "太难"}, TimeLimitSeconds: 30},
	}
	mockRepo.On("SaveAllToRoom", ctx, "room-1", mock.AnythingOfType("[]*domain.Poll")).Return(nil)

	// Act
	polls, err := svc.AddPollsToRoom(ctx, "room-1", drafts)

	// Assert
	require.NoError(t, err)
	require.Len(t, polls, 1)
	assert.Equal(t, domain.PollStatusPending, polls[0].Status, "新建投票应处于 pending 状态")
	assert.Equal(t, "room-1", polls[0].RoomID)
	require.Len(t, polls[0].Options, 3)
	assert.Equal(t, 0, polls[0].Options[0].ID, "选项 ID 应为 0 基连续下标")
	assert.Equal(t, 2, polls[0].Options[2].ID)
	mockRepo.AssertExpectations(t)
}

func TestAddPollsToRoom_SaveFailsTriggersRollback(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	saveErr := errors.New("redis: connection refused")
	mockRepo.On("SaveAllToRoom", ctx, "room-1", mock.Anything).Return(saveErr)
	mockRepo.On("RemoveAllFromRoom", ctx, "room-1", mock.AnythingOfType("[]string")).Return(nil)

	// Act
	polls, err := svc.AddPollsToRoom(ctx, "room-1", []domain.PollDraft{
		{Title: "q", Options: []string{"a", "b"}},
	})

	// Assert: 回滚被调用，原始错误向上抛出
	require.Error(t, err)
	assert.ErrorIs(t, err, saveErr, "包装后的错误应保留原始错误")
	assert.Nil(t, polls)
	mockRepo.AssertExpectations(t)
}

func TestAddPollsToRoom_RollbackFailureDoesNotMaskOriginalError(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	saveErr := errors.New("save failed")
	rollbackErr := errors.New("rollback also failed")
	mockRepo.On("SaveAllToRoom", ctx, "room-1", mock.Anything).Return(saveErr)
	mockRepo.On("RemoveAllFromRoom", ctx, "room-1", mock.Anything).Return(rollbackErr)

	// Act
	_, err := svc.AddPollsToRoom(ctx, "room-1", []domain.PollDraft{
		{Title: "q", Options: []string{"a", "b"}},
	})

	// Assert: 回滚失败只记录日志，抛出的仍是原始错误
	require.Error(t, err)
	assert.ErrorIs(t, err, saveErr)
	assert.NotErrorIs(t, err, rollbackErr, "回滚错误不应掩盖原始错误")
	mockRepo.AssertExpectations(t)
}

func TestStartPoll_NotFound(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	mockRepo.On("FindByID", ctx, "missing").Return(nil, repository.ErrNotFound)

	// Act
	poll, err := svc.StartPoll(ctx, "missing", 30)

	// Assert
	assert.ErrorIs(t, err, service.ErrPollNotFound)
	assert.Nil(t, poll)
	mockRepo.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartPoll_Success(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	existing := &domain.Poll{
		ID:               "1700000000000-ABCDEF",
		RoomID:           "room-1",
		Status:           domain.PollStatusPending,
		Options:          []domain.PollOption{{ID: 0, Value: "a"}, {ID: 1, Value: "b"}},
		TimeLimitSeconds: 45,
	}
	mockRepo.On("FindByID", ctx, existing.ID).Return(existing, nil)
	mockRepo.On("Activate", ctx, mock.AnythingOfType("*domain.Poll"), 45*time.Second).Return(nil)

	// Act
	poll, err := svc.StartPoll(ctx, existing.ID, 0)

	// Assert: 未指定时限时回退到实体自带的时限
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusActive, poll.Status)
	assert.Equal(t, 45, poll.TimeLimitSeconds)
	assert.Equal(t, poll.StartedAt.Add(45*time.Second), poll.EndedAt, "EndedAt 应为 StartedAt + 时限")
	mockRepo.AssertExpectations(t)
}

func TestStartPoll_ActivateFailsTriggersDeactivate(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	existing := &domain.Poll{ID: "p1", RoomID: "room-1", Status: domain.PollStatusPending, TimeLimitSeconds: 30}
	activateErr := errors.New("pipeline exec failed")
	mockRepo.On("FindByID", ctx, "p1").Return(existing, nil)
	mockRepo.On("Activate", ctx, mock.Anything, mock.Anything).Return(activateErr)
	mockRepo.On("Deactivate", ctx, "p1").Return(nil)

	// Act
	poll, err := svc.StartPoll(ctx, "p1", 30)

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, activateErr)
	assert.Nil(t, poll)
	mockRepo.AssertExpectations(t)
}

func TestSubmitVote_Success(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	mockRepo.On("IsActive", ctx, "p1").Return(true, nil)
	mockRepo.On("AddVoter", ctx, "p1", "stu-1").Return(true, nil)
	mockRepo.On("ApplyVote", ctx, "p1", 0).Return(map[string]string{"0": "1", "1": "0"}, nil)

	// Act
	tally, err := svc.SubmitVote(ctx, "p1", "stu-1", 0)

	// Assert: 计票结果按选项 ID 升序
	require.NoError(t, err)
	require.Len(t, tally, 2)
	assert.Equal(t, domain.OptionCount{ID: 0, Count: 1}, tally[0])
	assert.Equal(t, domain.OptionCount{ID: 1, Count: 0}, tally[1])
	mockRepo.AssertExpectations(t)
}

func TestSubmitVote_NotActive(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	mockRepo.On("IsActive", ctx, "p1").Return(false, nil)

	// Act
	tally, err := svc.SubmitVote(ctx, "p1", "stu-1", 0)

	// Assert: 非活动状态拒绝且没有任何写入副作用
	assert.ErrorIs(t, err, service.ErrNotActive)
	assert.Nil(t, tally)
	mockRepo.AssertNotCalled(t, "AddVoter", mock.Anything, mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "ApplyVote", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitVote_Duplicate(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	mockRepo.On("IsActive", ctx, "p1").Return(true, nil)
	mockRepo.On("AddVoter", ctx, "p1", "stu-1").Return(false, nil)

	// Act
	tally, err := svc.SubmitVote(ctx, "p1", "stu-1", 1)

	// Assert: 重复投票在去重集合处被挡住，不会触达计票
	assert.ErrorIs(t, err, service.ErrDuplicateSubmission)
	assert.Nil(t, tally)
	mockRepo.AssertNotCalled(t, "ApplyVote", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitVote_ApplyFailsTriggersUndo(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	applyErr := errors.New("pipeline exec failed")
	mockRepo.On("IsActive", ctx, "p1").Return(true, nil)
	mockRepo.On("AddVoter", ctx, "p1", "stu-1").Return(true, nil)
	mockRepo.On("ApplyVote", ctx, "p1", 1).Return(nil, applyErr)
	mockRepo.On("UndoVote", ctx, "p1", "stu-1", 1).Return(nil)

	// Act
	tally, err := svc.SubmitVote(ctx, "p1", "stu-1", 1)

	// Assert: 补偿撤销预约，参与者重试不会被静默拒绝
	require.Error(t, err)
	assert.ErrorIs(t, err, applyErr)
	assert.Nil(t, tally)
	mockRepo.AssertExpectations(t)
}

func TestSubmitVote_TallySkipsUnparsableEntries(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	mockRepo.On("IsActive", ctx, "p1").Return(true, nil)
	mockRepo.On("AddVoter", ctx, "p1", "stu-1").Return(true, nil)
	mockRepo.On("ApplyVote", ctx, "p1", 0).Return(map[string]string{"0": "3", "garbage": "1", "1": "oops"}, nil)

	// Act
	tally, err := svc.SubmitVote(ctx, "p1", "stu-1", 0)

	// Assert: 无法解析的条目被跳过而不是让整个提交失败
	require.NoError(t, err)
	require.Len(t, tally, 1)
	assert.Equal(t, domain.OptionCount{ID: 0, Count: 3}, tally[0])
}

func TestFinalizePoll_Success(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	existing := &domain.Poll{
		ID:      "p1",
		RoomID:  "room-1",
		Status:  domain.PollStatusActive,
		Options: []domain.PollOption{{ID: 0, Value: "a"}, {ID: 1, Value: "b"}},
	}
	mockRepo.On("FindByID", ctx, "p1").Return(existing, nil)
	mockRepo.On("Finalize", ctx, "p1", mock.AnythingOfType("time.Time")).
		Return(map[string]string{"0": "7", "1": "2"}, nil)

	// Act
	poll, tally, err := svc.FinalizePoll(ctx, "p1")

	// Assert: 最终计数回填到实体的选项上
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusEnded, poll.Status)
	assert.Equal(t, int64(7), poll.Options[0].Count)
	assert.Equal(t, int64(2), poll.Options[1].Count)
	require.Len(t, tally, 2)
	mockRepo.AssertExpectations(t)
}

func TestFinalizePoll_NotFound(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestPollService(t)
	ctx := context.Background()
	mockRepo.On("FindByID", ctx, "missing").Return(nil, repository.ErrNotFound)

	// Act
	_, _, err := svc.FinalizePoll(ctx, "missing")

	// Assert
	assert.ErrorIs(t, err, service.ErrPollNotFound)
	mockRepo.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything)
}
