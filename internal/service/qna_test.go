package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"live-classroom/internal/domain"
	"live-classroom/internal/repository"
	"live-classroom/internal/repository/mocks"
	"live-classroom/internal/service"
)

func newTestQnaService(t *testing.T) (*service.QnaService, *mocks.MockQnaRepository) {
	t.Helper()
	mockRepo := new(mocks.MockQnaRepository)
	return service.NewQnaService(mockRepo), mockRepo
}

func TestAddQnaToRoom_Success(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	drafts := []domain.QnaDraft{
		{Title: "你还有什么问题?", IsPublic: true, TimeLimitSeconds: 120},
	}
	mockRepo.On("SaveAllToRoom", ctx, "room-1", mock.AnythingOfType("[]*domain.Qna")).Return(nil)

	// Act
	qnas, err := svc.AddQnaToRoom(ctx, "room-1", drafts)

	// Assert
	require.NoError(t, err)
	require.Len(t, qnas, 1)
	assert.Equal(t, domain.PollStatusPending, qnas[0].Status)
	assert.True(t, qnas[0].IsPublic)
	mockRepo.AssertExpectations(t)
}

func TestAddQnaToRoom_SaveFailsTriggersRollback(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	saveErr := errors.New("redis down")
	mockRepo.On("SaveAllToRoom", ctx, "room-1", mock.Anything).Return(saveErr)
	mockRepo.On("RemoveAllFromRoom", ctx, "room-1", mock.AnythingOfType("[]string")).Return(nil)

	// Act
	qnas, err := svc.AddQnaToRoom(ctx, "room-1", []domain.QnaDraft{{Title: "q"}})

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, saveErr)
	assert.Nil(t, qnas)
	mockRepo.AssertExpectations(t)
}

func TestStartQna_NotFound(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	mockRepo.On("FindByID", ctx, "missing").Return(nil, repository.ErrNotFound)

	// Act
	qna, err := svc.StartQna(ctx, "missing", 60)

	// Assert
	assert.ErrorIs(t, err, service.ErrQnaNotFound)
	assert.Nil(t, qna)
	mockRepo.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitAnswer_Success(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	expectedAnswer := domain.Answer{ParticipantID: "stu-1", ParticipantName: "小明", Text: "第三章没听懂"}
	mockRepo.On("IsActive", ctx, "q1").Return(true, nil)
	mockRepo.On("AddAnswerer", ctx, "q1", "stu-1").Return(true, nil)
	mockRepo.On("AppendAnswer", ctx, "q1", expectedAnswer).Return(int64(4), nil)

	// Act
	count, err := svc.SubmitAnswer(ctx, "q1", "stu-1", "小明", "第三章没听懂")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(4), count, "应返回追加后的回答总数")
	mockRepo.AssertExpectations(t)
}

func TestSubmitAnswer_NotActive(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	mockRepo.On("IsActive", ctx, "q1").Return(false, nil)

	// Act
	_, err := svc.SubmitAnswer(ctx, "q1", "stu-1", "小明", "text")

	// Assert
	assert.ErrorIs(t, err, service.ErrNotActive)
	mockRepo.AssertNotCalled(t, "AddAnswerer", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitAnswer_Duplicate(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	mockRepo.On("IsActive", ctx, "q1").Return(true, nil)
	mockRepo.On("AddAnswerer", ctx, "q1", "stu-1").Return(false, nil)

	// Act
	_, err := svc.SubmitAnswer(ctx, "q1", "stu-1", "小明", "text")

	// Assert
	assert.ErrorIs(t, err, service.ErrDuplicateSubmission)
	mockRepo.AssertNotCalled(t, "AppendAnswer", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitAnswer_AppendFailsTriggersRemoveAnswerer(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	appendErr := errors.New("rpush failed")
	mockRepo.On("IsActive", ctx, "q1").Return(true, nil)
	mockRepo.On("AddAnswerer", ctx, "q1", "stu-1").Return(true, nil)
	mockRepo.On("AppendAnswer", ctx, "q1", mock.Anything).Return(int64(0), appendErr)
	mockRepo.On("RemoveAnswerer", ctx, "q1", "stu-1").Return(nil)

	// Act
	_, err := svc.SubmitAnswer(ctx, "q1", "stu-1", "小明", "text")

	// Assert: 追加失败时补偿撤销回答者占位
	require.Error(t, err)
	assert.ErrorIs(t, err, appendErr)
	mockRepo.AssertExpectations(t)
}

func TestGetAnswers_PrivateQnaRejected(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	privateQna := &domain.Qna{ID: "q1", RoomID: "room-1", IsPublic: false}
	mockRepo.On("FindByID", ctx, "q1").Return(privateQna, nil)

	// Act
	answers, err := svc.GetAnswers(ctx, "q1")

	// Assert: 非公开问答的回答不可读
	assert.ErrorIs(t, err, service.ErrAnswersPrivate)
	assert.Nil(t, answers)
	mockRepo.AssertNotCalled(t, "Answers", mock.Anything, mock.Anything)
}

func TestGetAnswers_PublicQna(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	publicQna := &domain.Qna{ID: "q1", RoomID: "room-1", IsPublic: true}
	stored := []domain.Answer{
		{ParticipantID: "stu-1", ParticipantName: "小明", Text: "a"},
		{ParticipantID: "stu-2", ParticipantName: "小红", Text: "b"},
	}
	mockRepo.On("FindByID", ctx, "q1").Return(publicQna, nil)
	mockRepo.On("Answers", ctx, "q1").Return(stored, nil)

	// Act
	answers, err := svc.GetAnswers(ctx, "q1")

	// Assert: 按追加顺序返回
	require.NoError(t, err)
	assert.Equal(t, stored, answers)
	mockRepo.AssertExpectations(t)
}

func TestFinalizeQna_Success(t *testing.T) {
	// Arrange
	svc, mockRepo := newTestQnaService(t)
	ctx := context.Background()
	existing := &domain.Qna{ID: "q1", RoomID: "room-1", Status: domain.PollStatusActive, IsPublic: true}
	mockRepo.On("FindByID", ctx, "q1").Return(existing, nil)
	mockRepo.On("Finalize", ctx, "q1", mock.AnythingOfType("time.Time")).Return(nil)
	mockRepo.On("Answers", ctx, "q1").Return([]domain.Answer{{Text: "a"}, {Text: "b"}, {Text: "c"}}, nil)

	// Act
	qna, count, err := svc.FinalizeQna(ctx, "q1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.PollStatusEnded, qna.Status)
	assert.Equal(t, 3, count)
	mockRepo.AssertExpectations(t)
}
