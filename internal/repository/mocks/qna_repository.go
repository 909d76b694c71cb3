package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"live-classroom/internal/domain"
)

// MockQnaRepository 是 repository.QnaRepository 的 testify mock 实现
type MockQnaRepository struct {
	mock.Mock
}

func (m *MockQnaRepository) SaveAllToRoom(ctx context.Context, roomID string, qnas []*domain.Qna) error {
	args := m.Called(ctx, roomID, qnas)
	return args.Error(0)
}

func (m *MockQnaRepository) RemoveAllFromRoom(ctx context.Context, roomID string, qnaIDs []string) error {
	args := m.Called(ctx, roomID, qnaIDs)
	return args.Error(0)
}

func (m *MockQnaRepository) FindByID(ctx context.Context, qnaID string) (*domain.Qna, error) {
	args := m.Called(ctx, qnaID)
	if qna, ok := args.Get(0).(*domain.Qna); ok {
		return qna, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQnaRepository) FindByRoom(ctx context.Context, roomID string) ([]*domain.Qna, error) {
	args := m.Called(ctx, roomID)
	if qnas, ok := args.Get(0).([]*domain.Qna); ok {
		return qnas, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQnaRepository) Activate(ctx context.Context, qna *domain.Qna, timeLimit time.Duration) error {
	args := m.Called(ctx, qna, timeLimit)
	return args.Error(0)
}

func (m *MockQnaRepository) Deactivate(ctx context.Context, qnaID string) error {
	args := m.Called(ctx, qnaID)
	return args.Error(0)
}

func (m *MockQnaRepository) IsActive(ctx context.Context, qnaID string) (bool, error) {
	args := m.Called(ctx, qnaID)
	return args.Bool(0), args.Error(1)
}

func (m *MockQnaRepository) AddAnswerer(ctx context.Context, qnaID, participantID string) (bool, error) {
	args := m.Called(ctx, qnaID, participantID)
	return args.Bool(0), args.Error(1)
}

func (m *MockQnaRepository) RemoveAnswerer(ctx context.Context, qnaID, participantID string) error {
	args := m.Called(ctx, qnaID, participantID)
	return args.Error(0)
}

func (m *MockQnaRepository) AppendAnswer(ctx context.Context, qnaID string, answer domain.Answer) (int64, error) {
	args := m.Called(ctx, qnaID, answer)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQnaRepository) Answers(ctx context.Context, qnaID string) ([]domain.Answer, error) {
	args := m.Called(ctx, qnaID)
	if answers, ok := args.Get(0).([]domain.Answer); ok {
		return answers, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockQnaRepository) Finalize(ctx context.Context, qnaID string, endedAt time.Time) error {
	args := m.Called(ctx, qnaID, endedAt)
	return args.Error(0)
}
