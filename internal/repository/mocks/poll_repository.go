package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"live-classroom/internal/domain"
)

// MockPollRepository 是 repository.PollRepository 的 testify mock 实现
type MockPollRepository struct {
	mock.Mock
}

func (m *MockPollRepository) SaveAllToRoom(ctx context.Context, roomID string, polls []*domain.Poll) error {
	args := m.Called(ctx, roomID, polls)
	return args.Error(0)
}

func (m *MockPollRepository) RemoveAllFromRoom(ctx context.Context, roomID string, pollIDs []string) error {
	args := m.Called(ctx, roomID, pollIDs)
	return args.Error(0)
}

func (m *MockPollRepository) FindByID(ctx context.Context, pollID string) (*domain.Poll, error) {
	args := m.Called(ctx, pollID)
	if poll, ok := args.Get(0).(*domain.Poll); ok {
		return poll, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPollRepository) FindByRoom(ctx context.Context, roomID string) ([]*domain.Poll, error) {
	args := m.Called(ctx, roomID)
	if polls, ok := args.Get(0).([]*domain.Poll); ok {
		return polls, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPollRepository) Activate(ctx context.Context, poll *domain.Poll, timeLimit time.Duration) error {
	args := m.Called(ctx, poll, timeLimit)
	return args.Error(0)
}

func (m *MockPollRepository) Deactivate(ctx context.Context, pollID string) error {
	args := m.Called(ctx, pollID)
	return args.Error(0)
}

func (m *MockPollRepository) IsActive(ctx context.Context, pollID string) (bool, error) {
	args := m.Called(ctx, pollID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPollRepository) AddVoter(ctx context.Context, pollID, participantID string) (bool, error) {
	args := m.Called(ctx, pollID, participantID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPollRepository) RemoveVoter(ctx context.Context, pollID, participantID string) error {
	args := m.Called(ctx, pollID, participantID)
	return args.Error(0)
}

func (m *MockPollRepository) ApplyVote(ctx context.Context, pollID string, optionID int) (map[string]string, error) {
	args := m.Called(ctx, pollID, optionID)
	if counts, ok := args.Get(0).(map[string]string); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPollRepository) UndoVote(ctx context.Context, pollID, participantID string, optionID int) error {
	args := m.Called(ctx, pollID, participantID, optionID)
	return args.Error(0)
}

func (m *MockPollRepository) Finalize(ctx context.Context, pollID string, endedAt time.Time) (map[string]string, error) {
	args := m.Called(ctx, pollID, endedAt)
	if counts, ok := args.Get(0).(map[string]string); ok {
		return counts, args.Error(1)
	}
	return nil, args.Error(1)
}
