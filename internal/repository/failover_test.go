package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"courtbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) (*models.StoredResponse, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoredResponse), args.Error(1)
}

func (m *mockStore) Put(ctx context.Context, key string, resp *models.StoredResponse) error {
	args := m.Called(ctx, key, resp)
	return args.Error(0)
}

func TestFailoverResponseStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverResponseStore(primary, fallback, &logger)
	now := time.Date(2030, 3, 14, 7, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()
	stored := &models.StoredResponse{Status: 201}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "a").Return(stored, nil).Once()

		got, err := repo.Get(ctx, "a")
		assert.NoError(t, err)
		assert.Equal(t, stored, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailsFallsBack", func(t *testing.T) {
		primary.On("Put", ctx, "b", stored).Return(errors.New("connection refused")).Once()
		fallback.On("Put", ctx, "b", stored).Return(nil).Once()

		assert.NoError(t, repo.Put(ctx, "b", stored))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Get", ctx, "b").Return(stored, nil).Once()

		got, err := repo.Get(ctx, "b")
		assert.NoError(t, err)
		assert.Equal(t, stored, got)
		primary.AssertNotCalled(t, "Get", ctx, "b")
		fallback.AssertExpectations(t)
	})

	t.Run("RecoversAfterInterval", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Get", ctx, "c").Return(nil, nil).Once()

		got, err := repo.Get(ctx, "c")
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})
}
