package repository

import (
	"context"
	"testing"
	"time"

	"courtbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisResponseStore(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisResponseStore(client, time.Hour)
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		resp := &models.StoredResponse{
			Status:      201,
			ContentType: "application/json",
			Body:        []byte(`{"total":22000}`),
			CreatedAt:   time.Date(2030, 3, 14, 7, 0, 0, 0, time.UTC),
		}
		require.NoError(t, repo.Put(ctx, "client:abc", resp))

		got, err := repo.Get(ctx, "client:abc")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, resp.Status, got.Status)
		assert.Equal(t, resp.Body, got.Body)
		assert.True(t, resp.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, s.Exists("idempotency:client:abc"))
	})

	t.Run("FirstWriteWins", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "dup", &models.StoredResponse{Status: 201}))
		require.NoError(t, repo.Put(ctx, "dup", &models.StoredResponse{Status: 409}))

		got, err := repo.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, 201, got.Status)
	})

	t.Run("Missing", func(t *testing.T) {
		got, err := repo.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Expires", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "short", &models.StoredResponse{Status: 200}))
		s.FastForward(2 * time.Hour)

		got, err := repo.Get(ctx, "short")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("NilClient", func(t *testing.T) {
		nilRepo := NewRedisResponseStore(nil, time.Hour)
		_, err := nilRepo.Get(ctx, "x")
		assert.Error(t, err)
		assert.Error(t, nilRepo.Put(ctx, "x", &models.StoredResponse{}))
	})
}
