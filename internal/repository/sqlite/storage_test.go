package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/weaponid/internal/repository"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetUser(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	email := "alice@example.com"
	user := &repository.User{ID: "u-1", Username: "alice", PasswordHash: "hash", Email: &email}
	require.NoError(t, s.CreateUser(ctx, user))

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "u-1", byName.ID)
	require.NotNil(t, byName.Email)
	assert.Equal(t, email, *byName.Email)
	assert.False(t, byName.CreatedAt.IsZero())

	byID, err := s.GetUserByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &repository.User{ID: "u-1", Username: "alice", PasswordHash: "h"}))
	err := s.CreateUser(ctx, &repository.User{ID: "u-2", Username: "alice", PasswordHash: "h"})
	assert.ErrorIs(t, err, repository.ErrUsernameTaken)
}

func TestGetUserNotFound(t *testing.T) {
	s := setupTestStorage(t)

	_, err := s.GetUserByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	user, err := s.GetUserByUsername(context.Background(), "nobody")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, user)
}

func TestRecognitionLogs(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	logs := []*repository.RecognitionLog{
		{RequestID: "r-1", UserID: "u-1", Source: "multipart", DetectionCount: 2, PrimaryClass: "AK-47", PrimaryConfidence: 0.9, CreatedAt: base},
		{RequestID: "r-2", UserID: "u-1", Source: "base64", DetectionCount: 0, CreatedAt: base.Add(time.Minute)},
		{RequestID: "r-3", UserID: "u-2", Source: "multipart", DetectionCount: 1, PrimaryClass: "M16", PrimaryConfidence: 0.7, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, l := range logs {
		require.NoError(t, s.SaveRecognition(ctx, l))
		assert.NotZero(t, l.ID)
	}

	found, err := s.FindRecognition(ctx, "r-1", "u-1")
	require.NoError(t, err)
	assert.Equal(t, "AK-47", found.PrimaryClass)
	assert.True(t, base.Equal(found.CreatedAt))

	_, err = s.FindRecognition(ctx, "r-1", "u-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	mine, err := s.ListRecognitions(ctx, "u-1", 0)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "r-2", mine[0].RequestID)

	all, err := s.ListRecognitions(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r-3", all[0].RequestID)

	agg, err := s.AggregateMetrics(ctx, "")
	require.NoError(t, err)
	assert.EqualValues(t, 3, agg.TotalCount)
	assert.EqualValues(t, 2, agg.WithDetectionsCount)
	assert.InDelta(t, 0.8, agg.AveragePrimaryConfidence, 1e-9)

	empty, err := s.AggregateMetrics(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalCount)
	assert.Zero(t, empty.AveragePrimaryConfidence)
}
