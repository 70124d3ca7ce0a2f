package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"
	testtool "video_pipeline_service/pkg/test_tool"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupMongo(t *testing.T) AttemptRepo {
	t.Helper()
	if testing.Short() {
		t.Skip("skip integration test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	logger.SetNewNop()

	ctx := context.Background()
	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		t.Skipf("mongo container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	mongoDB, err := database.NewMongoDB(ctx, database.Connection{
		ConnectStr:    fmt.Sprintf("mongodb://%s:%s", host, port),
		RetryCount:    5,
		RetryInterval: 1,
	}, "pipeline_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mongoDB.Close(context.Background()) })

	repo := NewMongoAttemptRepo(mongoDB.Database)
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo
}

func TestAttemptRepoIntegration(t *testing.T) {
	repo := setupMongo(t)
	ctx := context.Background()
	videoID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := 1; i <= 3; i++ {
		outcome := domain.OutcomeFailed
		if i == 3 {
			outcome = domain.OutcomeReady
		}
		require.NoError(t, repo.Insert(ctx, &domain.AttemptLog{
			VideoID:   videoID,
			JobID:     domain.JobID(videoID),
			RunID:     uuid.NewString(),
			Attempt:   i,
			Plan:      domain.PlanScreenOnly,
			Stages:    []domain.StageTiming{{Stage: domain.StageCompose, StartedAt: base, DurationMS: 10}},
			Outcome:   outcome,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	// 其他影片不應混入
	require.NoError(t, repo.Insert(ctx, &domain.AttemptLog{VideoID: uuid.NewString(), Attempt: 1, StartedAt: base}))

	t.Run("最新的在前", func(t *testing.T) {
		logs, err := repo.ListByVideo(ctx, videoID, 0)
		require.NoError(t, err)
		require.Len(t, logs, 3)
		assert.Equal(t, 3, logs[0].Attempt)
		assert.Equal(t, domain.OutcomeReady, logs[0].Outcome)
		assert.Equal(t, 1, logs[2].Attempt)
		require.Len(t, logs[0].Stages, 1)
		assert.Equal(t, domain.StageCompose, logs[0].Stages[0].Stage)
	})

	t.Run("limit", func(t *testing.T) {
		logs, err := repo.ListByVideo(ctx, videoID, 2)
		require.NoError(t, err)
		assert.Len(t, logs, 2)
	})

	t.Run("刪除", func(t *testing.T) {
		require.NoError(t, repo.DeleteByVideo(ctx, videoID))
		logs, err := repo.ListByVideo(ctx, videoID, 0)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}
