package mapping

import (
	"context"
	"testing"

	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 内存数据库每个连接相互独立，固定为单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.ModelMapping{}))
	return db
}

func TestRepository_UpsertAndFind(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	err := repo.Upsert(ctx, &models.ModelMapping{
		SourceModel: "claude-sonnet-4",
		TargetModel: "z-ai/glm4.7",
		Origin:      models.MappingOriginAPI,
	})
	require.NoError(t, err)

	found, err := repo.FindBySource(ctx, "claude-sonnet-4")
	require.NoError(t, err)
	assert.NotZero(t, found.ID)
	assert.Equal(t, "z-ai/glm4.7", found.TargetModel)
	assert.NotZero(t, found.CreatedAt)
}

func TestRepository_UpsertUpdatesExisting(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.ModelMapping{SourceModel: "claude-opus-4", TargetModel: "a", Origin: models.MappingOriginAPI}))
	require.NoError(t, repo.Upsert(ctx, &models.ModelMapping{SourceModel: "claude-opus-4", TargetModel: "b", Origin: models.MappingOriginConfig}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].TargetModel)
	assert.Equal(t, models.MappingOriginConfig, list[0].Origin)
}

func TestRepository_FindNotFound(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	_, err := repo.FindBySource(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestRepository_ListOrdered(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	for _, source := range []string{"c-model", "a-model", "b-model"} {
		require.NoError(t, repo.Upsert(ctx, &models.ModelMapping{SourceModel: source, TargetModel: "t", Origin: models.MappingOriginAPI}))
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a-model", list[0].SourceModel)
	assert.Equal(t, "c-model", list[2].SourceModel)
}

func TestRepository_Delete(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.ModelMapping{SourceModel: "x", TargetModel: "y", Origin: models.MappingOriginAPI}))
	require.NoError(t, repo.Delete(ctx, "x"))

	assert.ErrorIs(t, repo.Delete(ctx, "x"), ErrMappingNotFound)
}
