package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Mieluoxxx/nova-proxy/internal/config"
	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"gorm.io/gorm"
)

func testDatabaseConfig(t *testing.T) *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "data", "test.db"),
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
	}
}

// setupTestDB 创建测试用数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := InitDatabase(testDatabaseConfig(t))
	if err != nil {
		t.Fatalf("初始化测试数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = CloseDatabase(db) })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	return db
}

// TestInitDatabase 测试数据库初始化
func TestInitDatabase(t *testing.T) {
	db, err := InitDatabase(testDatabaseConfig(t))
	if err != nil {
		t.Fatalf("初始化数据库失败: %v", err)
	}
	defer CloseDatabase(db)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取 SQL DB 失败: %v", err)
	}

	stats := sqlDB.Stats()
	if stats.MaxOpenConnections != 10 {
		t.Errorf("最大连接数配置错误: got %d, want 10", stats.MaxOpenConnections)
	}
}

// TestAutoMigrate 测试自动迁移
func TestAutoMigrate(t *testing.T) {
	db := setupTestDB(t)

	tables := []interface{}{
		&models.ModelMapping{},
		&models.SystemEvent{},
	}

	for _, table := range tables {
		if !db.Migrator().HasTable(table) {
			t.Errorf("表 %T 不存在", table)
		}
	}
}

// TestModelMappingCRUD 测试 ModelMapping CRUD 操作
func TestModelMappingCRUD(t *testing.T) {
	db := setupTestDB(t)

	mapping := &models.ModelMapping{
		SourceModel: "claude-sonnet-4-5-20250929",
		TargetModel: "z-ai/glm4.7",
		Origin:      models.MappingOriginAPI,
	}

	if err := db.Create(mapping).Error; err != nil {
		t.Fatalf("创建 ModelMapping 失败: %v", err)
	}
	if mapping.ID == 0 {
		t.Error("ModelMapping ID 未自动生成")
	}

	var found models.ModelMapping
	if err := db.Where("source_model = ?", "claude-sonnet-4-5-20250929").First(&found).Error; err != nil {
		t.Fatalf("查询 ModelMapping 失败: %v", err)
	}
	if found.TargetModel != "z-ai/glm4.7" {
		t.Errorf("目标模型不匹配: got %s, want z-ai/glm4.7", found.TargetModel)
	}

	found.TargetModel = "minimaxai/minimax-m2"
	if err := db.Save(&found).Error; err != nil {
		t.Fatalf("更新 ModelMapping 失败: %v", err)
	}

	var updated models.ModelMapping
	db.First(&updated, mapping.ID)
	if updated.TargetModel != "minimaxai/minimax-m2" {
		t.Errorf("目标模型未更新: got %s", updated.TargetModel)
	}

	if err := db.Delete(&updated).Error; err != nil {
		t.Fatalf("删除 ModelMapping 失败: %v", err)
	}

	var deleted models.ModelMapping
	if err := db.First(&deleted, mapping.ID).Error; err == nil {
		t.Error("ModelMapping 未被删除")
	}
}

// TestModelMappingUniqueSource 同一源模型只能有一条映射
func TestModelMappingUniqueSource(t *testing.T) {
	db := setupTestDB(t)

	first := &models.ModelMapping{SourceModel: "claude-opus-4", TargetModel: "a", Origin: models.MappingOriginAPI}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("创建 ModelMapping 失败: %v", err)
	}

	duplicate := &models.ModelMapping{SourceModel: "claude-opus-4", TargetModel: "b", Origin: models.MappingOriginAPI}
	if err := db.Create(duplicate).Error; err == nil {
		t.Error("唯一约束未生效: 允许创建重复的源模型")
	}
}

// TestSystemEventCreate 测试系统事件写入
func TestSystemEventCreate(t *testing.T) {
	db := setupTestDB(t)

	event := &models.SystemEvent{
		Type:     models.EventTypeFailover,
		Message:  "Key nvapi-...abcd 返回 429，切换到下一个 Key",
		Level:    models.EventLevelWarning,
		Metadata: `{"status_code":429}`,
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("创建 SystemEvent 失败: %v", err)
	}
	if event.CreatedAt.IsZero() {
		t.Error("CreatedAt 未自动填充")
	}

	var count int64
	db.Model(&models.SystemEvent{}).Where("type = ?", models.EventTypeFailover).Count(&count)
	if count != 1 {
		t.Errorf("事件数量错误: got %d, want 1", count)
	}
}

func TestCloseDatabase(t *testing.T) {
	db, err := InitDatabase(testDatabaseConfig(t))
	if err != nil {
		t.Fatalf("初始化数据库失败: %v", err)
	}

	if err := CloseDatabase(db); err != nil {
		t.Errorf("关闭数据库失败: %v", err)
	}

	sqlDB, _ := db.DB()
	if err := sqlDB.Ping(); err == nil {
		t.Error("关闭后连接仍可用")
	}
}
