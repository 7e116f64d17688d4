package mapping

import (
	"context"
	"errors"

	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 模型映射数据访问层
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建 Repository 实例
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// List 查询全部映射，按源模型排序
func (r *Repository) List(ctx context.Context) ([]*models.ModelMapping, error) {
	var mappings []*models.ModelMapping
	err := r.db.WithContext(ctx).Order("source_model ASC").Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// FindBySource 根据源模型查找映射
func (r *Repository) FindBySource(ctx context.Context, source string) (*models.ModelMapping, error) {
	var mapping models.ModelMapping
	err := r.db.WithContext(ctx).Where("source_model = ?", source).First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMappingNotFound
		}
		return nil, err
	}
	return &mapping, nil
}

// Upsert 按源模型插入或更新映射
func (r *Repository) Upsert(ctx context.Context, mapping *models.ModelMapping) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_model"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_model", "origin", "updated_at"}),
	}).Create(mapping).Error
}

// Delete 删除映射
func (r *Repository) Delete(ctx context.Context, source string) error {
	result := r.db.WithContext(ctx).Where("source_model = ?", source).Delete(&models.ModelMapping{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}
