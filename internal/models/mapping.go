package models

import "time"

// MappingOrigin 映射来源
const (
	MappingOriginConfig = "config" // 启动时从配置文件导入
	MappingOriginAPI    = "api"    // 通过管理接口写入
)

// ModelMapping 模型映射
// 把客户端请求的模型名映射为上游模型名
type ModelMapping struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SourceModel string    `gorm:"type:varchar(200);uniqueIndex;not null" json:"source_model"`
	TargetModel string    `gorm:"type:varchar(200);not null" json:"target_model"`
	Origin      string    `gorm:"type:varchar(20);not null;default:'api'" json:"origin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ModelMapping) TableName() string {
	return "model_mappings"
}
