package models

import "time"

// SystemEvent 系统事件日志
// 用于记录 Key 故障转移、上游错误、映射变更等事件
type SystemEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"type:varchar(50);not null;index" json:"type"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Level     string    `gorm:"type:varchar(20);not null;default:'info'" json:"level"` // info, warning, error
	Metadata  string    `gorm:"type:json" json:"metadata,omitempty"`                   // 额外的元数据（JSON 格式）
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (SystemEvent) TableName() string {
	return "system_events"
}

// EventType 事件类型常量
const (
	EventTypeFailover      = "failover"       // Key 故障转移
	EventTypeUpstreamError = "upstream_error" // 上游返回错误或不可达
	EventTypeStreamError   = "stream_error"   // 流式响应中途出错
	EventTypeMappingChange = "mapping_change" // 模型映射变更
	EventTypeConfigChange  = "config_change"  // 配置变更（如更新 Key）
	EventTypeHealthCheck   = "health_check"   // 健康检查
)

// EventLevel 事件级别常量
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)
