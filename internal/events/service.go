package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service 事件日志服务
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService 创建事件日志服务实例
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// LogEvent 记录事件
func (s *Service) LogEvent(eventType, message, level string, metadata map[string]interface{}) error {
	var metadataJSON string
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("序列化元数据失败: %w", err)
		}
		metadataJSON = string(data)
	}

	event := &models.SystemEvent{
		Type:      eventType,
		Message:   message,
		Level:     level,
		Metadata:  metadataJSON,
		CreatedAt: s.now(),
	}

	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("保存事件失败: %w", err)
	}

	return nil
}

// LogInfo 记录信息级别事件
func (s *Service) LogInfo(eventType, message string, metadata map[string]interface{}) error {
	return s.LogEvent(eventType, message, models.EventLevelInfo, metadata)
}

// LogWarning 记录警告级别事件
func (s *Service) LogWarning(eventType, message string, metadata map[string]interface{}) error {
	return s.LogEvent(eventType, message, models.EventLevelWarning, metadata)
}

// LogError 记录错误级别事件
func (s *Service) LogError(eventType, message string, metadata map[string]interface{}) error {
	return s.LogEvent(eventType, message, models.EventLevelError, metadata)
}

// Record 记录事件，写入失败只打日志
// 用在请求路径上，事件落库失败不应影响请求本身
func (s *Service) Record(eventType, level, message string, metadata map[string]interface{}) {
	if s == nil {
		return
	}
	var err error
	switch level {
	case models.EventLevelInfo:
		err = s.LogInfo(eventType, message, metadata)
	case models.EventLevelWarning:
		err = s.LogWarning(eventType, message, metadata)
	case models.EventLevelError:
		err = s.LogError(eventType, message, metadata)
	default:
		err = s.LogEvent(eventType, message, level, metadata)
	}
	if err != nil {
		logrus.WithError(err).WithField("type", eventType).Warn("⚠️  [事件] 记录事件失败")
	}
}

// GetRecentEvents 获取最近的事件
func (s *Service) GetRecentEvents(limit int) ([]models.SystemEvent, error) {
	var events []models.SystemEvent

	err := s.db.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}

	return events, nil
}

// GetEventsByType 按类型获取事件
func (s *Service) GetEventsByType(eventType string, limit int) ([]models.SystemEvent, error) {
	var events []models.SystemEvent

	err := s.db.Where("type = ?", eventType).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error

	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}

	return events, nil
}

// GetEventsByLevel 按级别获取事件
func (s *Service) GetEventsByLevel(level string, limit int) ([]models.SystemEvent, error) {
	var events []models.SystemEvent

	err := s.db.Where("level = ?", level).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error

	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}

	return events, nil
}

// CleanupOldEvents 清理旧事件（保留最近N天）
func (s *Service) CleanupOldEvents(days int) (int64, error) {
	cutoffTime := s.now().AddDate(0, 0, -days)

	result := s.db.Where("created_at < ?", cutoffTime).Delete(&models.SystemEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理旧事件失败: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// RunCleanup 按固定间隔清理旧事件，直到 ctx 结束
// days <= 0 时不清理
func (s *Service) RunCleanup(ctx context.Context, days int, interval time.Duration) error {
	if days <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		deleted, err := s.CleanupOldEvents(days)
		if err != nil {
			logrus.WithError(err).Warn("⚠️  [事件] 清理旧事件失败")
		} else if deleted > 0 {
			logrus.WithField("deleted", deleted).Info("🧹 [事件] 已清理过期事件")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
