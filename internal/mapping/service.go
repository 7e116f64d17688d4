package mapping

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/Mieluoxxx/nova-proxy/internal/models"
	"github.com/sirupsen/logrus"
)

// tableCacheKey 整张映射表在缓存中的键
const tableCacheKey = "mapping_table"

// ModelNamePattern 模型名称正则表达式
// 上游模型名形如 z-ai/glm4.7、meta/llama-3.1-70b-instruct
var ModelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._:/@-]+$`)

// Service 模型映射业务逻辑层
// 映射表在请求路径上被频繁读取，整表缓存，写入时失效
type Service struct {
	repo  *Repository
	cache Cache
}

// NewService 创建 Service 实例
func NewService(repo *Repository, cache Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Table 返回源模型到目标模型的映射表
func (s *Service) Table(ctx context.Context) (map[string]string, error) {
	if s.cache != nil {
		if table, ok := s.cache.Get(tableCacheKey); ok {
			return table, nil
		}
	}

	mappings, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	table := make(map[string]string, len(mappings))
	for _, m := range mappings {
		table[m.SourceModel] = m.TargetModel
	}

	if s.cache != nil {
		s.cache.Set(tableCacheKey, table)
	}
	return table, nil
}

// List 查询全部映射
func (s *Service) List(ctx context.Context) ([]*models.ModelMapping, error) {
	return s.repo.List(ctx)
}

// Get 查询单个映射
func (s *Service) Get(ctx context.Context, source string) (*models.ModelMapping, error) {
	return s.repo.FindBySource(ctx, strings.TrimSpace(source))
}

// Upsert 创建或更新映射
func (s *Service) Upsert(ctx context.Context, source, target, origin string) (*models.ModelMapping, error) {
	source = strings.TrimSpace(source)
	target = strings.TrimSpace(target)

	if err := ValidateModelName(source); err != nil {
		return nil, err
	}
	if err := ValidateModelName(target); err != nil {
		return nil, err
	}
	if origin == "" {
		origin = models.MappingOriginAPI
	}

	mapping := &models.ModelMapping{
		SourceModel: source,
		TargetModel: target,
		Origin:      origin,
	}
	if err := s.repo.Upsert(ctx, mapping); err != nil {
		return nil, err
	}
	s.invalidate()

	return s.repo.FindBySource(ctx, source)
}

// Delete 删除映射
func (s *Service) Delete(ctx context.Context, source string) error {
	if err := s.repo.Delete(ctx, strings.TrimSpace(source)); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// SeedFromConfig 把配置文件中的映射写入数据库
// 配置项覆盖数据库中同名的映射，数据库中其余映射保持不变
func (s *Service) SeedFromConfig(ctx context.Context, table map[string]string) (int, error) {
	sources := make([]string, 0, len(table))
	for source := range table {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	seeded := 0
	for _, source := range sources {
		if _, err := s.Upsert(ctx, source, table[source], models.MappingOriginConfig); err != nil {
			if !isValidationError(err) {
				return seeded, err
			}
			logrus.WithError(err).WithField("source", source).Warn("⚠️  [映射] 跳过无效的配置映射")
			continue
		}
		seeded++
	}

	logrus.WithField("count", seeded).Info("🗺️  [映射] 已导入配置文件中的模型映射")
	return seeded, nil
}

// CacheStats 缓存统计
func (s *Service) CacheStats() *CacheStats {
	if s.cache == nil {
		return &CacheStats{}
	}
	return s.cache.Stats()
}

func (s *Service) invalidate() {
	if s.cache != nil {
		s.cache.Delete(tableCacheKey)
	}
}

// ValidateModelName 验证模型名称
func ValidateModelName(name string) error {
	if name == "" {
		return ErrModelNameEmpty
	}
	if len(name) > 200 {
		return ErrModelNameTooLong
	}
	if !ModelNamePattern.MatchString(name) {
		return ErrInvalidModelName
	}
	return nil
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrModelNameEmpty) ||
		errors.Is(err, ErrModelNameTooLong) ||
		errors.Is(err, ErrInvalidModelName)
}
