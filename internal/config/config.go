package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUpstreamURL 默认上游 Chat Completions 地址
	DefaultUpstreamURL = "https://integrate.api.nvidia.com/v1/chat/completions"
	// DefaultModel 请求未指定模型且没有映射时使用
	DefaultModel = "z-ai/glm-4-9b-chat"
	// DefaultPort 默认监听端口
	DefaultPort = 3001
)

// ServerConfig 服务器配置
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`     // 为空时只输出到 stderr
	OpenBrowser bool   `yaml:"open_browser"` // 启动后打开状态页
}

// Addr 监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig 上游请求与 Key 轮换配置
type UpstreamConfig struct {
	Timeout          time.Duration `yaml:"timeout"`           // 等待响应头的超时，以及响应体两次数据之间的最长空闲
	MaxRetries       int           `yaml:"max_retries"`       // 失败后最多再换几个 Key
	FailureThreshold int           `yaml:"failure_threshold"` // 连续失败多少次进入冷却
	Cooldown         time.Duration `yaml:"cooldown"`          // 冷却时长
}

// TranslationConfig 请求转换默认值
type TranslationConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Path            string        `yaml:"path"`              // 数据库文件路径
	MaxOpenConns    int           `yaml:"max_open_conns"`    // 最大连接数
	MaxIdleConns    int           `yaml:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"` // 连接最大生命周期
	AutoMigrate     bool          `yaml:"auto_migrate"`      // 是否自动迁移
}

// EventsConfig 系统事件保留策略
type EventsConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Config 应用配置
// 顶层的 nvidia_* / model_mapping / default_model 与旧版 config.json 的键保持一致
type Config struct {
	UpstreamURL  string            `yaml:"nvidia_url"`
	UpstreamKeys []string          `yaml:"nvidia_keys"`
	ModelMapping map[string]string `yaml:"model_mapping"`
	DefaultModel string            `yaml:"default_model"`

	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Translation TranslationConfig `yaml:"translation"`
	Database    DatabaseConfig    `yaml:"database"`
	Events      EventsConfig      `yaml:"events"`

	path string
	mu   sync.Mutex
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		UpstreamURL:  DefaultUpstreamURL,
		UpstreamKeys: []string{},
		ModelMapping: map[string]string{},
		DefaultModel: DefaultModel,
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     DefaultPort,
			LogLevel: "info",
		},
		Upstream: UpstreamConfig{
			Timeout:          300 * time.Second,
			MaxRetries:       2,
			FailureThreshold: 3,
			Cooldown:         time.Minute,
		},
		Translation: TranslationConfig{
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Database: DatabaseConfig{
			Path:            "./data/nova.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			AutoMigrate:     true,
		},
		Events: EventsConfig{
			RetentionDays: 7,
		},
	}
}

// LoadConfig 加载配置
// 文件不存在时使用默认配置；文件损坏时记录警告并使用默认配置，保证服务能够启动
// 环境变量覆盖文件中的值，最后做校验
func LoadConfig(configPath string) (*Config, error) {
	config := Default()
	config.path = configPath

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logrus.WithField("path", configPath).Info("配置文件不存在，使用默认配置")
		case err != nil:
			logrus.WithError(err).WithField("path", configPath).Warn("配置文件读取失败，使用默认配置")
		default:
			parsed := Default()
			if err := yaml.Unmarshal(data, parsed); err != nil {
				logrus.WithError(err).WithField("path", configPath).Warn("配置文件解析失败，使用默认配置")
			} else {
				config = parsed
				config.path = configPath
			}
		}
	}

	applyEnvOverrides(config)
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides 支持环境变量覆盖
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("NOVA_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if url := os.Getenv("NOVA_UPSTREAM_URL"); url != "" {
		config.UpstreamURL = url
	}

	if keys := os.Getenv("NOVA_UPSTREAM_KEYS"); keys != "" {
		config.UpstreamKeys = strings.Split(keys, ",")
	}

	if model := os.Getenv("NOVA_DEFAULT_MODEL"); model != "" {
		config.DefaultModel = model
	}

	if level := os.Getenv("NOVA_LOG_LEVEL"); level != "" {
		config.Server.LogLevel = level
	}

	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
}

// normalize 清理 Key 列表并补齐零值字段
func (c *Config) normalize() {
	c.UpstreamKeys = CleanKeys(c.UpstreamKeys)

	if c.ModelMapping == nil {
		c.ModelMapping = map[string]string{}
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.Translation.MaxTokens <= 0 {
		c.Translation.MaxTokens = 4096
	}
	if c.Upstream.FailureThreshold <= 0 {
		c.Upstream.FailureThreshold = 3
	}
	if c.Upstream.Cooldown <= 0 {
		c.Upstream.Cooldown = time.Minute
	}
	if c.Upstream.MaxRetries < 0 {
		c.Upstream.MaxRetries = 0
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("nvidia_url is required")
	}
	if !strings.HasPrefix(c.UpstreamURL, "http://") && !strings.HasPrefix(c.UpstreamURL, "https://") {
		return fmt.Errorf("nvidia_url must be an http(s) URL: %s", c.UpstreamURL)
	}
	if _, err := logrus.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must not be negative: %s", c.Upstream.Timeout)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	return nil
}

// Path 配置文件路径，未从文件加载时为空
func (c *Config) Path() string {
	return c.path
}

// Keys 当前上游 Key 的副本
func (c *Config) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.UpstreamKeys...)
}

// UpdateKeys 替换上游 Key 并写回配置文件
func (c *Config) UpdateKeys(keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.UpstreamKeys = CleanKeys(keys)
	return c.saveLocked()
}

// Save 把当前配置写回加载时的文件
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	if c.path == "" {
		return nil
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	// 文件中含有上游 Key，只允许当前用户读写
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CleanKeys 去掉首尾空白、空串与重复的 Key，保留原顺序
func CleanKeys(keys []string) []string {
	cleaned := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, key)
	}
	return cleaned
}
