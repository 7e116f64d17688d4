package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志初始化参数
type Options struct {
	Level   string // trace/debug/info/warn/error
	File    string // 为空时只写 stdout
	Verbose bool   // 强制 debug 级别
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	Filename   string // 日志文件路径
	MaxSize    int    // 单个文件最大 MB
	MaxBackups int    // 保留的旧文件个数
	MaxAge     int    // 旧文件保留天数
	Compress   bool   // 压缩旧文件
}

// DefaultRotationConfig 默认轮转配置
func DefaultRotationConfig(logFile string) RotationConfig {
	return RotationConfig{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// NewRotatingWriter 创建带轮转的文件写入器
func NewRotatingWriter(cfg RotationConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
}

// Setup 配置全局 logrus
// 返回的 io.Closer 用于退出时关闭日志文件，没有文件时为 nil
func Setup(opts Options) (io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	if opts.Verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if opts.File == "" {
		logrus.SetOutput(os.Stdout)
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, err
	}

	logWriter := NewRotatingWriter(DefaultRotationConfig(opts.File))
	logrus.SetOutput(io.MultiWriter(os.Stdout, logWriter))
	logrus.Infof("Logging to file: %s (with rotation)", opts.File)

	return logWriter, nil
}
