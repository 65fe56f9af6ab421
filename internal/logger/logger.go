package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger = logrus.New()
	// output 当前输出（控制台 + 文件）
	output io.Writer = os.Stdout
	// fileWriter 日志文件轮转器
	fileWriter *lumberjack.Logger
	logMu      sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
}

// Init 初始化日志系统
func Init(cfg Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return err
		}
		if cfg.MaxSize == 0 {
			cfg.MaxSize = 100
		}
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
	}
	output = io.MultiWriter(writers...)

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}

	Logger.SetLevel(level)
	Logger.SetFormatter(formatter)
	Logger.SetOutput(output)

	// 同步全局 logrus，保证 logrus.WithField 也写入同一位置
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)
	logrus.SetOutput(output)
	return nil
}

// Writer 返回当前日志输出（供 gin 等组件复用）
func Writer() io.Writer {
	logMu.Lock()
	defer logMu.Unlock()
	return output
}

// For 返回带 component 字段的日志入口
func For(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// Close 关闭日志文件
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	output = os.Stdout
	Logger.SetOutput(output)
	logrus.SetOutput(output)
	return err
}
