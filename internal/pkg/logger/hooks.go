package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"bomsync/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileHook 按日志类型(type字段)把日志写入不同的滚动文件
// 未知类型写入 log.file_path 指定的主日志文件
type FileHook struct {
	logConfig *config.LogConfig
	writers   map[string]io.Writer
	formatter logrus.Formatter
	mutex     sync.Mutex
}

// NewFileHook 创建FileHook
func NewFileHook(logConfig *config.LogConfig) *FileHook {
	hook := &FileHook{
		logConfig: logConfig,
		writers:   make(map[string]io.Writer),
		formatter: newJSONFormatter(),
	}

	if logConfig.FilePath != "" {
		hook.writers["default"] = hook.newWriter(logConfig.FilePath)
	}

	return hook
}

// Levels 返回此Hook关心的所有日志级别
func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 在日志触发时执行
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	writer := hook.getWriter(entryType(entry))
	if writer == nil {
		return nil
	}

	formatted, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}

	hook.mutex.Lock()
	defer hook.mutex.Unlock()
	_, err = writer.Write(formatted)
	return err
}

// entryType 取出日志条目的type字段，缺省为default
func entryType(entry *logrus.Entry) string {
	lt, ok := entry.Data["type"]
	if !ok {
		return "default"
	}
	switch t := lt.(type) {
	case LogType:
		return string(t)
	case string:
		return t
	}
	return "default"
}

// getWriter 获取指定类型的writer，不存在时按需创建
func (hook *FileHook) getWriter(logType string) io.Writer {
	hook.mutex.Lock()
	defer hook.mutex.Unlock()

	if writer, exists := hook.writers[logType]; exists {
		return writer
	}

	switch LogType(logType) {
	case AccessLog, BusinessLog, ErrorLog, SystemLog, ImportLog:
	default:
		return hook.writers["default"]
	}

	logDir := filepath.Dir(hook.logConfig.FilePath)
	writer := hook.newWriter(filepath.Join(logDir, logType+".log"))
	hook.writers[logType] = writer

	return writer
}

func (hook *FileHook) newWriter(filename string) io.Writer {
	_ = os.MkdirAll(filepath.Dir(filename), 0755)
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    hook.logConfig.MaxSize,
		MaxBackups: hook.logConfig.MaxBackups,
		MaxAge:     hook.logConfig.MaxAge,
		Compress:   hook.logConfig.Compress,
	}
}
