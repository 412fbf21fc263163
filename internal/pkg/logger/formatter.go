// 结构化日志辅助方法
package logger

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// FormatTimestamp 格式化时间戳为统一的毫秒精度格式
func FormatTimestamp(t time.Time) string {
	return t.Format(timestampFormat)
}

// LogType 日志类型，FileHook按类型分文件
type LogType string

const (
	// AccessLog 访问日志 - HTTP请求
	AccessLog LogType = "access"
	// BusinessLog 业务日志 - 导入受理、状态查询等业务操作
	BusinessLog LogType = "business"
	// ErrorLog 错误日志
	ErrorLog LogType = "error"
	// SystemLog 系统日志 - 组件启动、关闭、配置变化
	SystemLog LogType = "system"
	// ImportLog 导入日志 - 导入任务的阶段和进度
	ImportLog LogType = "import"
)

func newJSONFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
			logrus.FieldKeyFile:  "file",
		},
	}
}

func mergeFields(fields logrus.Fields, extraFields map[string]interface{}) logrus.Fields {
	for k, v := range extraFields {
		fields[k] = v
	}
	return fields
}

// LogAccessRequest 记录HTTP访问日志
func LogAccessRequest(c *gin.Context, startTime time.Time, requestID string) {
	if LoggerInstance == nil {
		return
	}

	LoggerInstance.logger.WithFields(logrus.Fields{
		"type":          AccessLog,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
		"query":         c.Request.URL.RawQuery,
		"status_code":   c.Writer.Status(),
		"response_time": time.Since(startTime).Milliseconds(),
		"client_ip":     c.ClientIP(),
		"user_agent":    c.Request.UserAgent(),
		"request_id":    requestID,
		"response_size": c.Writer.Size(),
	}).Info("HTTP request processed")
}

// LogBusinessOperation 记录业务操作日志
// result 为 success 时记 info，其余记 warn
func LogBusinessOperation(operation string, userID uint64, clientIP, requestID, result, message string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":       BusinessLog,
		"operation":  operation,
		"user_id":    userID,
		"client_ip":  clientIP,
		"result":     result,
		"request_id": requestID,
	}, extraFields)

	if result == "success" {
		LoggerInstance.logger.WithFields(fields).Info(message)
	} else {
		LoggerInstance.logger.WithFields(fields).Warn(message)
	}
}

// LogInfo 记录带请求上下文的信息日志
func LogInfo(message, requestID string, userID uint64, clientIP, path, method string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":       BusinessLog,
		"request_id": requestID,
		"user_id":    userID,
		"client_ip":  clientIP,
		"path":       path,
		"method":     method,
	}, extraFields)

	LoggerInstance.logger.WithFields(fields).Info(message)
}

// LogWarn 记录带请求上下文的警告日志
func LogWarn(message, requestID string, userID uint64, clientIP, path, method string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":       BusinessLog,
		"request_id": requestID,
		"user_id":    userID,
		"client_ip":  clientIP,
		"path":       path,
		"method":     method,
	}, extraFields)

	LoggerInstance.logger.WithFields(fields).Warn(message)
}

// LogError 记录错误日志
func LogError(err error, requestID string, userID uint64, clientIP, path, method string, extraFields map[string]interface{}) {
	if LoggerInstance == nil || err == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":       ErrorLog,
		"error":      err.Error(),
		"request_id": requestID,
		"user_id":    userID,
		"client_ip":  clientIP,
		"path":       path,
		"method":     method,
	}, extraFields)

	LoggerInstance.logger.WithFields(fields).Errorf("System error occurred: %s", err.Error())
}

// LogSystemEvent 记录系统事件日志
// 用于记录组件启动、关闭、状态变化等系统级事件
func LogSystemEvent(component, event, message string, level logrus.Level, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
		"detail":    message,
	}, extraFields)

	msg := fmt.Sprintf("System event: %s - %s", component, event)
	entry := LoggerInstance.logger.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.FatalLevel:
		entry.Fatal(msg)
	default:
		entry.Info(msg)
	}
}

// LogImportEvent 记录导入任务事件(阶段切换、进度、终态)
// level 为 error 时同时需要携带 error 字段
func LogImportEvent(jobID string, projectID uint64, stage, message string, level logrus.Level, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":       ImportLog,
		"job_id":     jobID,
		"project_id": projectID,
		"stage":      stage,
	}, extraFields)

	entry := LoggerInstance.logger.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debug(message)
	case logrus.WarnLevel:
		entry.Warn(message)
	case logrus.ErrorLevel:
		entry.Error(message)
	default:
		entry.Info(message)
	}
}
