package bom

import (
	"errors"
	"fmt"
)

// ErrorKind 导入失败分类
type ErrorKind string

const (
	KindSourceUnavailable    ErrorKind = "SourceUnavailable"    // 存储中缺少BOM文件
	KindParseError           ErrorKind = "ParseError"           // BOM/NC内容无法解析
	KindIdentifierExhaustion ErrorKind = "IdentifierExhaustion" // 标签生成超出重试轮数
	KindPersistenceError     ErrorKind = "PersistenceError"     // 分块事务失败
)

var (
	ErrSourceUnavailable    = errors.New("source unavailable")
	ErrParseError           = errors.New("parse error")
	ErrIdentifierExhaustion = errors.New("identifier exhaustion")
	ErrPersistenceError     = errors.New("persistence error")

	// ErrInvalidTransition 导入任务状态不允许的迁移
	ErrInvalidTransition = errors.New("invalid import job transition")
	// ErrImportInProgress 项目已有导入任务在执行
	ErrImportInProgress = errors.New("import already in progress")
)

var kindSentinels = map[ErrorKind]error{
	KindSourceUnavailable:    ErrSourceUnavailable,
	KindParseError:           ErrParseError,
	KindIdentifierExhaustion: ErrIdentifierExhaustion,
	KindPersistenceError:     ErrPersistenceError,
}

// ImportError 导入过程中的致命错误
// errors.Is(err, ErrParseError) 之类的判断按 Kind 匹配
type ImportError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewImportError 创建导入错误
func NewImportError(kind ErrorKind, op string, err error) *ImportError {
	return &ImportError{Kind: kind, Op: op, Err: err}
}

func (e *ImportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

func (e *ImportError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf 返回错误链上第一个ImportError的分类
func KindOf(err error) (ErrorKind, bool) {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind, true
	}
	return "", false
}
