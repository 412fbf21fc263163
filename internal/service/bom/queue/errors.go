package queue

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"net"
	"time"

	bomModel "bomsync/internal/model/bom"

	"github.com/go-sql-driver/mysql"
)

// IsRetryable 判断导入失败是否为瞬时错误
// 数据源缺失、内容无法解析、标签耗尽不会因为重试而成功
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if kind, ok := bomModel.KindOf(err); ok && kind != bomModel.KindPersistenceError {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, bomModel.ErrImportInProgress) {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1213, // ER_LOCK_DEADLOCK
			1205, // ER_LOCK_WAIT_TIMEOUT
			1040, // ER_CON_COUNT_ERROR
			1053, // ER_SERVER_SHUTDOWN
			1062, // ER_DUP_ENTRY: 并发任务抢到同一标签
			2002, // CR_CONNECTION_ERROR
			2003, // CR_CONN_HOST_ERROR
			2006, // CR_SERVER_GONE_ERROR
			2013: // CR_SERVER_LOST
			return true
		}
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// DefaultMaxBackoff 未配置 max_backoff 时的退避上限
const DefaultMaxBackoff = 5 * time.Minute

// Backoff 第 attempt 次重试前的等待时间：1s·2^(attempt-1)，不超过 maxBackoff
func Backoff(attempt int, maxBackoff time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	// 先在浮点上比较，避免大次数时转换 Duration 溢出
	d := math.Pow(2, float64(attempt-1)) * float64(time.Second)
	if d >= float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}
