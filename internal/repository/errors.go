// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("记录不存在")
	// ErrUnavailable 表示数据库或缓存连接不可用，上层映射为 503。
	ErrUnavailable = errors.New("存储服务不可用")
	// ErrDuplicate 表示违反唯一约束。
	ErrDuplicate = errors.New("记录已存在")
)

// translate 把驱动层错误归一为本包的哨兵错误，保留原始错误用于日志。
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case isConnectionError(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "sql: database is closed") || strings.Contains(msg, "bad connection")
}
