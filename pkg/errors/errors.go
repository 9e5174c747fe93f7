// Package errors 提供统一错误辅助，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrIntegrity 读取到的检查点 state_hash 与重新计算的结果不一致
	ErrIntegrity = errors.New("checkpoint integrity check failed")
	// ErrStorageWrite 任一存储层写入失败，整个 Save 视为失败
	ErrStorageWrite = errors.New("checkpoint storage write failed")
	// ErrConflict 归档层同一 (agent_id, sequence) 已存在不同内容的记录
	ErrConflict = errors.New("checkpoint already archived with different content")
)

// TierError 某一存储层写入失败；errors.Is(err, ErrStorageWrite) 为 true，Unwrap 返回底层原因
type TierError struct {
	Tier string
	Err  error
}

func (e *TierError) Error() string {
	return fmt.Sprintf("storage tier %s: %v", e.Tier, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

// Is 使 TierError 匹配 ErrStorageWrite
func (e *TierError) Is(target error) bool {
	return target == ErrStorageWrite
}

// NewTierError 构造 TierError，err 为 nil 时返回 nil
func NewTierError(tier string, err error) error {
	if err == nil {
		return nil
	}
	return &TierError{Tier: tier, Err: err}
}

// Is 转发标准库 errors.Is，避免调用方同时导入两个 errors 包
func Is(err, target error) bool { return errors.Is(err, target) }

// As 转发标准库 errors.As
func As(err error, target any) bool { return errors.As(err, target) }

// New 转发标准库 errors.New
func New(text string) error { return errors.New(text) }

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
