package service

import (
	"errors"
	"fmt"
)

// ============================================================================
// 错误分类
// ============================================================================
//
// 所有对外操作只返回以下几类错误（或其包装），调用方用 errors.Is 判断：
//   ErrValidation          入参不合法，未产生任何副作用
//   ErrConflict            状态前置条件不满足，通常是别人已经完成了这次流转，重读即可
//   ErrNotFound            引用的记录不存在
//   ErrDuplicateEmail      该邮箱已提交过线索
//   ErrInvalidReferralCode 推广码不存在
//   ErrForbidden           身份无权执行该操作
//
// 其余错误都是基础设施错误（数据库 / Redis），原样包装返回

var (
	ErrValidation          = errors.New("参数校验失败")
	ErrConflict            = errors.New("状态冲突")
	ErrNotFound            = errors.New("记录不存在")
	ErrDuplicateEmail      = errors.New("该邮箱已提交过线索")
	ErrInvalidReferralCode = errors.New("推广码无效")
	ErrForbidden           = errors.New("无权限")
)

// ValidationError 具体的校验失败字段
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数校验失败: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictError 状态冲突详情
type ConflictError struct {
	Entity string
	ID     int64
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("状态冲突: %s(%d) %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NotFoundError 记录不存在详情
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s(%d) 不存在", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsClientError 调用方输入导致的错误
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateEmail) ||
		errors.Is(err, ErrInvalidReferralCode)
}

// IsConflict 重读当前状态即可，不需要告警
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
