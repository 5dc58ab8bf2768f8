package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrAffiliateNotFound    = errors.New("推广者不存在")
	ErrLeadNotFound         = errors.New("线索不存在")
	ErrTransactionNotFound  = errors.New("流水不存在")
	ErrStatusConflict       = errors.New("状态已变更，条件更新未命中")
	ErrDuplicateEmail       = errors.New("邮箱已存在")
	ErrDuplicateTransaction = errors.New("该线索已存在流水")
	ErrDuplicateAffiliate   = errors.New("推广者或推广码已存在")
	ErrInvalidCounter       = errors.New("不支持的计数字段")
)

// IsDuplicateKey 判断是否违反唯一约束
// 优先使用 gorm 的 TranslateError，兜底匹配各驱动的原始错误信息
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "Duplicate entry") || // mysql 1062
		strings.Contains(msg, "SQLSTATE 23505") // postgres unique_violation
}
