package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAffiliate = "affiliate"
	RoleAdmin     = "admin"
)

// Affiliate 推广者
// 每个登录账号对应唯一一个推广者，推广码一经生成不可修改
//
// 【重要】TotalLeads / ConversionCount 只能通过服务端原子自增维护；
// TotalEarned 只是缓存，权威值永远来自已支付流水的实时汇总
type Affiliate struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`       // 身份服务账号ID
	Name            string          `gorm:"type:varchar(128);not null" json:"name"`                     // 展示名称
	Email           string          `gorm:"type:varchar(255);not null" json:"email"`                    // 联系邮箱
	ReferralCode    string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"referral_code"` // 推广码（全局唯一）
	Role            string          `gorm:"type:varchar(20);not null;default:affiliate" json:"role"`
	TotalLeads      int64           `gorm:"not null;default:0" json:"total_leads"`
	ConversionCount int64           `gorm:"not null;default:0" json:"conversion_count"`
	TotalEarned     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earned"` // 缓存字段
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Affiliate) TableName() string {
	return "affiliate"
}

func (a *Affiliate) IsAdmin() bool {
	return a.Role == RoleAdmin
}
