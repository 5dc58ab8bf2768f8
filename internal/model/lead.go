package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LeadStatusPending   = "Pending"
	LeadStatusConverted = "Converted"
	LeadStatusRejected  = "Rejected"
)

// ValidLeadTransitions Converted / Rejected 均为终态
var ValidLeadTransitions = map[string][]string{
	LeadStatusPending: {LeadStatusConverted, LeadStatusRejected},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidLeadTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Lead 推广线索
// 邮箱是提交时的自然去重键，先提交者生效
type Lead struct {
	ID                  int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID         int64               `gorm:"index;not null" json:"affiliate_id"`
	Name                string              `gorm:"type:varchar(128);not null" json:"name"`
	Email               string              `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Phone               string              `gorm:"type:varchar(32);not null" json:"phone"`
	ProjectRequirements string              `gorm:"type:text" json:"project_requirements"`
	Status              string              `gorm:"type:varchar(20);index;not null" json:"status"`
	Amount              decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"amount"` // 成交金额，转化时写入
	Reward              decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"reward"` // 奖励金额，转化时写入
	CreatedAt           time.Time           `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Lead) TableName() string {
	return "lead"
}
