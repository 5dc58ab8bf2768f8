package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionStatusPending = "Pending"
	TransactionStatusPaid    = "Paid"
)

// LeadTransaction 成交流水
// 与 Lead 一对一，只在线索转化时创建，只被支付修改一次，永不删除
//
// 【重要】lead_id 上的唯一索引是"一个线索最多一笔流水"的最终保障，
// 不能依赖应用层的"先查后插"，那样在并发下会重复创建
type LeadTransaction struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	LeadID             int64           `gorm:"uniqueIndex;not null" json:"lead_id"`
	AffiliateID        int64           `gorm:"index;not null" json:"affiliate_id"` // 冗余字段，便于按推广者查询
	Amount             decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	RewardRate         decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"reward_rate"` // 百分比
	RewardEarned       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"reward_earned"`
	Status             string          `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt          time.Time       `gorm:"index;not null" json:"created_at"`
	PaidAt             *time.Time      `gorm:"index" json:"paid_at"`
	PaymentReferenceID string          `gorm:"type:varchar(128)" json:"payment_reference_id,omitempty"`
	PaymentProofURL    string          `gorm:"type:varchar(1024)" json:"payment_proof_url,omitempty"`
	PaymentNotes       string          `gorm:"type:text" json:"payment_notes,omitempty"`
}

func (LeadTransaction) TableName() string {
	return "lead_transaction"
}

func (t *LeadTransaction) IsPaid() bool {
	return t.Status == TransactionStatusPaid
}
