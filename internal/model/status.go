package model

// EffectiveStatus 线索的展示状态，由 Lead.status 与其流水共同决定
type EffectiveStatus string

const (
	EffectivePending         EffectiveStatus = "Pending"
	EffectiveConvertedUnpaid EffectiveStatus = "Converted-Unpaid"
	EffectivePaid            EffectiveStatus = "Paid"
	EffectiveRejected        EffectiveStatus = "Rejected"
)

func (s EffectiveStatus) Valid() bool {
	switch s {
	case EffectivePending, EffectiveConvertedUnpaid, EffectivePaid, EffectiveRejected:
		return true
	}
	return false
}
