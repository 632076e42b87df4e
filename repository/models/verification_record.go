package models

import "time"

// VerificationRecord lifecycle states. Confirmed and failed are terminal.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// VerificationRecord is the durable lifecycle record of one proof request.
// Only the repository writes it; the record outlives the worker and is
// removed by data-retention policy, never here.
type VerificationRecord struct {
	ID                    string     `gorm:"column:verification_id;primaryKey;type:varchar(64)"`
	SubjectID             string     `gorm:"column:subject_id;type:varchar(64);index;not null"`
	ContentHash           string     `gorm:"column:content_hash;type:varchar(128);not null"`
	Status                string     `gorm:"column:status;type:varchar(20);not null;default:'pending';index"`
	Attempts              int        `gorm:"column:attempts;not null;default:0"`
	LastError             *string    `gorm:"column:last_error;type:varchar(512)"`
	TxReference           *string    `gorm:"column:tx_reference;type:varchar(128)"`
	LedgerObjectReference *string    `gorm:"column:ledger_object_reference;type:varchar(128)"`
	Network               string     `gorm:"column:network;type:varchar(32);not null"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	ConfirmedAt           *time.Time `gorm:"column:confirmed_at"`
}

// TableName overrides the default table name
func (VerificationRecord) TableName() string {
	return "verification_records"
}
