package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CashSession is one agent custody cycle. The partial unique index keeps a
// single open session per agent.
type CashSession struct {
	gorm.Model

	AgentID     uint          `gorm:"not null;index:idx_cash_sessions_agent_date,priority:1;uniqueIndex:idx_cash_sessions_one_open,where:status = 'open'" json:"agent_id"`
	BranchID    uint          `gorm:"not null;index:idx_cash_sessions_status_branch,priority:2" json:"branch_id"`
	SessionDate time.Time     `gorm:"type:date;not null;index:idx_cash_sessions_agent_date,priority:2" json:"session_date"`
	Status      SessionStatus `gorm:"size:32;not null;index:idx_cash_sessions_status_branch,priority:1" json:"status"`
	OpenedAt    time.Time     `json:"opened_at"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`

	CashCounts []CashCount `gorm:"foreignKey:CashSessionID" json:"cash_counts,omitempty"`
}

// CashCount is a draft until SubmittedAt is set. An opening draft is not yet
// attached to a session; submitting it creates one.
type CashCount struct {
	gorm.Model

	AgentID       uint            `gorm:"not null;index" json:"agent_id"`
	CashSessionID *uint           `gorm:"index:idx_cash_counts_session_opening,priority:1" json:"cash_session_id,omitempty"`
	IsOpening     bool            `gorm:"index:idx_cash_counts_session_opening,priority:2" json:"is_opening"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"total_amount"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`

	Details []CashCountDetail `gorm:"foreignKey:CashCountID" json:"details,omitempty"`
}

func (c *CashCount) IsSubmitted() bool {
	return c != nil && c.SubmittedAt != nil
}

// CashCountDetail is one counted wallet. ExpectedAmount is the wallet balance
// when the line was staged.
type CashCountDetail struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	CashCountID    uint            `gorm:"not null;index" json:"cash_count_id"`
	WalletID       uint            `gorm:"not null;index" json:"wallet_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	ExpectedAmount decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"expected_amount"`
	Denominations  datatypes.JSON  `gorm:"type:jsonb" json:"denominations,omitempty"`
}

type DiscrepancyStatus string

const (
	DiscrepancyPendingReview DiscrepancyStatus = "pending_review"
	DiscrepancyApproved      DiscrepancyStatus = "approved"
	DiscrepancyRejected      DiscrepancyStatus = "rejected"
)

// Discrepancy is migrated for the review workflow; submissions do not write it.
type Discrepancy struct {
	gorm.Model

	CashSessionID  uint              `gorm:"not null;index:idx_discrepancies_status_session,priority:2" json:"cash_session_id"`
	CashCountID    uint              `gorm:"not null" json:"cash_count_id"`
	Status         DiscrepancyStatus `gorm:"size:32;not null;index:idx_discrepancies_status_session,priority:1" json:"status"`
	ExpectedAmount decimal.Decimal   `gorm:"type:numeric(18,2)" json:"expected_amount"`
	ActualAmount   decimal.Decimal   `gorm:"type:numeric(18,2)" json:"actual_amount"`
	Variance       decimal.Decimal   `gorm:"type:numeric(18,2)" json:"variance"`
	Reason         *string           `gorm:"size:255" json:"reason,omitempty"`
}
