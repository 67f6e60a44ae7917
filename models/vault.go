package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Branch struct {
	gorm.Model

	Name  string `gorm:"size:128;not null" json:"name"`
	Vault *Vault `gorm:"foreignKey:BranchID" json:"vault,omitempty"`
}

type Vault struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	BranchID       uint            `gorm:"uniqueIndex;not null" json:"branch_id"`
	CurrentBalance decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type MovementType string

const (
	MovementOpeningWithdrawal MovementType = "opening_withdrawal"
	MovementClosingDeposit    MovementType = "closing_deposit"
	MovementManualDeposit     MovementType = "manual_deposit"
	MovementManualWithdrawal  MovementType = "manual_withdrawal"
	MovementAdjustment        MovementType = "adjustment"
)

// IsDebit reports whether completing a movement of this type takes money
// out of the vault. Amounts are stored as positive magnitudes.
func (t MovementType) IsDebit() bool {
	switch t {
	case MovementOpeningWithdrawal, MovementManualWithdrawal, MovementAdjustment:
		return true
	default:
		return false
	}
}

// Signed returns amount with the sign this movement type applies to a vault.
func (t MovementType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t.IsDebit() {
		return amount.Neg()
	}
	return amount
}

// VaultMovement is an append-only audit entry. Only pending rows are ever
// updated, and only once.
type VaultMovement struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	Reference     string           `gorm:"size:36;uniqueIndex;not null" json:"reference"`
	VaultID       uint             `gorm:"not null;index:idx_vault_movements_vault_created,priority:1" json:"vault_id"`
	CashSessionID *uint            `gorm:"index" json:"cash_session_id,omitempty"`
	Amount        decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"amount"`
	Type          MovementType     `gorm:"size:32;not null" json:"type"`
	Status        MovementStatus   `gorm:"size:16;not null;index:idx_vault_movements_status_expires,priority:1" json:"status"`
	BalanceAfter  *decimal.Decimal `gorm:"type:numeric(18,2)" json:"balance_after,omitempty"`
	CreatedBy     string           `gorm:"size:64;not null" json:"created_by"`
	ApprovedBy    *string          `gorm:"size:64" json:"approved_by,omitempty"`
	CreatedAt     time.Time        `gorm:"index:idx_vault_movements_vault_created,priority:2" json:"created_at"`
	ApprovedAt    *time.Time       `json:"approved_at,omitempty"`
	ExpiresAt     *time.Time       `gorm:"index:idx_vault_movements_status_expires,priority:2" json:"expires_at,omitempty"`
	Notes         string           `gorm:"size:500" json:"notes"`
}

func (m *VaultMovement) BeforeCreate(tx *gorm.DB) error {
	if m.Reference == "" {
		m.Reference = uuid.New().String()
	}
	return nil
}

// IsExpiredAt reports whether a pending deadline has been reached.
func (m *VaultMovement) IsExpiredAt(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}
