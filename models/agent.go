package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Agent struct {
	gorm.Model

	UserID   string `gorm:"uniqueIndex;size:64;not null" json:"user_id"`
	Code     string `gorm:"uniqueIndex;size:32" json:"code"`
	BranchID *uint  `gorm:"index" json:"branch_id,omitempty"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	Wallets []Wallet `gorm:"foreignKey:AgentID" json:"wallets,omitempty"`
}

type WalletKind string

const (
	WalletKindCash        WalletKind = "cash"
	WalletKindMobileMoney WalletKind = "mobile_money"
	WalletKindBank        WalletKind = "bank"
	WalletKindCustom      WalletKind = "custom"
)

type WalletType struct {
	gorm.Model

	Name                  string     `gorm:"size:64;not null" json:"name"`
	Kind                  WalletKind `gorm:"size:16;not null" json:"kind"`
	SupportsDenominations bool       `json:"supports_denominations"`
	IsActive              bool       `gorm:"default:true" json:"is_active"`
}

// Wallet balances change only through submitted cash counts.
type Wallet struct {
	gorm.Model

	AgentID      uint            `gorm:"index:idx_wallets_agent_active,priority:1;not null" json:"agent_id"`
	WalletTypeID uint            `gorm:"index;not null" json:"wallet_type_id"`
	Name         string          `gorm:"size:64;not null" json:"name"`
	Balance      decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"balance"`
	Currency     string          `gorm:"size:8;default:UGX" json:"currency"`
	IsActive     bool            `gorm:"index:idx_wallets_agent_active,priority:2;default:true" json:"is_active"`

	WalletType *WalletType `gorm:"foreignKey:WalletTypeID" json:"wallet_type,omitempty"`
}
