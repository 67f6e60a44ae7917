package cashcount

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"agenti/models"
)

// Entry is one wallet line of a count form.
type Entry struct {
	WalletID              uint                  `json:"wallet_id" validate:"required"`
	WalletName            string                `json:"wallet_name,omitempty"`
	WalletTypeName        string                `json:"wallet_type_name,omitempty"`
	SupportsDenominations bool                  `json:"supports_denominations"`
	ExpectedBalance       decimal.Decimal       `json:"expected_balance"`
	CountedAmount         decimal.Decimal       `json:"counted_amount"`
	Denominations         *models.Denominations `json:"denominations,omitempty"`
}

// Variance is counted minus expected. It is informational.
func (e Entry) Variance() decimal.Decimal {
	return e.CountedAmount.Sub(e.ExpectedBalance)
}

func (e Entry) HasVariance() bool {
	return !e.Variance().IsZero()
}

// DenominationMismatch reports a breakdown that does not add up to the
// counted amount. Nothing blocks on it.
func (e Entry) DenominationMismatch() bool {
	if e.Denominations == nil {
		return false
	}
	return !e.Denominations.Total().Equal(e.CountedAmount)
}

func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	return json.Marshal(struct {
		plain
		Variance             decimal.Decimal `json:"variance"`
		HasVariance          bool            `json:"has_variance"`
		DenominationMismatch bool            `json:"denomination_mismatch"`
	}{plain(e), e.Variance(), e.HasVariance(), e.DenominationMismatch()})
}

// Form is a count as the agent fills it in.
type Form struct {
	CountID       uint       `json:"count_id,omitempty"`
	AgentID       uint       `json:"agent_id,omitempty"`
	CashSessionID *uint      `json:"cash_session_id,omitempty"`
	IsOpening     bool       `json:"is_opening"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	Entries       []Entry    `json:"entries" validate:"dive"`
}

func (f Form) TotalCounted() decimal.Decimal {
	total := decimal.Zero
	for _, e := range f.Entries {
		total = total.Add(e.CountedAmount)
	}
	return total
}

func (f Form) TotalExpected() decimal.Decimal {
	total := decimal.Zero
	for _, e := range f.Entries {
		total = total.Add(e.ExpectedBalance)
	}
	return total
}

func (f Form) TotalVariance() decimal.Decimal {
	return f.TotalCounted().Sub(f.TotalExpected())
}

func (f Form) IsSubmitted() bool {
	return f.SubmittedAt != nil
}

func (f Form) MarshalJSON() ([]byte, error) {
	type plain Form
	return json.Marshal(struct {
		plain
		TotalCounted  decimal.Decimal `json:"total_counted"`
		TotalExpected decimal.Decimal `json:"total_expected"`
		TotalVariance decimal.Decimal `json:"total_variance"`
		Submitted     bool            `json:"submitted"`
	}{plain(f), f.TotalCounted(), f.TotalExpected(), f.TotalVariance(), f.IsSubmitted()})
}

func entryFromWallet(w models.Wallet) Entry {
	e := Entry{
		WalletID:        w.ID,
		WalletName:      w.Name,
		ExpectedBalance: w.Balance,
		CountedAmount:   decimal.Zero,
	}
	if w.WalletType != nil {
		e.WalletTypeName = w.WalletType.Name
		e.SupportsDenominations = w.WalletType.SupportsDenominations
	}
	if e.SupportsDenominations {
		e.Denominations = models.EmptyDenominations()
	}
	return e
}
