package cashcount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"agenti/models"
	"agenti/services"
	"agenti/store"
)

// LockAgent locks the agent row for the rest of the unit of work. Every
// count write goes through it, so two writes for one agent never interleave.
func LockAgent(tx store.Tx, agentID uint) (*models.Agent, error) {
	a, err := tx.LockAgentForUpdate(agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, services.Rejectf(services.CodeAgentNotFound, "agent %d not found", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock agent %d: %w", agentID, err)
	}
	if !a.IsActive {
		return nil, services.Rejectf(services.CodeAgentNotFound, "agent %d is not active", agentID)
	}
	if a.BranchID == nil {
		return nil, services.Reject(services.CodeAgentNoBranch, "agent is not assigned to a branch")
	}
	return a, nil
}

// Staged is a count written as a draft inside the caller's unit of work.
type Staged struct {
	Count   *models.CashCount
	Details []models.CashCountDetail

	// Session is the open session a closing count belongs to. Nil for
	// opening counts, whose session is created on submission.
	Session *models.CashSession
}

func (s *Staged) Total() decimal.Decimal {
	return s.Count.TotalAmount
}

// Stage validates the form against the agent's current cycle and writes it
// as the cycle's draft, replacing any earlier detail lines.
func Stage(tx store.Tx, agent *models.Agent, form Form) (*Staged, error) {
	if err := validateEntries(form.Entries); err != nil {
		return nil, err
	}

	var count *models.CashCount
	if form.CountID != 0 {
		c, err := tx.FindCount(form.CountID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && c.AgentID != agent.ID) {
			return nil, services.Rejectf(services.CodeCountNotFound, "cash count %d not found", form.CountID)
		}
		if err != nil {
			return nil, fmt.Errorf("load cash count %d: %w", form.CountID, err)
		}
		if c.IsSubmitted() {
			return nil, services.Reject(services.CodeAlreadySubmitted, "cash count has already been submitted")
		}
		if c.IsOpening != form.IsOpening {
			return nil, services.Reject(services.CodeInvalidCount, "cash count kind does not match the form")
		}
		count = c
	}

	open, err := tx.FindOpenSession(agent.ID)
	if errors.Is(err, store.ErrNotFound) {
		open = nil
	} else if err != nil {
		return nil, fmt.Errorf("find open session: %w", err)
	}

	staged := &Staged{}
	if form.IsOpening {
		if open != nil {
			return nil, services.Reject(services.CodeSessionAlreadyOpen, "a cash session is already open")
		}
		if count == nil {
			count, err = findDraft(tx.FindOpeningDraft(agent.ID))
			if err != nil {
				return nil, err
			}
		}
	} else {
		if open == nil {
			return nil, services.Reject(services.CodeNoOpenSession, "no open cash session; submit an opening count first")
		}
		if open.BranchID != *agent.BranchID {
			return nil, services.Reject(services.CodeSessionBranchMismatch, "open session belongs to another branch")
		}
		opening, err := tx.FindSessionCount(open.ID, true)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("find opening count: %w", err)
		}
		if !opening.IsSubmitted() {
			return nil, services.Reject(services.CodeOpeningNotSubmitted, "the opening count has not been submitted")
		}

		if count == nil {
			count, err = findDraft(tx.FindSessionCount(open.ID, false))
			if err != nil {
				return nil, err
			}
		} else if count.CashSessionID == nil || *count.CashSessionID != open.ID {
			return nil, services.Reject(services.CodeInvalidCount, "cash count does not belong to the open session")
		}
		if count.IsSubmitted() {
			return nil, services.Reject(services.CodeAlreadySubmitted, "closing count has already been submitted")
		}
		staged.Session = open
	}

	details, err := buildDetails(tx, agent, form.Entries)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, d := range details {
		total = total.Add(d.Amount)
	}

	if count.ID == 0 {
		count.AgentID = agent.ID
		count.IsOpening = form.IsOpening
		if staged.Session != nil {
			id := staged.Session.ID
			count.CashSessionID = &id
		}
		count.TotalAmount = total
		if err := tx.CreateCount(count); err != nil {
			return nil, fmt.Errorf("create cash count: %w", err)
		}
	} else {
		count.TotalAmount = total
		if err := tx.SaveCount(count); err != nil {
			return nil, fmt.Errorf("save cash count %d: %w", count.ID, err)
		}
	}

	if err := tx.ReplaceDetails(count.ID, details); err != nil {
		return nil, fmt.Errorf("replace details of cash count %d: %w", count.ID, err)
	}

	staged.Count = count
	staged.Details = details
	return staged, nil
}

// findDraft turns a lookup miss into a fresh, unsaved count.
func findDraft(c *models.CashCount, err error) (*models.CashCount, error) {
	if errors.Is(err, store.ErrNotFound) {
		return &models.CashCount{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find draft cash count: %w", err)
	}
	return c, nil
}

func validateEntries(entries []Entry) error {
	if len(entries) == 0 {
		return services.Reject(services.CodeInvalidCount, "a cash count needs at least one wallet entry")
	}

	seen := make(map[uint]bool, len(entries))
	for _, e := range entries {
		if seen[e.WalletID] {
			return services.Rejectf(services.CodeInvalidCount, "wallet %d is counted twice", e.WalletID)
		}
		seen[e.WalletID] = true

		if e.CountedAmount.IsNegative() {
			return services.Rejectf(services.CodeInvalidAmount, "counted amount for wallet %d cannot be negative", e.WalletID)
		}
		if e.Denominations != nil {
			for _, section := range []map[string]int{e.Denominations.Notes, e.Denominations.Coins} {
				for face, qty := range section {
					if qty < 0 {
						return services.Rejectf(services.CodeInvalidCount, "negative quantity for denomination %s", face)
					}
				}
			}
		}
	}
	return nil
}

func buildDetails(tx store.Tx, agent *models.Agent, entries []Entry) ([]models.CashCountDetail, error) {
	details := make([]models.CashCountDetail, 0, len(entries))
	for _, e := range entries {
		w, err := tx.FindWallet(e.WalletID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && (w.AgentID != agent.ID || !w.IsActive)) {
			return nil, services.Rejectf(services.CodeWalletNotFound, "wallet %d not found for agent", e.WalletID)
		}
		if err != nil {
			return nil, fmt.Errorf("load wallet %d: %w", e.WalletID, err)
		}

		d := models.CashCountDetail{
			WalletID:       w.ID,
			Amount:         e.CountedAmount.Round(2),
			ExpectedAmount: w.Balance,
		}
		if e.Denominations != nil && w.WalletType != nil && w.WalletType.SupportsDenominations {
			raw, err := e.Denominations.JSON()
			if err != nil {
				return nil, fmt.Errorf("encode denominations for wallet %d: %w", w.ID, err)
			}
			d.Denominations = raw
		}
		details = append(details, d)
	}
	return details, nil
}

// Load rebuilds the form of a stored count.
func Load(tx store.Tx, count *models.CashCount) (*Form, error) {
	details, err := tx.ListDetails(count.ID)
	if err != nil {
		return nil, fmt.Errorf("list details of cash count %d: %w", count.ID, err)
	}

	form := &Form{
		CountID:       count.ID,
		AgentID:       count.AgentID,
		CashSessionID: count.CashSessionID,
		IsOpening:     count.IsOpening,
		SubmittedAt:   count.SubmittedAt,
		Entries:       make([]Entry, 0, len(details)),
	}
	for _, d := range details {
		e := Entry{
			WalletID:        d.WalletID,
			ExpectedBalance: d.ExpectedAmount,
			CountedAmount:   d.Amount,
			Denominations:   models.ParseDenominations(d.Denominations),
		}
		w, err := tx.FindWallet(d.WalletID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load wallet %d: %w", d.WalletID, err)
		}
		if w != nil {
			e.WalletName = w.Name
			if w.WalletType != nil {
				e.WalletTypeName = w.WalletType.Name
				e.SupportsDenominations = w.WalletType.SupportsDenominations
			}
		}
		form.Entries = append(form.Entries, e)
	}
	return form, nil
}
