package cashsession

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"agenti/models"
	"agenti/services"
	"agenti/services/cashcount"
	"agenti/store"
)

const (
	DefaultSessionLimit = 50
	MaxSessionLimit     = 500
)

// Summary is one line of the session history.
type Summary struct {
	ID           uint                 `json:"id"`
	AgentID      uint                 `json:"agent_id"`
	AgentCode    string               `json:"agent_code"`
	BranchID     uint                 `json:"branch_id"`
	SessionDate  time.Time            `json:"session_date"`
	Status       models.SessionStatus `json:"status"`
	OpenedAt     time.Time            `json:"opened_at"`
	ClosedAt     *time.Time           `json:"closed_at,omitempty"`
	OpeningTotal decimal.Decimal      `json:"opening_total"`
	// ClosingTotal is set once the closing count is submitted.
	ClosingTotal *decimal.Decimal `json:"closing_total,omitempty"`
}

// Detail is a session with both of its counts and their wallet lines.
type Detail struct {
	Summary
	OpeningCount *cashcount.Form `json:"opening_count,omitempty"`
	ClosingCount *cashcount.Form `json:"closing_count,omitempty"`
}

// Sessions lists cash sessions across all agents, newest first. Only
// administrators may read it.
func (m *Machine) Sessions(ctx context.Context, actorID string, limit int) ([]Summary, error) {
	switch {
	case limit <= 0:
		limit = DefaultSessionLimit
	case limit > MaxSessionLimit:
		limit = MaxSessionLimit
	}

	var out []Summary
	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := requireAdmin(tx, actorID); err != nil {
			return err
		}

		sessions, err := tx.ListSessions(limit)
		if err != nil {
			return fmt.Errorf("list cash sessions: %w", err)
		}

		out = make([]Summary, 0, len(sessions))
		codes := map[uint]string{}
		for _, s := range sessions {
			sum, _, _, err := summarize(tx, s, codes)
			if err != nil {
				return err
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Session returns one session with its opening and closing counts. Only
// administrators may read it.
func (m *Machine) Session(ctx context.Context, actorID string, sessionID uint) (*Detail, error) {
	var detail *Detail
	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		if err := requireAdmin(tx, actorID); err != nil {
			return err
		}

		s, err := tx.FindSession(sessionID)
		if errors.Is(err, store.ErrNotFound) {
			return services.Rejectf(services.CodeSessionNotFound, "cash session %d not found", sessionID)
		}
		if err != nil {
			return fmt.Errorf("load cash session %d: %w", sessionID, err)
		}

		sum, opening, closing, err := summarize(tx, *s, map[uint]string{})
		if err != nil {
			return err
		}

		detail = &Detail{Summary: sum}
		if detail.OpeningCount, err = loadSorted(tx, opening); err != nil {
			return err
		}
		if detail.ClosingCount, err = loadSorted(tx, closing); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// summarize builds the history line of s. codes caches agent codes across
// calls.
func summarize(tx store.Tx, s models.CashSession, codes map[uint]string) (Summary, *models.CashCount, *models.CashCount, error) {
	sum := Summary{
		ID:           s.ID,
		AgentID:      s.AgentID,
		BranchID:     s.BranchID,
		SessionDate:  s.SessionDate,
		Status:       s.Status,
		OpenedAt:     s.OpenedAt,
		ClosedAt:     s.ClosedAt,
		OpeningTotal: decimal.Zero,
	}

	code, ok := codes[s.AgentID]
	if !ok {
		a, err := tx.FindAgent(s.AgentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Summary{}, nil, nil, fmt.Errorf("load agent %d: %w", s.AgentID, err)
		}
		if a != nil {
			code = a.Code
		}
		codes[s.AgentID] = code
	}
	sum.AgentCode = code

	opening, err := sessionCount(tx, s.ID, true)
	if err != nil {
		return Summary{}, nil, nil, err
	}
	closing, err := sessionCount(tx, s.ID, false)
	if err != nil {
		return Summary{}, nil, nil, err
	}

	if opening != nil {
		sum.OpeningTotal = opening.TotalAmount
	}
	if closing.IsSubmitted() {
		total := closing.TotalAmount
		sum.ClosingTotal = &total
	}
	return sum, opening, closing, nil
}

// loadSorted rebuilds a count's form with its wallet lines ordered by wallet
// type and then wallet name.
func loadSorted(tx store.Tx, count *models.CashCount) (*cashcount.Form, error) {
	if count == nil {
		return nil, nil
	}
	form, err := cashcount.Load(tx, count)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(form.Entries, func(a, b cashcount.Entry) int {
		return cmp.Or(
			cmp.Compare(a.WalletTypeName, b.WalletTypeName),
			cmp.Compare(a.WalletName, b.WalletName),
		)
	})
	return form, nil
}

func requireAdmin(tx store.Tx, userID string) error {
	u, err := tx.FindUser(userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load user %q: %w", userID, err)
	}
	if !u.IsAdmin() {
		return services.Reject(services.CodeForbidden, "only administrators can read cash session history")
	}
	return nil
}
