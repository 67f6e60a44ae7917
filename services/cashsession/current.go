package cashsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agenti/models"
	"agenti/services"
	"agenti/store"
)

// Current describes where the agent is in the custody cycle.
type Current struct {
	SessionID         uint                 `json:"session_id,omitempty"`
	SessionDate       *time.Time           `json:"session_date,omitempty"`
	Status            models.SessionStatus `json:"status"`
	OpeningCountID    uint                 `json:"opening_count_id,omitempty"`
	ClosingCountID    uint                 `json:"closing_count_id,omitempty"`
	HasOpeningCount   bool                 `json:"has_opening_count"`
	HasClosingCount   bool                 `json:"has_closing_count"`
	CanPerformOpening bool                 `json:"can_perform_opening"`
	CanPerformClosing bool                 `json:"can_perform_closing"`
}

// Current reports the agent's open session, if any, and which count can be
// submitted next. An unknown agent is a *services.Failure.
func (m *Machine) Current(ctx context.Context, agentID uint) (*Current, error) {
	var cur *Current
	err := m.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.FindAgent(agentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return services.Rejectf(services.CodeAgentNotFound, "agent %d not found", agentID)
			}
			return fmt.Errorf("load agent %d: %w", agentID, err)
		}

		open, err := tx.FindOpenSession(agentID)
		if errors.Is(err, store.ErrNotFound) {
			cur = &Current{Status: models.SessionClosed, CanPerformOpening: true}
			return nil
		}
		if err != nil {
			return fmt.Errorf("find open session: %w", err)
		}

		cur = &Current{SessionID: open.ID, Status: open.Status}
		day := open.SessionDate
		cur.SessionDate = &day

		opening, err := sessionCount(tx, open.ID, true)
		if err != nil {
			return err
		}
		closing, err := sessionCount(tx, open.ID, false)
		if err != nil {
			return err
		}
		if opening != nil {
			cur.OpeningCountID = opening.ID
			cur.HasOpeningCount = opening.IsSubmitted()
		}
		if closing != nil {
			cur.ClosingCountID = closing.ID
			cur.HasClosingCount = closing.IsSubmitted()
		}
		cur.CanPerformClosing = cur.HasOpeningCount && !cur.HasClosingCount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func sessionCount(tx store.Tx, sessionID uint, opening bool) (*models.CashCount, error) {
	c, err := tx.FindSessionCount(sessionID, opening)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session count: %w", err)
	}
	return c, nil
}
