// Package cashcount captures agent cash counts: building the per-wallet form,
// saving drafts and reloading them.
package cashcount

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agenti/models"
	"agenti/services"
	"agenti/store"
)

type Capture struct {
	store store.Store
	log   *zap.Logger
}

type Option func(*Capture)

func WithLogger(log *zap.Logger) Option {
	return func(c *Capture) {
		if log != nil {
			c.log = log
		}
	}
}

func New(s store.Store, opts ...Option) *Capture {
	c := &Capture{store: s, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitializeForm lists the agent's active wallets with their current balance
// as the expected amount and nothing counted yet.
func (c *Capture) InitializeForm(ctx context.Context, agentID uint, isOpening bool) (*Form, error) {
	var form *Form
	err := c.store.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := findAgent(tx, agentID); err != nil {
			return err
		}

		wallets, err := tx.ListActiveWallets(agentID)
		if err != nil {
			return fmt.Errorf("list wallets of agent %d: %w", agentID, err)
		}

		form = &Form{AgentID: agentID, IsOpening: isOpening, Entries: make([]Entry, 0, len(wallets))}
		for _, w := range wallets {
			form.Entries = append(form.Entries, entryFromWallet(w))
		}

		if !isOpening {
			open, err := tx.FindOpenSession(agentID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("find open session: %w", err)
			}
			if open != nil {
				id := open.ID
				form.CashSessionID = &id
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return form, nil
}

// SaveDraft stores the form as the draft of the agent's current cycle.
func (c *Capture) SaveDraft(ctx context.Context, agentID uint, form Form) (services.Result, error) {
	var res services.Result
	err := store.RunInTx(ctx, c.store, func(tx store.Tx) error {
		agent, err := LockAgent(tx, agentID)
		if err != nil {
			return err
		}

		staged, err := Stage(tx, agent, form)
		if err != nil {
			return err
		}

		res = services.OK()
		res.CountID = staged.Count.ID
		if staged.Count.CashSessionID != nil {
			res.SessionID = *staged.Count.CashSessionID
		}
		return nil
	})

	res, err = services.Settle(res, err)
	if err != nil {
		c.log.Error("save cash count draft failed", zap.Uint("agent_id", agentID), zap.Error(err))
		return res, err
	}
	if res.Success {
		c.log.Debug("cash count draft saved",
			zap.Uint("agent_id", agentID),
			zap.Uint("count_id", res.CountID),
			zap.Bool("opening", form.IsOpening))
	}
	return res, nil
}

// GetForm reloads one of the agent's counts. A missing or foreign count comes
// back as a *services.Failure.
func (c *Capture) GetForm(ctx context.Context, agentID, countID uint) (*Form, error) {
	var form *Form
	err := c.store.WithinTx(ctx, func(tx store.Tx) error {
		count, err := tx.FindCount(countID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && count.AgentID != agentID) {
			return services.Rejectf(services.CodeCountNotFound, "cash count %d not found", countID)
		}
		if err != nil {
			return fmt.Errorf("load cash count %d: %w", countID, err)
		}

		form, err = Load(tx, count)
		return err
	})
	if err != nil {
		return nil, err
	}
	return form, nil
}

// AgentForUser returns the id of the active agent linked to a user account.
// A user without one gets a *services.Failure.
func (c *Capture) AgentForUser(ctx context.Context, userID string) (uint, error) {
	var agentID uint
	err := c.store.WithinTx(ctx, func(tx store.Tx) error {
		a, err := tx.FindAgentByUser(userID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !a.IsActive) {
			return services.Rejectf(services.CodeAgentNotFound, "no active agent for user %q", userID)
		}
		if err != nil {
			return fmt.Errorf("load agent for user %q: %w", userID, err)
		}
		agentID = a.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return agentID, nil
}

func findAgent(tx store.Tx, agentID uint) (*models.Agent, error) {
	a, err := tx.FindAgent(agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, services.Rejectf(services.CodeAgentNotFound, "agent %d not found", agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %d: %w", agentID, err)
	}
	return a, nil
}
