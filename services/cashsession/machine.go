// Package cashsession drives an agent's custody cycle. Submitting an opening
// count opens a session and draws the float from the branch vault; submitting
// the closing count returns the cash and closes it. Each submission is one
// unit of work.
package cashsession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agenti/models"
	"agenti/services"
	"agenti/services/cashcount"
	"agenti/store"
)

// Ledger is the part of the vault ledger a submission needs. The Tx calls
// join the submission's unit of work; MovementCommitted is called after it
// commits.
type Ledger interface {
	WithdrawForSessionTx(tx store.Tx, sessionID, branchID uint, amount decimal.Decimal, actorID string) (*models.VaultMovement, error)
	DepositForSessionTx(tx store.Tx, sessionID, branchID uint, amount decimal.Decimal, actorID string) (*models.VaultMovement, error)
	MovementCommitted(m *models.VaultMovement)
}

type Machine struct {
	store  store.Store
	ledger Ledger
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Machine)

func WithLogger(log *zap.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func New(s store.Store, ledger Ledger, opts ...Option) *Machine {
	m := &Machine{store: s, ledger: ledger, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubmitOpeningCount stages and submits an opening count in one step.
func (m *Machine) SubmitOpeningCount(ctx context.Context, agentID uint, entries []cashcount.Entry, actorID string) (services.Result, error) {
	return m.submitForm(ctx, agentID, cashcount.Form{IsOpening: true, Entries: entries}, actorID)
}

// SubmitClosingCount stages and submits the closing count of the open session.
func (m *Machine) SubmitClosingCount(ctx context.Context, agentID uint, entries []cashcount.Entry, actorID string) (services.Result, error) {
	return m.submitForm(ctx, agentID, cashcount.Form{IsOpening: false, Entries: entries}, actorID)
}

func (m *Machine) submitForm(ctx context.Context, agentID uint, form cashcount.Form, actorID string) (services.Result, error) {
	var (
		res services.Result
		mv  *models.VaultMovement
	)
	err := store.RunInTx(ctx, m.store, func(tx store.Tx) error {
		agent, err := cashcount.LockAgent(tx, agentID)
		if err != nil {
			return err
		}
		res, mv, err = m.submit(tx, agent, form, actorID)
		return err
	})
	return m.settle(agentID, form.IsOpening, res, mv, err)
}

// SubmitDraft submits a draft saved earlier. A count already submitted is
// refused and left as it is.
func (m *Machine) SubmitDraft(ctx context.Context, agentID, countID uint, actorID string) (services.Result, error) {
	var (
		res     services.Result
		mv      *models.VaultMovement
		opening bool
	)
	err := store.RunInTx(ctx, m.store, func(tx store.Tx) error {
		agent, err := cashcount.LockAgent(tx, agentID)
		if err != nil {
			return err
		}

		count, err := tx.FindCount(countID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && count.AgentID != agent.ID) {
			return services.Rejectf(services.CodeCountNotFound, "cash count %d not found", countID)
		}
		if err != nil {
			return fmt.Errorf("load cash count %d: %w", countID, err)
		}
		if count.IsSubmitted() {
			return services.Reject(services.CodeAlreadySubmitted, "cash count has already been submitted")
		}

		form, err := cashcount.Load(tx, count)
		if err != nil {
			return err
		}
		opening = form.IsOpening

		res, mv, err = m.submit(tx, agent, *form, actorID)
		return err
	})
	return m.settle(agentID, opening, res, mv, err)
}

// submit stages the form, moves the session to its next status and carries
// out the intents of that transition, all in tx.
func (m *Machine) submit(tx store.Tx, agent *models.Agent, form cashcount.Form, actorID string) (services.Result, *models.VaultMovement, error) {
	staged, err := cashcount.Stage(tx, agent, form)
	if err != nil {
		return services.Result{}, nil, err
	}

	now := m.now()
	session := staged.Session
	event := models.SessionEventClosingSubmitted
	if form.IsOpening {
		event = models.SessionEventOpeningSubmitted
		session = &models.CashSession{
			AgentID:     agent.ID,
			BranchID:    *agent.BranchID,
			SessionDate: sessionDay(now),
			Status:      models.SessionClosed,
		}
	}

	next, intents, err := session.Status.Next(event)
	if err != nil {
		return services.Result{}, nil, services.Reject(services.CodeInvalidTransition, err.Error())
	}
	session.Status = next

	if form.IsOpening {
		session.OpenedAt = now
		if err := tx.CreateSession(session); err != nil {
			return services.Result{}, nil, fmt.Errorf("create cash session: %w", err)
		}
		id := session.ID
		staged.Count.CashSessionID = &id
	} else {
		session.ClosedAt = &now
		if err := tx.SaveSession(session); err != nil {
			return services.Result{}, nil, fmt.Errorf("save cash session %d: %w", session.ID, err)
		}
	}

	res := services.OK()
	res.SessionID = session.ID
	res.CountID = staged.Count.ID

	var moved *models.VaultMovement

	for _, intent := range intents {
		switch intent {
		case models.IntentWithdrawFromVault:
			mv, err := m.ledger.WithdrawForSessionTx(tx, session.ID, session.BranchID, staged.Total(), actorID)
			if err != nil {
				return services.Result{}, nil, err
			}
			res.MovementID = mv.ID
			moved = mv
		case models.IntentDepositToVault:
			mv, err := m.ledger.DepositForSessionTx(tx, session.ID, session.BranchID, staged.Total(), actorID)
			if err != nil {
				return services.Result{}, nil, err
			}
			res.MovementID = mv.ID
			moved = mv
		case models.IntentSetWalletBalances:
			if err := setBalances(tx, staged.Details, false); err != nil {
				return services.Result{}, nil, err
			}
		case models.IntentZeroWalletBalances:
			if err := setBalances(tx, staged.Details, true); err != nil {
				return services.Result{}, nil, err
			}
		default:
			return services.Result{}, nil, fmt.Errorf("unhandled session intent %q", intent)
		}
	}

	staged.Count.SubmittedAt = &now
	if form.IsOpening {
		staged.Count.ApprovedAt = &now
	}
	if err := tx.SaveCount(staged.Count); err != nil {
		return services.Result{}, nil, fmt.Errorf("save cash count %d: %w", staged.Count.ID, err)
	}

	return res, moved, nil
}

func setBalances(tx store.Tx, details []models.CashCountDetail, zero bool) error {
	for _, d := range details {
		w, err := tx.LockWalletForUpdate(d.WalletID)
		if err != nil {
			return fmt.Errorf("lock wallet %d: %w", d.WalletID, err)
		}
		w.Balance = d.Amount
		if zero {
			w.Balance = decimal.Zero
		}
		if err := tx.SaveWallet(w); err != nil {
			return fmt.Errorf("save wallet %d: %w", w.ID, err)
		}
	}
	return nil
}

// sessionDay is the UTC calendar day a session opens on.
func sessionDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (m *Machine) settle(agentID uint, opening bool, res services.Result, mv *models.VaultMovement, err error) (services.Result, error) {
	res, err = services.Settle(res, err)
	if err != nil {
		m.log.Error("cash count submission failed",
			zap.Uint("agent_id", agentID),
			zap.Bool("opening", opening),
			zap.Error(err))
		return res, err
	}

	if res.Success {
		m.ledger.MovementCommitted(mv)
		m.log.Info("cash count submitted",
			zap.Uint("agent_id", agentID),
			zap.Bool("opening", opening),
			zap.Uint("session_id", res.SessionID),
			zap.Uint("count_id", res.CountID),
			zap.Uint("movement_id", res.MovementID))
	} else {
		m.log.Debug("cash count submission refused",
			zap.Uint("agent_id", agentID),
			zap.String("error_code", string(res.ErrorCode)),
			zap.String("error_message", res.ErrorMessage))
	}
	return res, nil
}
