// Package vault is the branch vault ledger. It is the only code allowed to
// change a vault balance, and every change appends a movement in the same
// unit of work.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"agenti/models"
	"agenti/services"
	"agenti/store"
)

const (
	DefaultPendingExpiry = 12 * time.Hour
	DefaultMovementLimit = 50
	MaxMovementLimit     = 500

	minNotesLength = 10
)

type Ledger struct {
	store         store.Store
	log           *zap.Logger
	now           func() time.Time
	pendingExpiry time.Duration
	meters        metric.MeterProvider
	metrics       *metrics
}

type Option func(*Ledger)

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithPendingExpiry(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.pendingExpiry = d
		}
	}
}

// WithMeterProvider overrides the global otel meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(l *Ledger) {
		l.meters = mp
	}
}

func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         s,
		log:           zap.NewNop(),
		now:           time.Now,
		pendingExpiry: DefaultPendingExpiry,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.metrics = newMetrics(l.meters)
	return l
}

// View is the read model of a branch vault.
type View struct {
	ID             uint            `json:"id"`
	BranchID       uint            `json:"branch_id"`
	BranchName     string          `json:"branch_name"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (l *Ledger) Vault(ctx context.Context, branchID uint) (*View, error) {
	var view *View
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		branch, err := tx.FindBranch(branchID)
		if err != nil {
			return err
		}
		v, err := tx.FindVaultByBranch(branchID)
		if errors.Is(err, store.ErrNotFound) {
			// The vault is created by the branch's first movement.
			view = &View{BranchID: branchID, BranchName: branch.Name, CurrentBalance: decimal.Zero}
			return nil
		}
		if err != nil {
			return err
		}
		view = &View{
			ID:             v.ID,
			BranchID:       v.BranchID,
			BranchName:     branch.Name,
			CurrentBalance: v.CurrentBalance,
			UpdatedAt:      v.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load vault for branch %d: %w", branchID, err)
	}
	return view, nil
}

// RecentMovements lists the branch vault's movements, newest first, at most
// MaxMovementLimit of them. A branch without a vault has no movements.
func (l *Ledger) RecentMovements(ctx context.Context, branchID uint, limit int, includeExpired bool) ([]models.VaultMovement, error) {
	switch {
	case limit <= 0:
		limit = DefaultMovementLimit
	case limit > MaxMovementLimit:
		limit = MaxMovementLimit
	}

	var out []models.VaultMovement
	err := l.store.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.FindVaultByBranch(branchID)
		if errors.Is(err, store.ErrNotFound) {
			out = []models.VaultMovement{}
			return nil
		}
		if err != nil {
			return err
		}
		out, err = tx.ListMovements(v.ID, limit, includeExpired)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list movements for branch %d: %w", branchID, err)
	}
	return out, nil
}

// WithdrawForSession moves the opening float out of the vault.
func (l *Ledger) WithdrawForSession(ctx context.Context, sessionID, branchID uint, amount decimal.Decimal, actorID string) (services.Result, error) {
	var res services.Result
	err := store.RunInTx(ctx, l.store, func(tx store.Tx) error {
		m, err := l.WithdrawForSessionTx(tx, sessionID, branchID, amount, actorID)
		if err != nil {
			return err
		}
		res = services.OK()
		res.MovementID = m.ID
		res.SessionID = sessionID
		return nil
	})

	res, err = l.settle(ctx, "withdraw_for_session", res, err)
	if err == nil && res.Success {
		l.metrics.movement(models.MovementOpeningWithdrawal, models.MovementCompleted)
	}
	return res, err
}

// WithdrawForSessionTx is WithdrawForSession inside a caller-owned unit of
// work. The caller reports the movement with MovementCommitted once that unit
// of work commits.
func (l *Ledger) WithdrawForSessionTx(tx store.Tx, sessionID, branchID uint, amount decimal.Decimal, actorID string) (*models.VaultMovement, error) {
	amount, err := positive(amount)
	if err != nil {
		return nil, err
	}

	v, err := l.lockBranchVault(tx, branchID)
	if err != nil {
		return nil, err
	}

	if v.CurrentBalance.LessThan(amount) {
		return nil, services.Rejectf(services.CodeInsufficientBalance,
			"insufficient vault balance: available %s, requested %s", v.CurrentBalance.StringFixed(2), amount.StringFixed(2))
	}

	return l.post(tx, v, &sessionID, models.MovementOpeningWithdrawal, amount, actorID, "Opening cash withdrawal")
}

// DepositForSession returns the closing cash to the vault.
func (l *Ledger) DepositForSession(ctx context.Context, sessionID, branchID uint, amount decimal.Decimal, actorID string) (services.Result, error) {
	var res services.Result
	err := store.RunInTx(ctx, l.store, func(tx store.Tx) error {
		m, err := l.DepositForSessionTx(tx, sessionID, branchID, amount, actorID)
		if err != nil {
			return err
		}
		res = services.OK()
		res.MovementID = m.ID
		res.SessionID = sessionID
		return nil
	})

	res, err = l.settle(ctx, "deposit_for_session", res, err)
	if err == nil && res.Success {
		l.metrics.movement(models.MovementClosingDeposit, models.MovementCompleted)
	}
	return res, err
}

func (l *Ledger) DepositForSessionTx(tx store.Tx, sessionID, branchID uint, amount decimal.Decimal, actorID string) (*models.VaultMovement, error) {
	amount, err := positive(amount)
	if err != nil {
		return nil, err
	}

	v, err := l.lockBranchVault(tx, branchID)
	if err != nil {
		return nil, err
	}

	return l.post(tx, v, &sessionID, models.MovementClosingDeposit, amount, actorID, "Closing cash deposit")
}

// RequestManualAdjustment records a pending off-cycle movement that a second
// administrator must approve before the deadline. The balance is untouched.
func (l *Ledger) RequestManualAdjustment(ctx context.Context, branchID uint, amount decimal.Decimal, isDeposit bool, notes, actorID string) (services.Result, error) {
	typ := models.MovementManualWithdrawal
	if isDeposit {
		typ = models.MovementManualDeposit
	}

	var res services.Result
	err := store.RunInTx(ctx, l.store, func(tx store.Tx) error {
		amount, err := positive(amount)
		if err != nil {
			return err
		}

		notes = strings.TrimSpace(notes)
		if utf8.RuneCountInString(notes) < minNotesLength {
			return services.Rejectf(services.CodeInvalidNotes,
				"notes must be at least %d characters for audit", minNotesLength)
		}

		v, err := l.lockBranchVault(tx, branchID)
		if err != nil {
			return err
		}

		now := l.now()
		expiresAt := now.Add(l.pendingExpiry)
		m := &models.VaultMovement{
			VaultID:   v.ID,
			Amount:    amount,
			Type:      typ,
			Status:    models.MovementPending,
			CreatedBy: actorID,
			CreatedAt: now,
			ExpiresAt: &expiresAt,
			Notes:     notes,
		}
		if err := tx.CreateMovement(m); err != nil {
			return fmt.Errorf("create pending movement: %w", err)
		}

		res = services.OK()
		res.MovementID = m.ID
		return nil
	})

	res, err = l.settle(ctx, "request_manual_adjustment", res, err)
	if err == nil && res.Success {
		l.metrics.movement(typ, models.MovementPending)
		l.log.Info("manual adjustment requested",
			zap.Uint("branch_id", branchID),
			zap.Uint("movement_id", res.MovementID),
			zap.Bool("deposit", isDeposit),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("actor_id", actorID))
	}
	return res, err
}

// ApproveManualAdjustment completes a pending adjustment. Expiry is checked
// while the movement row is locked, so a sweep and an approval cannot both win.
func (l *Ledger) ApproveManualAdjustment(ctx context.Context, movementID uint, adminID string) (services.Result, error) {
	return l.decide(ctx, movementID, adminID, models.MovementEventApprove)
}

// RejectManualAdjustment closes a pending adjustment without touching the balance.
func (l *Ledger) RejectManualAdjustment(ctx context.Context, movementID uint, adminID string) (services.Result, error) {
	return l.decide(ctx, movementID, adminID, models.MovementEventReject)
}

func (l *Ledger) decide(ctx context.Context, movementID uint, adminID string, ev models.MovementEvent) (services.Result, error) {
	var (
		res     services.Result
		decided *models.VaultMovement
	)
	err := store.RunInTx(ctx, l.store, func(tx store.Tx) error {
		decided = nil
		if err := requireAdmin(tx, adminID); err != nil {
			return err
		}

		m, err := tx.LockMovementForUpdate(movementID)
		if errors.Is(err, store.ErrNotFound) {
			return services.Rejectf(services.CodeMovementNotFound, "movement %d not found", movementID)
		}
		if err != nil {
			return fmt.Errorf("lock movement %d: %w", movementID, err)
		}

		if m.CreatedBy == adminID {
			return services.Reject(services.CodeSelfApproval, "the requester of an adjustment cannot decide it")
		}
		if m.Status != models.MovementPending {
			return services.Rejectf(services.CodeNotPending, "movement is %s, not pending", m.Status)
		}

		now := l.now()
		if m.IsExpiredAt(now) {
			if err := l.transition(tx, m, models.MovementEventExpire, nil); err != nil {
				return err
			}
			res = services.Fail(services.CodeExpired, "manual adjustment has expired")
			res.MovementID = m.ID
			decided = m
			return nil
		}

		var v *models.Vault
		if ev == models.MovementEventApprove {
			v, err = tx.LockVaultForUpdate(m.VaultID)
			if errors.Is(err, store.ErrNotFound) {
				return services.Rejectf(services.CodeBranchNotFound, "vault %d not found", m.VaultID)
			}
			if err != nil {
				return fmt.Errorf("lock vault %d: %w", m.VaultID, err)
			}
		}

		m.ApprovedBy = &adminID
		m.ApprovedAt = &now
		if err := l.transition(tx, m, ev, v); err != nil {
			return err
		}

		res = services.OK()
		res.MovementID = m.ID
		decided = m
		return nil
	})

	res, err = l.settle(ctx, string(ev)+"_manual_adjustment", res, err)
	if err == nil && decided != nil {
		l.MovementCommitted(decided)
	}
	if err == nil {
		l.log.Info("manual adjustment decided",
			zap.Uint("movement_id", movementID),
			zap.String("decision", string(ev)),
			zap.Bool("success", res.Success),
			zap.String("error_code", string(res.ErrorCode)),
			zap.String("admin_id", adminID))
	}
	return res, err
}

// transition moves a pending movement to its next status and carries out
// the intents that come with it. v must be locked when the event applies
// the movement to the balance.
func (l *Ledger) transition(tx store.Tx, m *models.VaultMovement, ev models.MovementEvent, v *models.Vault) error {
	next, intents, err := m.Status.Next(ev)
	if err != nil {
		return services.Reject(services.CodeNotPending, err.Error())
	}

	for _, intent := range intents {
		switch intent {
		case models.IntentApplyToBalance:
			if v == nil {
				return fmt.Errorf("apply movement %d: vault not locked", m.ID)
			}
			balance, err := applySigned(v, m.Type, m.Amount)
			if err != nil {
				return err
			}
			v.CurrentBalance = balance
			v.UpdatedAt = l.now()
			if err := tx.SaveVault(v); err != nil {
				return fmt.Errorf("save vault %d: %w", v.ID, err)
			}
			after := balance
			m.BalanceAfter = &after
		default:
			return fmt.Errorf("unhandled movement intent %q", intent)
		}
	}

	m.Status = next
	if err := tx.SaveMovement(m); err != nil {
		return fmt.Errorf("save movement %d: %w", m.ID, err)
	}
	return nil
}

// MovementCommitted counts a movement written inside a unit of work that has
// since committed.
func (l *Ledger) MovementCommitted(m *models.VaultMovement) {
	if m == nil {
		return
	}
	l.metrics.movement(m.Type, m.Status)
}

// ExpirePendingMovements marks every pending movement whose deadline is at or
// before now as expired. Running it twice is harmless.
func (l *Ledger) ExpirePendingMovements(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := store.RunInTx(ctx, l.store, func(tx store.Tx) error {
		var err error
		n, err = tx.ExpirePending(now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("expire pending movements: %w", err)
	}
	if n > 0 {
		l.metrics.expired(n)
	}
	return n, nil
}

func (l *Ledger) post(tx store.Tx, v *models.Vault, sessionID *uint, typ models.MovementType, amount decimal.Decimal, actorID, notes string) (*models.VaultMovement, error) {
	balance, err := applySigned(v, typ, amount)
	if err != nil {
		return nil, err
	}

	now := l.now()
	v.CurrentBalance = balance
	v.UpdatedAt = now
	if err := tx.SaveVault(v); err != nil {
		return nil, fmt.Errorf("save vault %d: %w", v.ID, err)
	}

	after := balance
	m := &models.VaultMovement{
		VaultID:       v.ID,
		CashSessionID: sessionID,
		Amount:        amount,
		Type:          typ,
		Status:        models.MovementCompleted,
		BalanceAfter:  &after,
		CreatedBy:     actorID,
		CreatedAt:     now,
		Notes:         notes,
	}
	if err := tx.CreateMovement(m); err != nil {
		return nil, fmt.Errorf("create movement: %w", err)
	}
	return m, nil
}

// applySigned returns the balance after applying amount in the direction of
// typ, refusing to go below zero.
func applySigned(v *models.Vault, typ models.MovementType, amount decimal.Decimal) (decimal.Decimal, error) {
	balance := v.CurrentBalance.Add(typ.Signed(amount))
	if balance.IsNegative() {
		return decimal.Zero, services.Rejectf(services.CodeInsufficientBalance,
			"insufficient vault balance: available %s, requested %s", v.CurrentBalance.StringFixed(2), amount.StringFixed(2))
	}
	return balance, nil
}

func (l *Ledger) lockBranchVault(tx store.Tx, branchID uint) (*models.Vault, error) {
	v, err := tx.LockBranchVaultForUpdate(branchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, services.Rejectf(services.CodeBranchNotFound, "branch %d not found", branchID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock vault for branch %d: %w", branchID, err)
	}
	return v, nil
}

func requireAdmin(tx store.Tx, userID string) error {
	u, err := tx.FindUser(userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load user %q: %w", userID, err)
	}
	if !u.IsAdmin() {
		return services.Reject(services.CodeForbidden, "only administrators can decide vault adjustments")
	}
	return nil
}

// positive rounds to cents and refuses zero or negative amounts.
func positive(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Zero, services.Reject(services.CodeInvalidAmount, "amount must be greater than zero")
	}
	return amount, nil
}

func (l *Ledger) settle(ctx context.Context, op string, res services.Result, err error) (services.Result, error) {
	res, err = services.Settle(res, err)
	if err != nil {
		l.log.Error("vault operation failed", zap.String("operation", op), zap.Error(err))
		return res, err
	}
	if !res.Success {
		l.metrics.rejected(ctx, op, res.ErrorCode)
		l.log.Debug("vault operation rejected",
			zap.String("operation", op),
			zap.String("error_code", string(res.ErrorCode)),
			zap.String("error_message", res.ErrorMessage))
	}
	return res, nil
}
