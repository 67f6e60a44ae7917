package vault_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenti/models"
	"agenti/services"
	"agenti/services/vault"
	"agenti/store"
	"agenti/store/memstore"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	st     *memstore.Store
	ledger *vault.Ledger
	clock  *clock
	branch uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memstore.New()
	st.PutUser(models.User{ID: "admin-1", Role: models.RoleAdmin, IsActive: true})
	st.PutUser(models.User{ID: "admin-2", Role: models.RoleAdmin, IsActive: true})
	st.PutUser(models.User{ID: "agent-1", Role: models.RoleAgent, IsActive: true})

	var branchID uint
	err := st.WithinTx(context.Background(), func(tx store.Tx) error {
		b := &models.Branch{Name: "Kampala Central"}
		if _, err := tx.CreateBranch(b); err != nil {
			return err
		}
		branchID = b.ID
		return nil
	})
	require.NoError(t, err)

	c := &clock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	return &fixture{
		st:     st,
		ledger: vault.New(st, vault.WithClock(c.Now)),
		clock:  c,
		branch: branchID,
	}
}

func ugx(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// fund puts money in the vault through an approved manual deposit.
func (f *fixture) fund(t *testing.T, amount int64) {
	t.Helper()
	ctx := context.Background()

	res, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(amount), true, "initial float from head office", "admin-1")
	require.NoError(t, err)
	require.True(t, res.Success, res.ErrorMessage)

	res, err = f.ledger.ApproveManualAdjustment(ctx, res.MovementID, "admin-2")
	require.NoError(t, err)
	require.True(t, res.Success, res.ErrorMessage)
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	v, err := f.ledger.Vault(context.Background(), f.branch)
	require.NoError(t, err)
	return v.CurrentBalance
}

func (f *fixture) movement(t *testing.T, id uint) *models.VaultMovement {
	t.Helper()
	var m *models.VaultMovement
	err := f.st.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		m, err = tx.LockMovementForUpdate(id)
		return err
	})
	require.NoError(t, err)
	return m
}

// assertLedgerConsistent checks the balance equals the signed sum of the
// completed movements.
func (f *fixture) assertLedgerConsistent(t *testing.T) {
	t.Helper()
	all, err := f.ledger.RecentMovements(context.Background(), f.branch, 10000, true)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, m := range all {
		if m.Status == models.MovementCompleted {
			sum = sum.Add(m.Type.Signed(m.Amount))
		}
	}
	assert.True(t, sum.Equal(f.balance(t)), "balance %s, completed movements sum %s", f.balance(t), sum)
}

func TestWithdrawForSession(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100000)

	res, err := f.ledger.WithdrawForSession(context.Background(), 7, f.branch, ugx(30000), "agent-1")
	require.NoError(t, err)
	require.True(t, res.Success, res.ErrorMessage)

	assert.True(t, f.balance(t).Equal(ugx(70000)))

	m := f.movement(t, res.MovementID)
	assert.Equal(t, models.MovementOpeningWithdrawal, m.Type)
	assert.Equal(t, models.MovementCompleted, m.Status)
	require.NotNil(t, m.CashSessionID)
	assert.Equal(t, uint(7), *m.CashSessionID)
	require.NotNil(t, m.BalanceAfter)
	assert.True(t, m.BalanceAfter.Equal(ugx(70000)))
	f.assertLedgerConsistent(t)
}

func TestWithdrawForSession_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100000)

	res, err := f.ledger.WithdrawForSession(context.Background(), 1, f.branch, ugx(150000), "agent-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, services.CodeInsufficientBalance, res.ErrorCode)
	assert.True(t, f.balance(t).Equal(ugx(100000)))
}

func TestWithdrawForSession_RejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100000)

	for _, amount := range []decimal.Decimal{decimal.Zero, ugx(-500), decimal.RequireFromString("0.004")} {
		res, err := f.ledger.WithdrawForSession(context.Background(), 1, f.branch, amount, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, services.CodeInvalidAmount, res.ErrorCode, amount.String())
	}
	assert.True(t, f.balance(t).Equal(ugx(100000)))
}

func TestWithdrawForSession_UnknownBranch(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.WithdrawForSession(context.Background(), 1, 999, ugx(1000), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, services.CodeBranchNotFound, res.ErrorCode)
}

func TestDepositForSession(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100000)
	ctx := context.Background()

	res, err := f.ledger.WithdrawForSession(ctx, 3, f.branch, ugx(30000), "agent-1")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.ledger.DepositForSession(ctx, 3, f.branch, ugx(28000), "agent-1")
	require.NoError(t, err)
	require.True(t, res.Success, res.ErrorMessage)

	assert.True(t, f.balance(t).Equal(ugx(98000)))
	assert.Equal(t, models.MovementClosingDeposit, f.movement(t, res.MovementID).Type)
	f.assertLedgerConsistent(t)
}

func TestRequestManualAdjustment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(5000), true, "   too short  ", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, services.CodeInvalidNotes, res.ErrorCode)

	res, err = f.ledger.RequestManualAdjustment(ctx, f.branch, decimal.Zero, true, "a perfectly fine audit note", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, services.CodeInvalidAmount, res.ErrorCode)

	res, err = f.ledger.RequestManualAdjustment(ctx, 404, ugx(5000), true, "a perfectly fine audit note", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, services.CodeBranchNotFound, res.ErrorCode)
}

func TestRequestManualAdjustment_NotesLength(t *testing.T) {
	cases := []struct {
		notes string
		ok    bool
	}{
		{notes: "too short", ok: false},
		{notes: "   too short  ", ok: false},
		{notes: "cash float", ok: true},
		{notes: "  cash float  ", ok: true},
		{notes: "till top-up", ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.notes, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.ledger.RequestManualAdjustment(context.Background(), f.branch, ugx(5000), true, tc.notes, "admin-1")
			require.NoError(t, err)
			if tc.ok {
				assert.True(t, res.Success, res.ErrorMessage)
				return
			}
			assert.Equal(t, services.CodeInvalidNotes, res.ErrorCode)
		})
	}
}

func TestRequestManualAdjustment_LeavesBalanceUntouched(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.RequestManualAdjustment(context.Background(), f.branch, ugx(5000), true, "  cash found in safe  ", "admin-1")
	require.NoError(t, err)
	require.True(t, res.Success)

	m := f.movement(t, res.MovementID)
	assert.Equal(t, models.MovementPending, m.Status)
	assert.Equal(t, "cash found in safe", m.Notes)
	assert.Nil(t, m.BalanceAfter)
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(vault.DefaultPendingExpiry), *m.ExpiresAt)
	assert.True(t, f.balance(t).IsZero())
}

func TestApproveManualAdjustment(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100000)
	ctx := context.Background()

	req, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(20000), false, "transfer to bank branch", "admin-1")
	require.NoError(t, err)
	require.True(t, req.Success)

	res, err := f.ledger.ApproveManualAdjustment(ctx, req.MovementID, "admin-2")
	require.NoError(t, err)
	require.True(t, res.Success, res.ErrorMessage)

	m := f.movement(t, req.MovementID)
	assert.Equal(t, models.MovementCompleted, m.Status)
	require.NotNil(t, m.ApprovedBy)
	assert.Equal(t, "admin-2", *m.ApprovedBy)
	require.NotNil(t, m.BalanceAfter)
	assert.True(t, m.BalanceAfter.Equal(ugx(80000)))
	assert.True(t, f.balance(t).Equal(ugx(80000)))
	f.assertLedgerConsistent(t)
}

func TestApproveManualAdjustment_Refusals(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10000)
	ctx := context.Background()

	req, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(50000), false, "withdrawal larger than vault", "admin-1")
	require.NoError(t, err)
	require.True(t, req.Success)

	cases := []struct {
		name  string
		id    uint
		actor string
		want  services.Code
	}{
		{"non admin", req.MovementID, "agent-1", services.CodeForbidden},
		{"unknown user", req.MovementID, "ghost", services.CodeForbidden},
		{"unknown movement", 9999, "admin-2", services.CodeMovementNotFound},
		{"requester", req.MovementID, "admin-1", services.CodeSelfApproval},
		{"overdraw", req.MovementID, "admin-2", services.CodeInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.ledger.ApproveManualAdjustment(ctx, tc.id, tc.actor)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.want, res.ErrorCode)
		})
	}

	assert.Equal(t, models.MovementPending, f.movement(t, req.MovementID).Status)
	assert.True(t, f.balance(t).Equal(ugx(10000)))
}

func TestApproveManualAdjustment_NotPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(5000), true, "surplus from last audit", "admin-1")
	require.NoError(t, err)

	res, err := f.ledger.RejectManualAdjustment(ctx, req.MovementID, "admin-2")
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.ledger.ApproveManualAdjustment(ctx, req.MovementID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, services.CodeNotPending, res.ErrorCode)

	m := f.movement(t, req.MovementID)
	assert.Equal(t, models.MovementRejected, m.Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestApproveManualAdjustment_ExpiredIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(5000), true, "surplus from last audit", "admin-1")
	require.NoError(t, err)

	f.clock.Advance(vault.DefaultPendingExpiry)

	res, err := f.ledger.ApproveManualAdjustment(ctx, req.MovementID, "admin-2")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, services.CodeExpired, res.ErrorCode)

	assert.Equal(t, models.MovementExpired, f.movement(t, req.MovementID).Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestRejectManualAdjustment_SelfAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(5000), true, "surplus from last audit", "admin-1")
	require.NoError(t, err)

	res, err := f.ledger.RejectManualAdjustment(ctx, req.MovementID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, services.CodeSelfApproval, res.ErrorCode)

	f.clock.Advance(13 * time.Hour)

	res, err = f.ledger.RejectManualAdjustment(ctx, req.MovementID, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, services.CodeExpired, res.ErrorCode)
	assert.Equal(t, models.MovementExpired, f.movement(t, req.MovementID).Status)
}

func TestExpirePendingMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(5000), true, "first pending request", "admin-1")
	require.NoError(t, err)

	f.clock.Advance(6 * time.Hour)
	late, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(7000), true, "second pending request", "admin-1")
	require.NoError(t, err)

	n, err := f.ledger.ExpirePendingMovements(ctx, f.clock.Now().Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.ledger.ExpirePendingMovements(ctx, f.clock.Now().Add(6*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, models.MovementExpired, f.movement(t, early.MovementID).Status)
	assert.Equal(t, models.MovementPending, f.movement(t, late.MovementID).Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestRecentMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 50000)

	f.clock.Advance(time.Minute)
	stale, err := f.ledger.RequestManualAdjustment(ctx, f.branch, ugx(1000), true, "request left to expire", "admin-1")
	require.NoError(t, err)
	_, err = f.ledger.ExpirePendingMovements(ctx, f.clock.Now().Add(24*time.Hour))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	w, err := f.ledger.WithdrawForSession(ctx, 1, f.branch, ugx(10000), "agent-1")
	require.NoError(t, err)

	visible, err := f.ledger.RecentMovements(ctx, f.branch, 0, false)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, w.MovementID, visible[0].ID)

	all, err := f.ledger.RecentMovements(ctx, f.branch, 0, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, stale.MovementID, all[1].ID)

	limited, err := f.ledger.RecentMovements(ctx, f.branch, 1, true)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := f.ledger.RecentMovements(ctx, 12345, 10, true)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVault_UnknownBranch(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Vault(context.Background(), 12345)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestVault_BranchWithoutVaultYet(t *testing.T) {
	f := newFixture(t)
	b := &models.Branch{Name: "Lira"}
	f.st.PutBranch(b)

	view, err := f.ledger.Vault(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lira", view.BranchName)
	assert.Zero(t, view.ID)
	assert.True(t, view.CurrentBalance.IsZero())

	movements, err := f.ledger.RecentMovements(context.Background(), b.ID, 10, true)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestRecentMovements_LimitIsCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.st.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.FindVaultByBranch(f.branch)
		if err != nil {
			return err
		}
		for i := 0; i < vault.MaxMovementLimit+10; i++ {
			m := &models.VaultMovement{
				VaultID:   v.ID,
				Amount:    ugx(1),
				Type:      models.MovementManualDeposit,
				Status:    models.MovementRejected,
				CreatedBy: "admin-1",
				CreatedAt: f.clock.Now(),
			}
			if err := tx.CreateMovement(m); err != nil {
				return err
			}
		}
		return nil
	}))

	movements, err := f.ledger.RecentMovements(ctx, f.branch, 100000000, true)
	require.NoError(t, err)
	assert.Len(t, movements, vault.MaxMovementLimit)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 100000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []services.Result
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(session uint) {
			defer wg.Done()
			res, err := f.ledger.WithdrawForSession(context.Background(), session, f.branch, ugx(60000), "agent-1")
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(uint(i + 1))
	}
	wg.Wait()

	var ok, refused int
	for _, res := range results {
		if res.Success {
			ok++
			continue
		}
		assert.Equal(t, services.CodeInsufficientBalance, res.ErrorCode)
		refused++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)
	assert.True(t, f.balance(t).Equal(ugx(40000)))
	f.assertLedgerConsistent(t)
}
