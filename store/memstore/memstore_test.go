package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenti/models"
	"agenti/store"
)

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	var branchID uint
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		b := &models.Branch{Name: "Entebbe"}
		_, err := tx.CreateBranch(b)
		branchID = b.ID
		return err
	}))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.LockBranchVaultForUpdate(branchID)
		if err != nil {
			return err
		}
		v.CurrentBalance = decimal.NewFromInt(1000)
		if err := tx.SaveVault(v); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		v, err := tx.FindVaultByBranch(branchID)
		require.NoError(t, err)
		assert.True(t, v.CurrentBalance.IsZero())
		return nil
	}))
}

func TestWithinTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestCreateSession_OneOpenPerAgent(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSession(&models.CashSession{AgentID: 1, BranchID: 1, Status: models.SessionOpen}); err != nil {
			return err
		}
		return tx.CreateSession(&models.CashSession{AgentID: 1, BranchID: 1, Status: models.SessionOpen})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestLockBranchVaultForUpdate(t *testing.T) {
	s := New()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.LockBranchVaultForUpdate(42)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
