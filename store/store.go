// Package store defines the ledger storage contract. Every read-modify-write
// runs inside one Tx; the Lock* methods hold the row exclusively until the
// unit of work ends.
package store

import (
	"context"
	"errors"
	"time"

	"agenti/models"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrConflict reports that a concurrent unit of work won the race.
	// RunInTx retries it; callers see it only once retries run out.
	ErrConflict = errors.New("concurrent update conflict")
)

// Store opens units of work. fn returning an error rolls back everything it
// wrote.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	// CreateBranch inserts the branch and its zero-balance vault together.
	CreateBranch(b *models.Branch) (*models.Vault, error)
	FindBranch(id uint) (*models.Branch, error)

	FindVaultByBranch(branchID uint) (*models.Vault, error)
	// LockBranchVaultForUpdate locks the branch vault, creating it with a
	// zero balance if the branch has none. ErrNotFound if the branch is missing.
	LockBranchVaultForUpdate(branchID uint) (*models.Vault, error)
	LockVaultForUpdate(vaultID uint) (*models.Vault, error)
	SaveVault(v *models.Vault) error

	CreateMovement(m *models.VaultMovement) error
	LockMovementForUpdate(id uint) (*models.VaultMovement, error)
	SaveMovement(m *models.VaultMovement) error
	ListMovements(vaultID uint, limit int, includeExpired bool) ([]models.VaultMovement, error)
	// ExpirePending moves every pending movement due at or before now to
	// expired and returns how many changed.
	ExpirePending(now time.Time) (int64, error)

	FindUser(id string) (*models.User, error)
	FindAgent(id uint) (*models.Agent, error)
	// FindAgentByUser returns the agent linked to a user account.
	FindAgentByUser(userID string) (*models.Agent, error)
	LockAgentForUpdate(id uint) (*models.Agent, error)

	// ListActiveWallets returns the agent's active wallets with their type,
	// ordered by type name then wallet name.
	ListActiveWallets(agentID uint) ([]models.Wallet, error)
	FindWallet(id uint) (*models.Wallet, error)
	LockWalletForUpdate(id uint) (*models.Wallet, error)
	SaveWallet(w *models.Wallet) error

	FindOpenSession(agentID uint) (*models.CashSession, error)
	FindSession(id uint) (*models.CashSession, error)
	// ListSessions returns sessions newest first: by session date, then
	// opening time, then id.
	ListSessions(limit int) ([]models.CashSession, error)
	CreateSession(s *models.CashSession) error
	SaveSession(s *models.CashSession) error

	FindCount(id uint) (*models.CashCount, error)
	// FindOpeningDraft returns the agent's opening count not yet bound to a session.
	FindOpeningDraft(agentID uint) (*models.CashCount, error)
	FindSessionCount(sessionID uint, isOpening bool) (*models.CashCount, error)
	CreateCount(c *models.CashCount) error
	SaveCount(c *models.CashCount) error
	ReplaceDetails(countID uint, details []models.CashCountDetail) error
	ListDetails(countID uint) ([]models.CashCountDetail, error)
}
