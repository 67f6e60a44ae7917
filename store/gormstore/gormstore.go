// Package gormstore implements the ledger store on PostgreSQL through gorm.
// Units of work run at serializable isolation and hold row locks taken with
// SELECT ... FOR UPDATE.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agenti/models"
	"agenti/store"
)

// SQLSTATE codes that mean another transaction won the race.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&tx{db: db})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})

	return translate(err)
}

// translate maps driver conflicts onto store.ErrConflict and leaves every
// other error, including business failures returned by fn, untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
	}

	return err
}

func forUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

type tx struct {
	db *gorm.DB
}

func (t *tx) CreateBranch(b *models.Branch) (*models.Vault, error) {
	b.Vault = nil
	if err := t.db.Create(b).Error; err != nil {
		return nil, err
	}

	v := models.Vault{BranchID: b.ID, CurrentBalance: decimal.Zero}
	if err := t.db.Create(&v).Error; err != nil {
		return nil, err
	}
	b.Vault = &v
	return &v, nil
}

func (t *tx) FindBranch(id uint) (*models.Branch, error) {
	var b models.Branch
	if err := t.db.First(&b, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (t *tx) FindVaultByBranch(branchID uint) (*models.Vault, error) {
	var v models.Vault
	if err := t.db.Where("branch_id = ?", branchID).First(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (t *tx) LockBranchVaultForUpdate(branchID uint) (*models.Vault, error) {
	if _, err := t.FindBranch(branchID); err != nil {
		return nil, err
	}

	var v models.Vault
	err := t.db.Clauses(forUpdate()).Where("branch_id = ?", branchID).First(&v).Error
	if err == nil {
		return &v, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Lazily create; a concurrent creator wins via the unique branch index.
	created := models.Vault{BranchID: branchID, CurrentBalance: decimal.Zero}
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
		return nil, err
	}

	v = models.Vault{}
	if err := t.db.Clauses(forUpdate()).Where("branch_id = ?", branchID).First(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (t *tx) LockVaultForUpdate(vaultID uint) (*models.Vault, error) {
	var v models.Vault
	if err := t.db.Clauses(forUpdate()).First(&v, vaultID).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func (t *tx) SaveVault(v *models.Vault) error {
	return t.db.Model(&models.Vault{}).
		Where("id = ?", v.ID).
		Updates(map[string]any{
			"current_balance": v.CurrentBalance,
			"updated_at":      v.UpdatedAt,
		}).Error
}

func (t *tx) CreateMovement(m *models.VaultMovement) error {
	return t.db.Create(m).Error
}

func (t *tx) LockMovementForUpdate(id uint) (*models.VaultMovement, error) {
	var m models.VaultMovement
	if err := t.db.Clauses(forUpdate()).First(&m, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (t *tx) SaveMovement(m *models.VaultMovement) error {
	return t.db.Save(m).Error
}

func (t *tx) ListMovements(vaultID uint, limit int, includeExpired bool) ([]models.VaultMovement, error) {
	q := t.db.Where("vault_id = ?", vaultID)
	if !includeExpired {
		q = q.Where("status <> ?", models.MovementExpired)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []models.VaultMovement
	if err := q.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tx) ExpirePending(now time.Time) (int64, error) {
	res := t.db.Model(&models.VaultMovement{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.MovementPending, now).
		Update("status", models.MovementExpired)
	return res.RowsAffected, res.Error
}

func (t *tx) FindUser(id string) (*models.User, error) {
	var u models.User
	if err := t.db.Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *tx) FindAgent(id uint) (*models.Agent, error) {
	var a models.Agent
	if err := t.db.First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (t *tx) FindAgentByUser(userID string) (*models.Agent, error) {
	var a models.Agent
	if err := t.db.Where("user_id = ?", userID).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (t *tx) LockAgentForUpdate(id uint) (*models.Agent, error) {
	var a models.Agent
	if err := t.db.Clauses(forUpdate()).First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (t *tx) ListActiveWallets(agentID uint) ([]models.Wallet, error) {
	var out []models.Wallet
	err := t.db.Preload("WalletType").
		Joins("JOIN wallet_types ON wallet_types.id = wallets.wallet_type_id").
		Where("wallets.agent_id = ? AND wallets.is_active = ?", agentID, true).
		Order("wallet_types.name ASC").
		Order("wallets.name ASC").
		Order("wallets.id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tx) FindWallet(id uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := t.db.Preload("WalletType").First(&w, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (t *tx) LockWalletForUpdate(id uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := t.db.Clauses(forUpdate()).First(&w, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

func (t *tx) SaveWallet(w *models.Wallet) error {
	return t.db.Model(&models.Wallet{}).
		Where("id = ?", w.ID).
		Updates(map[string]any{
			"balance":    w.Balance,
			"updated_at": time.Now(),
		}).Error
}

func (t *tx) FindOpenSession(agentID uint) (*models.CashSession, error) {
	var s models.CashSession
	err := t.db.Where("agent_id = ? AND status = ?", agentID, models.SessionOpen).First(&s).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (t *tx) FindSession(id uint) (*models.CashSession, error) {
	var s models.CashSession
	if err := t.db.First(&s, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (t *tx) ListSessions(limit int) ([]models.CashSession, error) {
	q := t.db.Order("session_date DESC").Order("opened_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []models.CashSession
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tx) CreateSession(s *models.CashSession) error {
	return t.db.Omit(clause.Associations).Create(s).Error
}

func (t *tx) SaveSession(s *models.CashSession) error {
	return t.db.Omit(clause.Associations).Save(s).Error
}

func (t *tx) FindCount(id uint) (*models.CashCount, error) {
	var c models.CashCount
	if err := t.db.First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (t *tx) FindOpeningDraft(agentID uint) (*models.CashCount, error) {
	var c models.CashCount
	err := t.db.
		Where("agent_id = ? AND is_opening = ? AND cash_session_id IS NULL AND submitted_at IS NULL", agentID, true).
		Order("id DESC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (t *tx) FindSessionCount(sessionID uint, isOpening bool) (*models.CashCount, error) {
	var c models.CashCount
	err := t.db.Where("cash_session_id = ? AND is_opening = ?", sessionID, isOpening).
		Order("id DESC").
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (t *tx) CreateCount(c *models.CashCount) error {
	return t.db.Omit(clause.Associations).Create(c).Error
}

func (t *tx) SaveCount(c *models.CashCount) error {
	return t.db.Omit(clause.Associations).Save(c).Error
}

func (t *tx) ReplaceDetails(countID uint, details []models.CashCountDetail) error {
	if err := t.db.Where("cash_count_id = ?", countID).Delete(&models.CashCountDetail{}).Error; err != nil {
		return err
	}
	if len(details) == 0 {
		return nil
	}
	for i := range details {
		details[i].ID = 0
		details[i].CashCountID = countID
	}
	return t.db.Create(&details).Error
}

func (t *tx) ListDetails(countID uint) ([]models.CashCountDetail, error) {
	var out []models.CashCountDetail
	if err := t.db.Where("cash_count_id = ?", countID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
