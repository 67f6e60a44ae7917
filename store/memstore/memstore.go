// Package memstore is a single-process ledger store. Units of work are
// serialised by one mutex and run against a private copy of the state that
// replaces the committed state only when the unit succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"agenti/models"
	"agenti/store"
)

type state struct {
	nextID uint

	branches    map[uint]models.Branch
	vaults      map[uint]models.Vault
	movements   map[uint]models.VaultMovement
	users       map[string]models.User
	agents      map[uint]models.Agent
	walletTypes map[uint]models.WalletType
	wallets     map[uint]models.Wallet
	sessions    map[uint]models.CashSession
	counts      map[uint]models.CashCount
	details     map[uint][]models.CashCountDetail
}

func newState() *state {
	return &state{
		branches:    map[uint]models.Branch{},
		vaults:      map[uint]models.Vault{},
		movements:   map[uint]models.VaultMovement{},
		users:       map[string]models.User{},
		agents:      map[uint]models.Agent{},
		walletTypes: map[uint]models.WalletType{},
		wallets:     map[uint]models.Wallet{},
		sessions:    map[uint]models.CashSession{},
		counts:      map[uint]models.CashCount{},
		details:     map[uint][]models.CashCountDetail{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies the maps. Pointer fields inside entities are shared, so the
// store only ever replaces them, never writes through them.
func (s *state) clone() *state {
	details := make(map[uint][]models.CashCountDetail, len(s.details))
	for k, v := range s.details {
		details[k] = append([]models.CashCountDetail(nil), v...)
	}

	return &state{
		nextID:      s.nextID,
		branches:    cloneMap(s.branches),
		vaults:      cloneMap(s.vaults),
		movements:   cloneMap(s.movements),
		users:       cloneMap(s.users),
		agents:      cloneMap(s.agents),
		walletTypes: cloneMap(s.walletTypes),
		wallets:     cloneMap(s.wallets),
		sessions:    cloneMap(s.sessions),
		counts:      cloneMap(s.counts),
		details:     details,
	}
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}

	s.state = work
	return nil
}

// PutUser and the other Put helpers seed reference data that the ledger
// reads but never writes.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

// PutBranch registers a branch without creating its vault. The vault
// appears on the first movement.
func (s *Store) PutBranch(b *models.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.state.id()
	}
	stamp(&b.Model, s.now())
	stored := *b
	stored.Vault = nil
	s.state.branches[b.ID] = stored
}

func (s *Store) PutAgent(a *models.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.state.id()
	}
	stamp(&a.Model, s.now())
	s.state.agents[a.ID] = *a
}

func (s *Store) PutWalletType(wt *models.WalletType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wt.ID == 0 {
		wt.ID = s.state.id()
	}
	stamp(&wt.Model, s.now())
	s.state.walletTypes[wt.ID] = *wt
}

func (s *Store) PutWallet(w *models.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == 0 {
		w.ID = s.state.id()
	}
	stamp(&w.Model, s.now())
	stored := *w
	stored.WalletType = nil
	s.state.wallets[w.ID] = stored
}

type tx struct {
	st  *state
	now func() time.Time
}

func stamp(m *gorm.Model, now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
}

func (t *tx) CreateBranch(b *models.Branch) (*models.Vault, error) {
	b.ID = t.st.id()
	stamp(&b.Model, t.now())

	v := models.Vault{ID: t.st.id(), BranchID: b.ID, CurrentBalance: decimal.Zero, CreatedAt: t.now(), UpdatedAt: t.now()}
	t.st.vaults[v.ID] = v

	stored := *b
	stored.Vault = nil
	t.st.branches[b.ID] = stored
	b.Vault = &v
	return &v, nil
}

func (t *tx) FindBranch(id uint) (*models.Branch, error) {
	b, ok := t.st.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (t *tx) FindVaultByBranch(branchID uint) (*models.Vault, error) {
	for _, v := range t.st.vaults {
		if v.BranchID == branchID {
			return &v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) LockBranchVaultForUpdate(branchID uint) (*models.Vault, error) {
	if _, err := t.FindBranch(branchID); err != nil {
		return nil, err
	}

	v, err := t.FindVaultByBranch(branchID)
	if err == nil {
		return v, nil
	}

	created := models.Vault{ID: t.st.id(), BranchID: branchID, CurrentBalance: decimal.Zero, CreatedAt: t.now(), UpdatedAt: t.now()}
	t.st.vaults[created.ID] = created
	return &created, nil
}

func (t *tx) LockVaultForUpdate(vaultID uint) (*models.Vault, error) {
	v, ok := t.st.vaults[vaultID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

func (t *tx) SaveVault(v *models.Vault) error {
	if _, ok := t.st.vaults[v.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.vaults[v.ID] = *v
	return nil
}

func (t *tx) CreateMovement(m *models.VaultMovement) error {
	if err := m.BeforeCreate(nil); err != nil {
		return err
	}
	m.ID = t.st.id()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.now()
	}
	t.st.movements[m.ID] = *m
	return nil
}

func (t *tx) LockMovementForUpdate(id uint) (*models.VaultMovement, error) {
	m, ok := t.st.movements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (t *tx) SaveMovement(m *models.VaultMovement) error {
	if _, ok := t.st.movements[m.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.movements[m.ID] = *m
	return nil
}

func (t *tx) ListMovements(vaultID uint, limit int, includeExpired bool) ([]models.VaultMovement, error) {
	out := make([]models.VaultMovement, 0)
	for _, m := range t.st.movements {
		if m.VaultID != vaultID {
			continue
		}
		if !includeExpired && m.Status == models.MovementExpired {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) ExpirePending(now time.Time) (int64, error) {
	var n int64
	for id, m := range t.st.movements {
		if m.Status != models.MovementPending || !m.IsExpiredAt(now) {
			continue
		}
		m.Status = models.MovementExpired
		t.st.movements[id] = m
		n++
	}
	return n, nil
}

func (t *tx) FindUser(id string) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *tx) FindAgent(id uint) (*models.Agent, error) {
	a, ok := t.st.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (t *tx) FindAgentByUser(userID string) (*models.Agent, error) {
	for _, a := range t.st.agents {
		if a.UserID == userID {
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) LockAgentForUpdate(id uint) (*models.Agent, error) {
	return t.FindAgent(id)
}

func (t *tx) withType(w models.Wallet) models.Wallet {
	if wt, ok := t.st.walletTypes[w.WalletTypeID]; ok {
		w.WalletType = &wt
	}
	return w
}

func (t *tx) ListActiveWallets(agentID uint) ([]models.Wallet, error) {
	out := make([]models.Wallet, 0)
	for _, w := range t.st.wallets {
		if w.AgentID == agentID && w.IsActive {
			out = append(out, t.withType(w))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := typeName(out[i]), typeName(out[j])
		if ti != tj {
			return ti < tj
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func typeName(w models.Wallet) string {
	if w.WalletType == nil {
		return ""
	}
	return w.WalletType.Name
}

func (t *tx) FindWallet(id uint) (*models.Wallet, error) {
	w, ok := t.st.wallets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	w = t.withType(w)
	return &w, nil
}

func (t *tx) LockWalletForUpdate(id uint) (*models.Wallet, error) {
	return t.FindWallet(id)
}

func (t *tx) SaveWallet(w *models.Wallet) error {
	if _, ok := t.st.wallets[w.ID]; !ok {
		return store.ErrNotFound
	}
	w.UpdatedAt = t.now()
	stored := *w
	stored.WalletType = nil
	t.st.wallets[w.ID] = stored
	return nil
}

func (t *tx) FindOpenSession(agentID uint) (*models.CashSession, error) {
	for _, s := range t.st.sessions {
		if s.AgentID == agentID && s.Status == models.SessionOpen {
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) FindSession(id uint) (*models.CashSession, error) {
	s, ok := t.st.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (t *tx) ListSessions(limit int) ([]models.CashSession, error) {
	out := make([]models.CashSession, 0, len(t.st.sessions))
	for _, s := range t.st.sessions {
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.SessionDate.Equal(b.SessionDate) {
			return a.SessionDate.After(b.SessionDate)
		}
		if !a.OpenedAt.Equal(b.OpenedAt) {
			return a.OpenedAt.After(b.OpenedAt)
		}
		return a.ID > b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) CreateSession(s *models.CashSession) error {
	if s.Status == models.SessionOpen {
		if _, err := t.FindOpenSession(s.AgentID); err == nil {
			return store.ErrConflict
		}
	}
	s.ID = t.st.id()
	stamp(&s.Model, t.now())
	stored := *s
	stored.CashCounts = nil
	t.st.sessions[s.ID] = stored
	return nil
}

func (t *tx) SaveSession(s *models.CashSession) error {
	if _, ok := t.st.sessions[s.ID]; !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = t.now()
	stored := *s
	stored.CashCounts = nil
	t.st.sessions[s.ID] = stored
	return nil
}

func (t *tx) FindCount(id uint) (*models.CashCount, error) {
	c, ok := t.st.counts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) FindOpeningDraft(agentID uint) (*models.CashCount, error) {
	for _, c := range t.st.counts {
		if c.AgentID == agentID && c.IsOpening && c.CashSessionID == nil && c.SubmittedAt == nil {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) FindSessionCount(sessionID uint, isOpening bool) (*models.CashCount, error) {
	for _, c := range t.st.counts {
		if c.CashSessionID != nil && *c.CashSessionID == sessionID && c.IsOpening == isOpening {
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) CreateCount(c *models.CashCount) error {
	c.ID = t.st.id()
	stamp(&c.Model, t.now())
	stored := *c
	stored.Details = nil
	t.st.counts[c.ID] = stored
	return nil
}

func (t *tx) SaveCount(c *models.CashCount) error {
	if _, ok := t.st.counts[c.ID]; !ok {
		return store.ErrNotFound
	}
	c.UpdatedAt = t.now()
	stored := *c
	stored.Details = nil
	t.st.counts[c.ID] = stored
	return nil
}

func (t *tx) ReplaceDetails(countID uint, details []models.CashCountDetail) error {
	if _, ok := t.st.counts[countID]; !ok {
		return store.ErrNotFound
	}
	rows := make([]models.CashCountDetail, len(details))
	for i, d := range details {
		d.ID = t.st.id()
		d.CashCountID = countID
		details[i] = d
		rows[i] = d
	}
	t.st.details[countID] = rows
	return nil
}

func (t *tx) ListDetails(countID uint) ([]models.CashCountDetail, error) {
	return append([]models.CashCountDetail(nil), t.st.details[countID]...), nil
}
