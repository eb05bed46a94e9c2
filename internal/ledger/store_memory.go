package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps the ledger in process memory. Used by tests and early
// development; the Postgres store is the production backend.
//
// WithAccountTx serializes on a per-account mutex and stages all writes,
// applying them only when the unit of work succeeds, so a failed settlement
// never leaves a balance change without its transaction record.
type MemoryStore struct {
	mu sync.Mutex

	accounts     map[string]Account
	reservations map[string]Reservation // by reservation id
	activeByCall map[string]string      // call id -> reservation id while ACTIVE
	transactions map[string][]BalanceTransaction
	cdrs         []CDR

	accountLocks map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]Account),
		reservations: make(map[string]Reservation),
		activeByCall: make(map[string]string),
		transactions: make(map[string][]BalanceTransaction),
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// SeedAccount inserts or replaces an account. Test/bootstrap helper.
func (s *MemoryStore) SeedAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *MemoryStore) FindAccountByNumber(ctx context.Context, number string) (Account, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.PhoneNumber == number {
			return a, true, nil
		}
	}
	return Account{}, false, nil
}

func (s *MemoryStore) GetActiveReservationByCall(ctx context.Context, callID string) (Reservation, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.activeByCall[callID]
	if !ok {
		return Reservation{}, false, nil
	}
	return s.reservations[id], true, nil
}

func (s *MemoryStore) ListExpiredActive(ctx context.Context, now time.Time) ([]Reservation, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, id := range s.activeByCall {
		r := s.reservations[id]
		if !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, accountID string) ([]BalanceTransaction, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BalanceTransaction, len(s.transactions[accountID]))
	copy(out, s.transactions[accountID])
	return out, nil
}

func (s *MemoryStore) SaveCDR(ctx context.Context, c CDR) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cdrs = append(s.cdrs, c)
	return nil
}

func (s *MemoryStore) ListCDRs(ctx context.Context, from, to time.Time) ([]CDR, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []CDR
	for _, c := range s.cdrs {
		if c.EndTime.Before(from) || c.EndTime.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	_ = ctx

	s.mu.Lock()
	lock, ok := s.accountLocks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.accountLocks[accountID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	acct, exists := s.accounts[accountID]
	tx := &memoryTx{store: s, accountID: accountID, account: acct, accountExists: exists}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged writes.
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.balanceDirty {
		a := s.accounts[accountID]
		a.Balance = tx.account.Balance
		a.UpdatedAt = tx.account.UpdatedAt
		s.accounts[accountID] = a
	}
	for _, r := range tx.upserts {
		prev, had := s.reservations[r.ID]
		s.reservations[r.ID] = r
		if r.Status == ReservationActive {
			s.activeByCall[r.CallID] = r.ID
		} else if had && prev.Status == ReservationActive {
			delete(s.activeByCall, r.CallID)
		}
	}
	for _, t := range tx.appended {
		s.transactions[accountID] = append(s.transactions[accountID], t)
	}
	return nil
}

// memoryTx stages mutations against one account.
type memoryTx struct {
	store         *MemoryStore
	accountID     string
	account       Account
	accountExists bool
	balanceDirty  bool

	upserts  []Reservation
	appended []BalanceTransaction
}

func (t *memoryTx) Account() (Account, error) {
	if !t.accountExists {
		return Account{}, ErrAccountNotFound
	}
	return t.account, nil
}

func (t *memoryTx) ActiveReservations() ([]Reservation, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []Reservation
	for _, id := range t.store.activeByCall {
		r := t.store.reservations[id]
		if r.AccountID == t.accountID {
			out = append(out, r)
		}
	}
	for _, r := range t.upserts {
		if r.Status == ReservationActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memoryTx) ActiveReservationByCall(callID string) (Reservation, bool, error) {
	// Staged writes shadow the committed state.
	for i := len(t.upserts) - 1; i >= 0; i-- {
		if t.upserts[i].CallID == callID {
			if t.upserts[i].Status == ReservationActive {
				return t.upserts[i], true, nil
			}
			return Reservation{}, false, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	id, ok := t.store.activeByCall[callID]
	if !ok {
		return Reservation{}, false, nil
	}
	return t.store.reservations[id], true, nil
}

func (t *memoryTx) InsertReservation(r Reservation) error {
	t.upserts = append(t.upserts, r)
	return nil
}

func (t *memoryTx) UpdateReservation(r Reservation) error {
	t.upserts = append(t.upserts, r)
	return nil
}

func (t *memoryTx) ApplyBalanceDelta(delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !t.accountExists {
		return decimal.Zero, decimal.Zero, ErrAccountNotFound
	}
	prev := t.account.Balance
	t.account.Balance = prev.Add(delta)
	t.account.UpdatedAt = time.Now().UTC()
	t.balanceDirty = true
	return prev, t.account.Balance, nil
}

func (t *memoryTx) AppendTransaction(txn BalanceTransaction) error {
	t.appended = append(t.appended, txn)
	return nil
}
