package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract for the settlement ledger.
//
// All money mutations run inside WithAccountTx, which serializes concurrent
// settlement against one account: the Postgres store locks the account row,
// the memory store holds a per-account lock and applies staged writes only
// on success. Two calls settling simultaneously can therefore never both
// read a stale balance.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)
	FindAccountByNumber(ctx context.Context, number string) (Account, bool, error)

	GetActiveReservationByCall(ctx context.Context, callID string) (Reservation, bool, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]Reservation, error)
	ListTransactions(ctx context.Context, accountID string) ([]BalanceTransaction, error)

	SaveCDR(ctx context.Context, c CDR) error
	ListCDRs(ctx context.Context, from, to time.Time) ([]CDR, error)

	WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error
}

// AccountTx is the unit of work bound to one locked account.
// Every mutation inside it commits atomically or not at all; a balance delta
// is never applied without its transaction record.
type AccountTx interface {
	Account() (Account, error)
	ActiveReservations() ([]Reservation, error)
	ActiveReservationByCall(callID string) (Reservation, bool, error)

	InsertReservation(r Reservation) error
	UpdateReservation(r Reservation) error

	// ApplyBalanceDelta adjusts the balance and returns the previous and
	// new values, read under the account lock.
	ApplyBalanceDelta(delta decimal.Decimal) (prev, next decimal.Decimal, err error)
	AppendTransaction(t BalanceTransaction) error
}
