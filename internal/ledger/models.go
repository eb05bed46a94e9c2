package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a prepaid/postpaid billing account.
//
// Reconciliation invariant: balance always equals the initial balance plus
// the signed sum of every committed BalanceTransaction for the account.
// Nothing mutates a balance without appending the matching transaction.
type Account struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	PhoneNumber string          `json:"phone_number" db:"phone_number"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`

	// CreditLimit extends spendable headroom below zero for postpaid use.
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`

	Status AccountStatus `json:"status" db:"status"`

	// MaxConcurrentCalls caps simultaneous authorized calls; 0 means the
	// daemon-wide default applies.
	MaxConcurrentCalls int `json:"max_concurrent_calls" db:"max_concurrent_calls"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
)

// Reservation is a hold against an account's available balance, created at
// call authorization and settled exactly once.
//
// Invariants:
//   - at most one ACTIVE reservation per call id
//   - reserved == consumed + released once the status is terminal
//     (committed or released)
type Reservation struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	CallID    string `json:"call_id" db:"call_id"`

	ReservedAmount decimal.Decimal `json:"reserved_amount" db:"reserved_amount"`
	ConsumedAmount decimal.Decimal `json:"consumed_amount" db:"consumed_amount"`
	ReleasedAmount decimal.Decimal `json:"released_amount" db:"released_amount"`

	Status ReservationStatus `json:"status" db:"status"`

	// RatePerMinute records the quoted rate, for diagnostics.
	RatePerMinute decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`

	// OverageAmount is non-zero when settlement cost exceeded the hold;
	// flagged for reconciliation rather than silently truncated.
	OverageAmount decimal.Decimal `json:"overage_amount" db:"overage_amount"`

	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Terminal reports whether the reservation has left the ACTIVE state.
func (r Reservation) Terminal() bool {
	return r.Status != ReservationActive
}

// Remaining is the unconsumed part of an active hold.
func (r Reservation) Remaining() decimal.Decimal {
	return r.ReservedAmount.Sub(r.ConsumedAmount)
}

// BalanceTransaction is an immutable, append-only balance movement.
// Amount is signed: debits are negative, credits positive.
type BalanceTransaction struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	Amount          decimal.Decimal `json:"amount" db:"amount"`
	PreviousBalance decimal.Decimal `json:"previous_balance" db:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance" db:"new_balance"`

	Type   TransactionType `json:"type" db:"transaction_type"`
	CallID string          `json:"call_id,omitempty" db:"call_id"`
	Reason string          `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TransactionType string

const (
	TransactionReservationConsume TransactionType = "reservation_consume"
	TransactionRecharge           TransactionType = "recharge"
	TransactionRefund             TransactionType = "refund"
)

// CDR is the immutable terminal record of a call, created exactly once at
// settlement.
type CDR struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	CallingNumber string `json:"calling_number" db:"calling_number"`
	CalledNumber  string `json:"called_number" db:"called_number"`
	Direction     string `json:"direction" db:"direction"`

	StartTime  time.Time  `json:"start_time" db:"start_time"`
	AnswerTime *time.Time `json:"answer_time,omitempty" db:"answer_time"`
	EndTime    time.Time  `json:"end_time" db:"end_time"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`
	BillableSeconds int `json:"billable_seconds" db:"billable_seconds"`

	RateID            int64           `json:"rate_id,omitempty" db:"rate_id"`
	DestinationPrefix string          `json:"destination_prefix,omitempty" db:"destination_prefix"`
	DestinationName   string          `json:"destination_name,omitempty" db:"destination_name"`
	Cost              decimal.Decimal `json:"cost" db:"cost"`

	HangupCause string    `json:"hangup_cause" db:"hangup_cause"`
	Status      CDRStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CDRStatus string

const (
	CDRStatusCompleted CDRStatus = "completed"
	CDRStatusRejected  CDRStatus = "rejected"
	CDRStatusUnrated   CDRStatus = "unrated"
)

// CallSnapshot carries the call facts the ledger needs to build a CDR.
// Defined here so settlement does not depend on the tracker package.
type CallSnapshot struct {
	CallID        string
	CallingNumber string
	CalledNumber  string
	Direction     string
	HangupCause   string

	StartTime  time.Time
	AnswerTime *time.Time
	EndTime    time.Time

	DurationSeconds int
}
