package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/pkg/utils"

	"github.com/shopspring/decimal"
)

// PostgresStore persists the ledger in Postgres.
//
// Assumed tables: accounts, balance_reservations (append-mostly, partial
// unique index on (call_id) WHERE status = 'active'), balance_transactions
// (append-only), cdrs (append-only).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, name, phone_number, balance, credit_limit, status, max_concurrent_calls, created_at, updated_at`

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.PhoneNumber, &a.Balance, &a.CreditLimit, &a.Status, &a.MaxConcurrentCalls, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

func (s *PostgresStore) FindAccountByNumber(ctx context.Context, number string) (Account, bool, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1`, number))
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

const reservationColumns = `id, account_id, call_id, reserved_amount, consumed_amount, released_amount,
       status, rate_per_minute, overage_amount, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.AccountID, &r.CallID, &r.ReservedAmount, &r.ConsumedAmount, &r.ReleasedAmount,
		&r.Status, &r.RatePerMinute, &r.OverageAmount, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *PostgresStore) GetActiveReservationByCall(ctx context.Context, callID string) (Reservation, bool, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM balance_reservations WHERE call_id = $1 AND status = 'active' LIMIT 1`,
		callID))
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}
	return r, true, nil
}

func (s *PostgresStore) ListExpiredActive(ctx context.Context, now time.Time) ([]Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM balance_reservations WHERE status = 'active' AND expires_at <= $1`,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string) ([]BalanceTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, amount, previous_balance, new_balance, transaction_type, call_id, reason, created_at
FROM balance_transactions
WHERE account_id = $1
ORDER BY created_at ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceTransaction
	for rows.Next() {
		var t BalanceTransaction
		var callID, reason sql.NullString
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.PreviousBalance, &t.NewBalance, &t.Type, &callID, &reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CallID = callID.String
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveCDR(ctx context.Context, c CDR) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cdrs (
  id, call_id, calling_number, called_number, direction,
  start_time, answer_time, end_time, duration_seconds, billable_seconds,
  rate_id, destination_prefix, destination_name, cost, hangup_cause, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.ID, c.CallID, c.CallingNumber, c.CalledNumber, c.Direction,
		c.StartTime, c.AnswerTime, c.EndTime, c.DurationSeconds, c.BillableSeconds,
		c.RateID, c.DestinationPrefix, c.DestinationName, c.Cost, c.HangupCause, c.Status, c.CreatedAt)
	return err
}

func (s *PostgresStore) ListCDRs(ctx context.Context, from, to time.Time) ([]CDR, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, call_id, calling_number, called_number, direction,
       start_time, answer_time, end_time, duration_seconds, billable_seconds,
       rate_id, destination_prefix, destination_name, cost, hangup_cause, status, created_at
FROM cdrs
WHERE end_time >= $1 AND end_time <= $2
ORDER BY end_time ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CDR
	for rows.Next() {
		var c CDR
		var answer sql.NullTime
		if err := rows.Scan(&c.ID, &c.CallID, &c.CallingNumber, &c.CalledNumber, &c.Direction,
			&c.StartTime, &answer, &c.EndTime, &c.DurationSeconds, &c.BillableSeconds,
			&c.RateID, &c.DestinationPrefix, &c.DestinationName, &c.Cost, &c.HangupCause, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		if answer.Valid {
			t := answer.Time
			c.AnswerTime = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock the account row to serialize concurrent settlement.
		var locked Account
		err := tx.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID).
			Scan(&locked.ID, &locked.Name, &locked.PhoneNumber, &locked.Balance, &locked.CreditLimit,
				&locked.Status, &locked.MaxConcurrentCalls, &locked.CreatedAt, &locked.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return fn(&postgresTx{ctx: ctx, tx: tx, account: locked})
	})
}

type postgresTx struct {
	ctx     context.Context
	tx      *sql.Tx
	account Account
}

func (t *postgresTx) Account() (Account, error) { return t.account, nil }

func (t *postgresTx) ActiveReservations() ([]Reservation, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+reservationColumns+` FROM balance_reservations WHERE account_id = $1 AND status = 'active'`,
		t.account.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *postgresTx) ActiveReservationByCall(callID string) (Reservation, bool, error) {
	r, err := scanReservation(t.tx.QueryRowContext(t.ctx,
		`SELECT `+reservationColumns+` FROM balance_reservations WHERE call_id = $1 AND status = 'active' LIMIT 1 FOR UPDATE`,
		callID))
	if errors.Is(err, sql.ErrNoRows) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}
	return r, true, nil
}

func (t *postgresTx) InsertReservation(r Reservation) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO balance_reservations (
  id, account_id, call_id, reserved_amount, consumed_amount, released_amount,
  status, rate_per_minute, overage_amount, expires_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.AccountID, r.CallID, r.ReservedAmount, r.ConsumedAmount, r.ReleasedAmount,
		r.Status, r.RatePerMinute, r.OverageAmount, r.ExpiresAt, r.CreatedAt, r.UpdatedAt)
	return err
}

func (t *postgresTx) UpdateReservation(r Reservation) error {
	_, err := t.tx.ExecContext(t.ctx, `
UPDATE balance_reservations
SET consumed_amount = $2, released_amount = $3, status = $4, overage_amount = $5, updated_at = $6
WHERE id = $1`,
		r.ID, r.ConsumedAmount, r.ReleasedAmount, r.Status, r.OverageAmount, r.UpdatedAt)
	return err
}

func (t *postgresTx) ApplyBalanceDelta(delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	prev := t.account.Balance
	var next decimal.Decimal
	err := t.tx.QueryRowContext(t.ctx, `
UPDATE accounts SET balance = balance + $2, updated_at = NOW()
WHERE id = $1
RETURNING balance`, t.account.ID, delta).Scan(&next)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	t.account.Balance = next
	return prev, next, nil
}

func (t *postgresTx) AppendTransaction(txn BalanceTransaction) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO balance_transactions (
  id, account_id, amount, previous_balance, new_balance, transaction_type, call_id, reason, created_at
) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),$9)`,
		txn.ID, txn.AccountID, txn.Amount, txn.PreviousBalance, txn.NewBalance, txn.Type, txn.CallID, txn.Reason, txn.CreatedAt)
	return err
}
