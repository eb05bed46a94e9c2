package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/rating"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrAccountNotActive    = errors.New("ledger: account not active")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrDuplicateReservation = errors.New("ledger: active reservation already exists for call")
	ErrReservationNotFound = errors.New("ledger: no active reservation for call")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
)

// Hold sizing policy: the initial reservation covers five minutes at the
// quoted rate plus an 8% buffer, clamped to [0.30, 30.00].
var (
	holdMinutes   = decimal.NewFromInt(5)
	holdBufferPct = decimal.NewFromInt(8)
	holdMin       = decimal.RequireFromString("0.30")
	holdMax       = decimal.RequireFromString("30.00")
)

// CDRPublisher mirrors finalized CDRs to the collaborator backend.
// Publishing is best-effort: the local ledger stays authoritative.
type CDRPublisher interface {
	CreateCDR(ctx context.Context, c CDR) error
}

// Service owns reservations, balance transactions and CDR emission.
type Service struct {
	store     Store
	publisher CDRPublisher
	clock     func() time.Time
	log       *slog.Logger
}

func NewService(store Store, publisher CDRPublisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, publisher: publisher, clock: time.Now, log: log}
}

// EstimateHold computes the initial reservation amount for a quoted rate.
func EstimateHold(ratePerMinute decimal.Decimal) decimal.Decimal {
	base := ratePerMinute.Mul(holdMinutes)
	buffer := base.Mul(holdBufferPct).Div(decimal.NewFromInt(100))
	total := base.Add(buffer)
	if total.LessThan(holdMin) {
		total = holdMin
	}
	if total.GreaterThan(holdMax) {
		total = holdMax
	}
	return total.Round(6)
}

// HoldSeconds reports how many billable seconds a hold covers at the quoted
// rate. Zero means the rate is free and the hold imposes no duration cap.
func HoldSeconds(hold, ratePerMinute decimal.Decimal) int {
	if ratePerMinute.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	perSecond := ratePerMinute.Div(decimal.NewFromInt(60))
	return int(hold.Div(perSecond).IntPart())
}

// FindAccountByNumber resolves the billed account for a calling number.
func (s *Service) FindAccountByNumber(ctx context.Context, number string) (Account, bool, error) {
	return s.store.FindAccountByNumber(ctx, number)
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// ListTransactions returns the append-only transaction log of an account.
func (s *Service) ListTransactions(ctx context.Context, accountID string) ([]BalanceTransaction, error) {
	return s.store.ListTransactions(ctx, accountID)
}

// Reserve places a hold of estimatedAmount against the account for callID.
//
// Availability is balance + credit limit minus the sum of the account's
// ACTIVE holds. A second reservation for the same call id fails with
// ErrDuplicateReservation.
func (s *Service) Reserve(ctx context.Context, accountID, callID string, estimatedAmount, ratePerMinute decimal.Decimal, ttl time.Duration) (Reservation, error) {
	if callID == "" || !estimatedAmount.IsPositive() {
		return Reservation{}, ErrInvalidAmount
	}
	now := s.clock().UTC()

	var out Reservation
	err := s.store.WithAccountTx(ctx, accountID, func(tx AccountTx) error {
		acct, err := tx.Account()
		if err != nil {
			return err
		}
		if acct.Status != AccountStatusActive {
			return ErrAccountNotActive
		}

		if _, exists, err := tx.ActiveReservationByCall(callID); err != nil {
			return err
		} else if exists {
			return ErrDuplicateReservation
		}

		actives, err := tx.ActiveReservations()
		if err != nil {
			return err
		}
		held := decimal.Zero
		for _, r := range actives {
			held = held.Add(r.Remaining())
		}

		available := acct.Balance.Add(acct.CreditLimit).Sub(held)
		if available.LessThan(estimatedAmount) {
			return ErrInsufficientBalance
		}

		out = Reservation{
			ID:             uuid.NewString(),
			AccountID:      accountID,
			CallID:         callID,
			ReservedAmount: estimatedAmount,
			ConsumedAmount: decimal.Zero,
			ReleasedAmount: decimal.Zero,
			Status:         ReservationActive,
			RatePerMinute:  ratePerMinute,
			OverageAmount:  decimal.Zero,
			ExpiresAt:      now.Add(ttl),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.InsertReservation(out)
	})
	if err != nil {
		return Reservation{}, err
	}

	s.log.Info("reservation created",
		"reservation_id", out.ID, "account_id", accountID, "call_id", callID,
		"amount", out.ReservedAmount.String(), "expires_at", out.ExpiresAt)
	return out, nil
}

// Settlement is the result of committing a reservation.
type Settlement struct {
	Reservation Reservation
	Transaction BalanceTransaction
	CDR         CDR
}

// Settle commits the ACTIVE reservation for the call and emits its CDR.
//
// The normal case consumes the actual cost and releases the rest. When the
// hold was underestimated, the full actual cost is still debited and the
// shortfall is flagged on the reservation as overage for reconciliation.
// The balance update and its transaction record commit atomically; a
// persistence failure aborts the whole settlement and is retried once.
func (s *Service) Settle(ctx context.Context, snap CallSnapshot, billableSeconds int, rated rating.RatedResult) (Settlement, error) {
	res, ok, err := s.store.GetActiveReservationByCall(ctx, snap.CallID)
	if err != nil {
		return Settlement{}, fmt.Errorf("ledger: reservation lookup: %w", err)
	}
	if !ok {
		return Settlement{}, ErrReservationNotFound
	}

	out, err := s.commit(ctx, res.AccountID, snap, billableSeconds, rated)
	if err != nil && !isSentinel(err) {
		s.log.Warn("settlement commit failed, retrying once", "call_id", snap.CallID, "err", err)
		out, err = s.commit(ctx, res.AccountID, snap, billableSeconds, rated)
	}
	if err != nil {
		return Settlement{}, err
	}

	out.CDR = s.writeCDR(ctx, snap, billableSeconds, rated, out.Transaction.Amount.Neg(), CDRStatusCompleted)
	return out, nil
}

func (s *Service) commit(ctx context.Context, accountID string, snap CallSnapshot, billableSeconds int, rated rating.RatedResult) (Settlement, error) {
	now := s.clock().UTC()
	actualCost := rated.Cost(billableSeconds)

	var out Settlement
	err := s.store.WithAccountTx(ctx, accountID, func(tx AccountTx) error {
		res, ok, err := tx.ActiveReservationByCall(snap.CallID)
		if err != nil {
			return err
		}
		if !ok {
			// Already terminal: a duplicate hangup raced us. No-op.
			return ErrReservationNotFound
		}

		if actualCost.LessThanOrEqual(res.ReservedAmount) {
			res.ConsumedAmount = actualCost
			res.ReleasedAmount = res.ReservedAmount.Sub(actualCost)
		} else {
			res.ConsumedAmount = res.ReservedAmount
			res.ReleasedAmount = decimal.Zero
			res.OverageAmount = actualCost.Sub(res.ReservedAmount)
		}
		res.Status = ReservationCommitted
		res.UpdatedAt = now

		prev, next, err := tx.ApplyBalanceDelta(actualCost.Neg())
		if err != nil {
			return err
		}

		txn := BalanceTransaction{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			Amount:          actualCost.Neg(),
			PreviousBalance: prev,
			NewBalance:      next,
			Type:            TransactionReservationConsume,
			CallID:          snap.CallID,
			Reason:          "call settlement " + snap.CallID,
			CreatedAt:       now,
		}
		if err := tx.AppendTransaction(txn); err != nil {
			return err
		}
		if err := tx.UpdateReservation(res); err != nil {
			return err
		}

		out.Reservation = res
		out.Transaction = txn
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	if out.Reservation.OverageAmount.IsPositive() {
		s.log.Warn("settlement exceeded hold, flagged for reconciliation",
			"call_id", snap.CallID, "reserved", out.Reservation.ReservedAmount.String(),
			"overage", out.Reservation.OverageAmount.String())
	}
	return out, nil
}

// WriteUnbilledCDR records a CDR for a call that never carried a committed
// reservation: rejected at authorization, or an unrated destination billed
// at zero cost.
func (s *Service) WriteUnbilledCDR(ctx context.Context, snap CallSnapshot, billableSeconds int, rated rating.RatedResult, status CDRStatus) CDR {
	return s.writeCDR(ctx, snap, billableSeconds, rated, decimal.Zero, status)
}

func (s *Service) writeCDR(ctx context.Context, snap CallSnapshot, billableSeconds int, rated rating.RatedResult, cost decimal.Decimal, status CDRStatus) CDR {
	cdr := CDR{
		ID:                uuid.NewString(),
		CallID:            snap.CallID,
		CallingNumber:     snap.CallingNumber,
		CalledNumber:      snap.CalledNumber,
		Direction:         snap.Direction,
		StartTime:         snap.StartTime,
		AnswerTime:        snap.AnswerTime,
		EndTime:           snap.EndTime,
		DurationSeconds:   snap.DurationSeconds,
		BillableSeconds:   billableSeconds,
		RateID:            rated.RateID,
		DestinationPrefix: rated.DestinationPrefix,
		DestinationName:   rated.DestinationName,
		Cost:              cost,
		HangupCause:       snap.HangupCause,
		Status:            status,
		CreatedAt:         s.clock().UTC(),
	}

	if err := s.store.SaveCDR(ctx, cdr); err != nil {
		s.log.Error("cdr persist failed", "call_id", snap.CallID, "err", err)
	}
	if s.publisher != nil {
		if err := s.publisher.CreateCDR(ctx, cdr); err != nil {
			s.log.Warn("cdr publish failed", "call_id", snap.CallID, "err", err)
		}
	}
	return cdr
}

// Recharge credits the account and appends a recharge transaction.
func (s *Service) Recharge(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (BalanceTransaction, error) {
	return s.credit(ctx, accountID, amount, TransactionRecharge, reason)
}

// Refund credits the account and appends a refund transaction.
func (s *Service) Refund(ctx context.Context, accountID string, amount decimal.Decimal, reason string) (BalanceTransaction, error) {
	return s.credit(ctx, accountID, amount, TransactionRefund, reason)
}

func (s *Service) credit(ctx context.Context, accountID string, amount decimal.Decimal, typ TransactionType, reason string) (BalanceTransaction, error) {
	if !amount.IsPositive() {
		return BalanceTransaction{}, ErrInvalidAmount
	}
	now := s.clock().UTC()

	var out BalanceTransaction
	err := s.store.WithAccountTx(ctx, accountID, func(tx AccountTx) error {
		if _, err := tx.Account(); err != nil {
			return err
		}
		prev, next, err := tx.ApplyBalanceDelta(amount)
		if err != nil {
			return err
		}
		out = BalanceTransaction{
			ID:              uuid.NewString(),
			AccountID:       accountID,
			Amount:          amount,
			PreviousBalance: prev,
			NewBalance:      next,
			Type:            typ,
			Reason:          reason,
			CreatedAt:       now,
		}
		return tx.AppendTransaction(out)
	})
	if err != nil {
		return BalanceTransaction{}, err
	}
	return out, nil
}

// ExpireStale transitions ACTIVE reservations past their expiry to EXPIRED,
// releasing the held balance of crashed or lost calls. Returns the number of
// reservations expired.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, res := range stale {
		res := res
		err := s.store.WithAccountTx(ctx, res.AccountID, func(tx AccountTx) error {
			cur, ok, err := tx.ActiveReservationByCall(res.CallID)
			if err != nil || !ok {
				return err
			}
			cur.Status = ReservationExpired
			cur.ReleasedAmount = cur.ReservedAmount.Sub(cur.ConsumedAmount)
			cur.UpdatedAt = now
			return tx.UpdateReservation(cur)
		})
		if err != nil {
			s.log.Error("reservation expiry failed", "reservation_id", res.ID, "err", err)
			continue
		}
		expired++
		s.log.Info("reservation expired", "reservation_id", res.ID, "call_id", res.CallID, "account_id", res.AccountID)
	}
	return expired, nil
}

func isSentinel(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountNotActive) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrDuplicateReservation) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrInvalidAmount)
}
