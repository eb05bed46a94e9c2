package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources only (CDRs and the
// balance transaction ledger). ledger.Store satisfies this interface.

type Repository interface {
	ListCDRs(ctx context.Context, from, to time.Time) ([]ledger.CDR, error)
	ListTransactions(ctx context.Context, accountID string) ([]ledger.BalanceTransaction, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) TrafficSummary(ctx context.Context, req TrafficSummaryRequest) (TrafficSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return TrafficSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return TrafficSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCDRs(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return TrafficSummary{}, err
	}

	out := TrafficSummary{DestinationName: req.DestinationName}
	for _, c := range rows {
		if req.DestinationName != "" && c.DestinationName != req.DestinationName {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		out.TotalBillableSeconds += c.BillableSeconds
		out.TotalCost = out.TotalCost.Add(c.Cost)

		if c.AnswerTime != nil {
			out.AnsweredCalls++
		}
		switch c.Status {
		case ledger.CDRStatusRejected:
			out.RejectedCalls++
		case ledger.CDRStatusUnrated:
			out.UnratedCalls++
		case ledger.CDRStatusCompleted:
			// counted in totals only
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.AnswerSeizureRatio = float64(out.AnsweredCalls) / float64(out.TotalCalls)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.AccountID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	txns, err := s.repo.ListTransactions(ctx, req.AccountID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{AccountID: req.AccountID}
	for _, t := range txns {
		if t.CreatedAt.Before(req.Range.From) || !t.CreatedAt.Before(req.Range.To) {
			continue
		}

		if t.Amount.IsNegative() {
			out.TotalDebit = out.TotalDebit.Add(t.Amount.Neg())
		} else {
			out.TotalCredit = out.TotalCredit.Add(t.Amount)
		}

		switch t.Type {
		case ledger.TransactionReservationConsume:
			out.UsageDebit = out.UsageDebit.Add(t.Amount.Neg())
		case ledger.TransactionRecharge, ledger.TransactionRefund:
			out.AdminCredit = out.AdminCredit.Add(t.Amount)
		}
	}
	out.NetDelta = out.TotalCredit.Sub(out.TotalDebit)
	return out, nil
}
