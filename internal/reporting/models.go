package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TrafficSummaryRequest requests aggregated CDR metrics for a window.

type TrafficSummaryRequest struct {
	Range TimeRange `json:"range"`

	// DestinationName narrows the summary to one tariff destination.
	DestinationName string `json:"destination_name,omitempty"`
}

type TrafficSummary struct {
	DestinationName string `json:"destination_name,omitempty"`

	TotalCalls    int `json:"total_calls"`
	AnsweredCalls int `json:"answered_calls"`
	RejectedCalls int `json:"rejected_calls"`
	UnratedCalls  int `json:"unrated_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	TotalBillableSeconds   int `json:"total_billable_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// AnswerSeizureRatio is answered / total, the standard ASR metric.
	AnswerSeizureRatio float64 `json:"answer_seizure_ratio"`

	TotalCost decimal.Decimal `json:"total_cost"`
}

// SpendSummaryRequest requests aggregated balance movement for one account.
// Spend is derived from the immutable balance_transactions ledger.

type SpendSummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

type SpendSummary struct {
	AccountID string `json:"account_id"`

	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	NetDelta    decimal.Decimal `json:"net_delta"`

	UsageDebit  decimal.Decimal `json:"usage_debit"`
	AdminCredit decimal.Decimal `json:"admin_credit"`
}
