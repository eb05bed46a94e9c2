package rating

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateEntry is one row of the rate table. Rows are owned by the
// administrative backend; the engine treats them as read-only.
type RateEntry struct {
	ID                int64           `json:"id" db:"id"`
	DestinationPrefix string          `json:"destination_prefix" db:"destination_prefix"`
	DestinationName   string          `json:"destination_name" db:"destination_name"`
	RatePerMinute     decimal.Decimal `json:"rate_per_minute" db:"rate_per_minute"`

	// BillingIncrement is the rounding granularity in seconds.
	BillingIncrement int             `json:"billing_increment" db:"billing_increment"`
	ConnectionFee    decimal.Decimal `json:"connection_fee" db:"connection_fee"`

	EffectiveStart time.Time  `json:"effective_start" db:"effective_start"`
	EffectiveEnd   *time.Time `json:"effective_end,omitempty" db:"effective_end"`

	// Priority breaks ties between entries with equal prefix length; higher wins.
	Priority int `json:"priority" db:"priority"`
}

// currentAt reports whether the entry's validity window contains asOf.
func (e RateEntry) currentAt(asOf time.Time) bool {
	if asOf.Before(e.EffectiveStart) {
		return false
	}
	return e.EffectiveEnd == nil || e.EffectiveEnd.After(asOf)
}

// Sentinel destination names for results that matched nothing.
const (
	DestinationUnknown = "UNKNOWN"
	DestinationEmpty   = "EMPTY"
)

// RatedResult is the outcome of a rating lookup. A miss is a value, never an
// error: unrated destinations still settle (at zero cost) instead of crashing
// the event pipeline.
type RatedResult struct {
	// NumberValid is false when the destination had no digits at all.
	NumberValid bool `json:"number_valid"`

	// Matched is true when a rate entry was selected.
	Matched bool `json:"matched"`

	RateID            int64           `json:"rate_id,omitempty"`
	DestinationPrefix string          `json:"destination_prefix"`
	DestinationName   string          `json:"destination_name"`
	RatePerMinute     decimal.Decimal `json:"rate_per_minute"`
	BillingIncrement  int             `json:"billing_increment"`
	ConnectionFee     decimal.Decimal `json:"connection_fee"`
}

// Cost computes the settled cost for the given billable seconds:
// connection fee plus the per-minute rate applied to the duration rounded up
// to the billing increment. Unmatched results always cost zero.
func (r RatedResult) Cost(billableSeconds int) decimal.Decimal {
	if !r.Matched || billableSeconds <= 0 {
		return decimal.Zero
	}
	rounded := billableSeconds
	if r.BillingIncrement > 0 {
		inc := r.BillingIncrement
		rounded = (billableSeconds + inc - 1) / inc * inc
	}
	duration := r.RatePerMinute.
		Mul(decimal.NewFromInt(int64(rounded))).
		Div(decimal.NewFromInt(60))
	return r.ConnectionFee.Add(duration).Round(6)
}
