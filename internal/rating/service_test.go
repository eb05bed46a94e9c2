package rating

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testEntries(now time.Time) []RateEntry {
	past := now.Add(-24 * time.Hour)
	return []RateEntry{
		{ID: 1, DestinationPrefix: "1", DestinationName: "NANP", RatePerMinute: mustDec("0.0100"), BillingIncrement: 60, EffectiveStart: past},
		{ID: 2, DestinationPrefix: "12", DestinationName: "NANP-12", RatePerMinute: mustDec("0.0200"), BillingIncrement: 6, EffectiveStart: past},
		{ID: 3, DestinationPrefix: "123", DestinationName: "NANP-123", RatePerMinute: mustDec("0.0300"), BillingIncrement: 1, ConnectionFee: mustDec("0.0500"), EffectiveStart: past},
	}
}

func TestRateLongestPrefixWins(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepo(testEntries(now)...))

	cases := []struct {
		name       string
		number     string
		wantRateID int64
		wantName   string
	}{
		{"one digit prefix", "15551234567", 1, "NANP"},
		{"two digit prefix", "125551234567", 2, "NANP-12"},
		{"three digit prefix", "1235551234567", 3, "NANP-123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Rate(context.Background(), tc.number, now)
			if err != nil {
				t.Fatalf("rate: %v", err)
			}
			if !res.Matched {
				t.Fatalf("expected match for %s", tc.number)
			}
			if res.RateID != tc.wantRateID || res.DestinationName != tc.wantName {
				t.Fatalf("got rate %d (%s), want %d (%s)", res.RateID, res.DestinationName, tc.wantRateID, tc.wantName)
			}
		})
	}
}

func TestRateMissIsUnknownNotError(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepo(testEntries(now)...))

	res, err := svc.Rate(context.Background(), "9995551234", now)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if res.Matched {
		t.Fatalf("expected no match")
	}
	if !res.NumberValid || res.DestinationName != DestinationUnknown {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRateEmptyNumberIsInvalid(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	for _, number := range []string{"", "   ", "abc-#*"} {
		res, err := svc.Rate(context.Background(), number, time.Now())
		if err != nil {
			t.Fatalf("rate(%q): %v", number, err)
		}
		if res.NumberValid || res.DestinationName != DestinationEmpty {
			t.Fatalf("rate(%q): unexpected result %+v", number, res)
		}
	}
}

func TestRateStripsNonDigits(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepo(testEntries(now)...))

	res, err := svc.Rate(context.Background(), "+1 (235) 555-1234", now)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if res.RateID != 3 {
		t.Fatalf("expected rate 3, got %d", res.RateID)
	}
}

func TestRateTemporalWindows(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	entries := []RateEntry{
		// Expired yesterday's price for prefix 44.
		{ID: 10, DestinationPrefix: "44", DestinationName: "UK-old", RatePerMinute: mustDec("0.0500"), EffectiveStart: now.Add(-48 * time.Hour), EffectiveEnd: &ended},
		// Current price.
		{ID: 11, DestinationPrefix: "44", DestinationName: "UK", RatePerMinute: mustDec("0.0400"), EffectiveStart: now.Add(-time.Hour)},
		// Not yet effective.
		{ID: 12, DestinationPrefix: "44", DestinationName: "UK-future", RatePerMinute: mustDec("0.0300"), EffectiveStart: future},
	}
	svc := NewService(NewMemoryRepo(entries...))

	res, err := svc.Rate(context.Background(), "442071234567", now)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if res.RateID != 11 || res.DestinationName != "UK" {
		t.Fatalf("expected current entry 11, got %d (%s)", res.RateID, res.DestinationName)
	}
}

func TestRateTieBreaks(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	t.Run("higher priority wins at equal length", func(t *testing.T) {
		entries := []RateEntry{
			{ID: 20, DestinationPrefix: "51", DestinationName: "low", EffectiveStart: past, Priority: 1},
			{ID: 21, DestinationPrefix: "51", DestinationName: "high", EffectiveStart: past, Priority: 5},
		}
		res, err := NewService(NewMemoryRepo(entries...)).Rate(context.Background(), "5115551234", now)
		if err != nil {
			t.Fatalf("rate: %v", err)
		}
		if res.RateID != 21 {
			t.Fatalf("expected 21, got %d", res.RateID)
		}
	})

	t.Run("lower id wins at equal priority", func(t *testing.T) {
		entries := []RateEntry{
			{ID: 31, DestinationPrefix: "51", DestinationName: "b", EffectiveStart: past, Priority: 1},
			{ID: 30, DestinationPrefix: "51", DestinationName: "a", EffectiveStart: past, Priority: 1},
		}
		res, err := NewService(NewMemoryRepo(entries...)).Rate(context.Background(), "5115551234", now)
		if err != nil {
			t.Fatalf("rate: %v", err)
		}
		if res.RateID != 30 {
			t.Fatalf("expected 30, got %d", res.RateID)
		}
	})
}

func TestCost(t *testing.T) {
	matched := RatedResult{
		Matched:          true,
		RatePerMinute:    mustDec("0.0600"),
		BillingIncrement: 6,
		ConnectionFee:    mustDec("0.0100"),
	}

	cases := []struct {
		name    string
		r       RatedResult
		billsec int
		want    string
	}{
		// 61s rounds up to 66s: 0.01 + 0.06*66/60 = 0.076
		{"rounds up to increment", matched, 61, "0.076"},
		// exactly on the increment: 0.01 + 0.06*60/60
		{"exact increment", matched, 60, "0.07"},
		{"zero billsec is free", matched, 0, "0"},
		{"negative billsec is free", matched, -5, "0"},
		{"unmatched is free", RatedResult{NumberValid: true}, 120, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.r.Cost(tc.billsec)
			if !got.Equal(mustDec(tc.want)) {
				t.Fatalf("cost(%d) = %s, want %s", tc.billsec, got, tc.want)
			}
		})
	}
}

func TestCostNoIncrementBillsPerSecond(t *testing.T) {
	r := RatedResult{Matched: true, RatePerMinute: mustDec("0.6000")}
	// 30s at 0.60/min = 0.30 with no rounding
	if got := r.Cost(30); !got.Equal(mustDec("0.30")) {
		t.Fatalf("cost = %s", got)
	}
}
