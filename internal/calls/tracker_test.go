package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/rating"

	"github.com/shopspring/decimal"
)

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeSettler records ledger interactions without a real store.
type fakeSettler struct {
	mu sync.Mutex

	account      ledger.Account
	accountFound bool
	reserveErr   error

	reserved  []string // call ids with holds placed
	settled   []string
	unbilled  map[string]ledger.CDRStatus
	billsecs  map[string]int
	settleErr error
}

func newFakeSettler() *fakeSettler {
	return &fakeSettler{
		account: ledger.Account{
			ID:          "acct-1",
			PhoneNumber: "1001",
			Balance:     mustDec("25.00"),
			Status:      ledger.AccountStatusActive,
		},
		accountFound: true,
		unbilled:     make(map[string]ledger.CDRStatus),
		billsecs:     make(map[string]int),
	}
}

func (f *fakeSettler) FindAccountByNumber(_ context.Context, number string) (ledger.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accountFound || number != f.account.PhoneNumber {
		return ledger.Account{}, false, nil
	}
	return f.account, true, nil
}

func (f *fakeSettler) Reserve(_ context.Context, accountID, callID string, amount, rate decimal.Decimal, ttl time.Duration) (ledger.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return ledger.Reservation{}, f.reserveErr
	}
	f.reserved = append(f.reserved, callID)
	return ledger.Reservation{ID: "res-" + callID, AccountID: accountID, CallID: callID, ReservedAmount: amount, Status: ledger.ReservationActive}, nil
}

func (f *fakeSettler) Settle(_ context.Context, snap ledger.CallSnapshot, billableSeconds int, _ rating.RatedResult) (ledger.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settleErr != nil {
		return ledger.Settlement{}, f.settleErr
	}
	f.settled = append(f.settled, snap.CallID)
	f.billsecs[snap.CallID] = billableSeconds
	return ledger.Settlement{}, nil
}

func (f *fakeSettler) WriteUnbilledCDR(_ context.Context, snap ledger.CallSnapshot, billableSeconds int, _ rating.RatedResult, status ledger.CDRStatus) ledger.CDR {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbilled[snap.CallID] = status
	f.billsecs[snap.CallID] = billableSeconds
	return ledger.CDR{CallID: snap.CallID, Status: status}
}

// fakePublisher records mirror calls.
type fakePublisher struct {
	mu       sync.Mutex
	upserts  []ActiveCallSnapshot
	removals []string
}

func (f *fakePublisher) UpsertActiveCall(_ context.Context, snap ActiveCallSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, snap)
	return nil
}

func (f *fakePublisher) RemoveActiveCall(_ context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals = append(f.removals, callID)
	return nil
}

func testRater(t *testing.T) Rater {
	t.Helper()
	return rating.NewService(rating.NewMemoryRepo(rating.RateEntry{
		ID:                1,
		DestinationPrefix: "1555",
		DestinationName:   "NANP",
		RatePerMinute:     mustDec("0.60"),
		BillingIncrement:  60,
		EffectiveStart:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func newTestTracker(t *testing.T) (*Tracker, *fakeSettler, *fakePublisher) {
	t.Helper()
	settler := newFakeSettler()
	pub := &fakePublisher{}
	tr := NewTracker(TrackerConfig{}, testRater(t), settler, pub, NewMemoryLimiter(), nil)
	return tr, settler, pub
}

func createParams(callID string) CreateParams {
	return CreateParams{
		CallID:        callID,
		CallingNumber: "1001",
		CalledNumber:  "15551234567",
		Direction:     DirectionOutbound,
		StartTime:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOnCreateAuthorizesAndTracks(t *testing.T) {
	tr, settler, pub := newTestTracker(t)
	ctx := context.Background()

	tr.OnCreate(ctx, createParams("c1"))

	if tr.Len() != 1 {
		t.Fatalf("tracked = %d", tr.Len())
	}
	if len(settler.reserved) != 1 || settler.reserved[0] != "c1" {
		t.Fatalf("reserved = %v", settler.reserved)
	}
	if len(pub.upserts) != 1 || pub.upserts[0].CallID != "c1" {
		t.Fatalf("upserts = %v", pub.upserts)
	}
	if pub.upserts[0].Status != string(CallStateRinging) {
		t.Fatalf("status = %s", pub.upserts[0].Status)
	}
	// hold 3.24 at 0.60/min covers 324 seconds
	if pub.upserts[0].MaxDurationSeconds != 324 {
		t.Fatalf("max duration = %d", pub.upserts[0].MaxDurationSeconds)
	}
}

func TestOnCreateDuplicateIsUpsertNotSecondHold(t *testing.T) {
	tr, settler, pub := newTestTracker(t)
	ctx := context.Background()

	tr.OnCreate(ctx, createParams("c1"))

	// Duplicate with an extra field: merged, no new record, no second hold.
	dup := createParams("c1")
	dup.ConnRef = "core-uuid-2"
	tr.OnCreate(ctx, dup)

	if tr.Len() != 1 {
		t.Fatalf("tracked = %d", tr.Len())
	}
	if len(settler.reserved) != 1 {
		t.Fatalf("expected one hold, got %d", len(settler.reserved))
	}
	if len(pub.upserts) != 2 {
		t.Fatalf("expected refreshed mirror, upserts = %d", len(pub.upserts))
	}
}

func TestOnAnswerTransitionsState(t *testing.T) {
	tr, _, pub := newTestTracker(t)
	ctx := context.Background()

	tr.OnCreate(ctx, createParams("c1"))
	answered := time.Date(2026, 8, 1, 12, 0, 10, 0, time.UTC)
	tr.OnAnswer(ctx, "c1", answered)

	snaps := tr.ActiveCalls()
	if len(snaps) != 1 || snaps[0].Status != string(CallStateAnswered) {
		t.Fatalf("snaps = %+v", snaps)
	}
	if snaps[0].AnswerTime == nil || !snaps[0].AnswerTime.Equal(answered) {
		t.Fatalf("answer time = %v", snaps[0].AnswerTime)
	}
	last := pub.upserts[len(pub.upserts)-1]
	if last.Status != string(CallStateAnswered) {
		t.Fatalf("published status = %s", last.Status)
	}
}

func TestOnAnswerUntrackedIsTolerated(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	tr.OnAnswer(context.Background(), "ghost", time.Now())
	if tr.Len() != 0 {
		t.Fatalf("tracked = %d", tr.Len())
	}
}

func TestOnEndSettlesReservedCall(t *testing.T) {
	tr, settler, pub := newTestTracker(t)
	ctx := context.Background()

	tr.OnCreate(ctx, createParams("c1"))
	tr.OnAnswer(ctx, "c1", time.Now().UTC())
	tr.OnEnd(ctx, "c1", time.Now().UTC(), 65, 61, "NORMAL_CLEARING")

	if tr.Len() != 0 {
		t.Fatalf("tracked = %d", tr.Len())
	}
	if len(settler.settled) != 1 || settler.settled[0] != "c1" {
		t.Fatalf("settled = %v", settler.settled)
	}
	if settler.billsecs["c1"] != 61 {
		t.Fatalf("billsec = %d", settler.billsecs["c1"])
	}
	if len(pub.removals) != 1 || pub.removals[0] != "c1" {
		t.Fatalf("removals = %v", pub.removals)
	}
}

func TestOnEndIsIdempotent(t *testing.T) {
	tr, settler, _ := newTestTracker(t)
	ctx := context.Background()

	tr.OnCreate(ctx, createParams("c1"))
	tr.OnEnd(ctx, "c1", time.Now().UTC(), 10, 5, "NORMAL_CLEARING")
	tr.OnEnd(ctx, "c1", time.Now().UTC(), 10, 5, "NORMAL_CLEARING")

	if len(settler.settled) != 1 {
		t.Fatalf("settled %d times", len(settler.settled))
	}
}

func TestRejectedCallEmitsZeroCostRejectedCDR(t *testing.T) {
	tr, settler, _ := newTestTracker(t)
	settler.reserveErr = ledger.ErrInsufficientBalance
	ctx := context.Background()

	tr.OnCreate(ctx, createParams("broke"))
	tr.OnEnd(ctx, "broke", time.Now().UTC(), 0, 0, "CALL_REJECTED")

	if len(settler.settled) != 0 {
		t.Fatalf("rejected call was settled")
	}
	if settler.unbilled["broke"] != ledger.CDRStatusRejected {
		t.Fatalf("status = %s", settler.unbilled["broke"])
	}
}

func TestUnratedDestinationBillsZero(t *testing.T) {
	tr, settler, _ := newTestTracker(t)
	ctx := context.Background()

	p := createParams("nowhere")
	p.CalledNumber = "99999999"
	tr.OnCreate(ctx, p)
	tr.OnEnd(ctx, "nowhere", time.Now().UTC(), 30, 25, "NORMAL_CLEARING")

	if len(settler.reserved) != 0 {
		t.Fatalf("unrated call placed a hold")
	}
	if settler.unbilled["nowhere"] != ledger.CDRStatusUnrated {
		t.Fatalf("status = %s", settler.unbilled["nowhere"])
	}
}

func TestUnknownCallerIsTrackedButNotBilled(t *testing.T) {
	tr, settler, _ := newTestTracker(t)
	ctx := context.Background()

	p := createParams("anon")
	p.CallingNumber = "7777"
	tr.OnCreate(ctx, p)
	if tr.Len() != 1 {
		t.Fatalf("tracked = %d", tr.Len())
	}
	tr.OnEnd(ctx, "anon", time.Now().UTC(), 30, 25, "NORMAL_CLEARING")

	if len(settler.reserved) != 0 || len(settler.settled) != 0 {
		t.Fatalf("non-billable call touched the ledger")
	}
	if settler.unbilled["anon"] != ledger.CDRStatusCompleted {
		t.Fatalf("status = %s", settler.unbilled["anon"])
	}
}

func TestConcurrencyCapRejectsExcessCalls(t *testing.T) {
	settler := newFakeSettler()
	settler.account.MaxConcurrentCalls = 2
	pub := &fakePublisher{}
	tr := NewTracker(TrackerConfig{}, testRater(t), settler, pub, NewMemoryLimiter(), nil)
	ctx := context.Background()

	tr.OnCreate(ctx, createParams("c1"))
	tr.OnCreate(ctx, createParams("c2"))
	tr.OnCreate(ctx, createParams("c3"))

	if len(settler.reserved) != 2 {
		t.Fatalf("holds = %d, want 2", len(settler.reserved))
	}

	tr.OnEnd(ctx, "c3", time.Now().UTC(), 0, 0, "CALL_REJECTED")
	if settler.unbilled["c3"] != ledger.CDRStatusRejected {
		t.Fatalf("status = %s", settler.unbilled["c3"])
	}

	// Ending a billed call releases its slot.
	tr.OnEnd(ctx, "c1", time.Now().UTC(), 10, 5, "NORMAL_CLEARING")
	tr.OnCreate(ctx, createParams("c4"))
	if len(settler.reserved) != 3 {
		t.Fatalf("holds = %d, want 3 after slot release", len(settler.reserved))
	}
}

func TestSnapshotComputesRunningCost(t *testing.T) {
	answered := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := &Call{
		CallID:     "c1",
		State:      CallStateAnswered,
		AnswerTime: &answered,
		Quote: rating.RatedResult{
			Matched:          true,
			RatePerMinute:    mustDec("0.60"),
			BillingIncrement: 60,
		},
	}

	snap := c.snapshot(answered.Add(61 * time.Second))
	if snap.CurrentDuration != 61 {
		t.Fatalf("duration = %d", snap.CurrentDuration)
	}
	// 61s rounds to 120s: 0.60*2
	if !snap.CurrentCost.Equal(mustDec("1.20")) {
		t.Fatalf("cost = %s", snap.CurrentCost)
	}

	ringing := &Call{CallID: "c2", State: CallStateRinging}
	if got := ringing.snapshot(answered); !got.CurrentCost.IsZero() || got.CurrentDuration != 0 {
		t.Fatalf("ringing snapshot = %+v", got)
	}
}
