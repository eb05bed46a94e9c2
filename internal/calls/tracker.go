package calls

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/ledger"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/rating"

	"github.com/shopspring/decimal"
)

const trackerShards = 16

// Rater quotes a tariff for a destination number.
type Rater interface {
	Rate(ctx context.Context, destinationNumber string, asOf time.Time) (rating.RatedResult, error)
}

// Settler is the slice of the ledger the tracker drives.
type Settler interface {
	FindAccountByNumber(ctx context.Context, number string) (ledger.Account, bool, error)
	Reserve(ctx context.Context, accountID, callID string, estimatedAmount, ratePerMinute decimal.Decimal, ttl time.Duration) (ledger.Reservation, error)
	Settle(ctx context.Context, snap ledger.CallSnapshot, billableSeconds int, rated rating.RatedResult) (ledger.Settlement, error)
	WriteUnbilledCDR(ctx context.Context, snap ledger.CallSnapshot, billableSeconds int, rated rating.RatedResult, status ledger.CDRStatus) ledger.CDR
}

// ActiveCallPublisher mirrors the active-call set to the collaborator
// backend. Failures are logged, never fatal: the tracker is authoritative.
type ActiveCallPublisher interface {
	UpsertActiveCall(ctx context.Context, snap ActiveCallSnapshot) error
	RemoveActiveCall(ctx context.Context, callID string) error
}

// TrackerConfig tunes authorization behavior.
type TrackerConfig struct {
	// ReservationTTL bounds how long a hold may stay ACTIVE.
	ReservationTTL time.Duration

	// DefaultMaxConcurrent applies to accounts without an explicit cap.
	DefaultMaxConcurrent int
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	out := c
	if out.ReservationTTL <= 0 {
		out.ReservationTTL = 45 * time.Minute
	}
	if out.DefaultMaxConcurrent <= 0 {
		out.DefaultMaxConcurrent = 5
	}
	return out
}

// Tracker owns the in-memory active-call registry: one record per call id,
// sharded by call id so calls on different shards never contend.
//
// The registry survives a brief socket reconnect; live calls keep their
// records until their hangup arrives or their reservation expires.
type Tracker struct {
	cfg       TrackerConfig
	rater     Rater
	settler   Settler
	publisher ActiveCallPublisher
	limiter   ConcurrencyLimiter
	clock     func() time.Time
	log       *slog.Logger

	shards [trackerShards]trackerShard
}

type trackerShard struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func NewTracker(cfg TrackerConfig, rater Rater, settler Settler, publisher ActiveCallPublisher, limiter ConcurrencyLimiter, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		cfg:       cfg.withDefaults(),
		rater:     rater,
		settler:   settler,
		publisher: publisher,
		limiter:   limiter,
		clock:     time.Now,
		log:       log,
	}
	for i := range t.shards {
		t.shards[i].calls = make(map[string]*Call)
	}
	return t
}

func (t *Tracker) shard(callID string) *trackerShard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return &t.shards[h.Sum32()%trackerShards]
}

// OnCreate upserts the call record and authorizes billing for new calls:
// quote the destination, resolve the account, acquire a concurrency slot
// and place the initial hold. A call that fails authorization is still
// tracked; it settles as a zero-cost rejected CDR at hangup.
func (t *Tracker) OnCreate(ctx context.Context, p CreateParams) {
	if p.CallID == "" {
		return
	}
	sh := t.shard(p.CallID)
	sh.mu.Lock()

	c, exists := sh.calls[p.CallID]
	if exists {
		c.mergeCreate(p)
		snap := c.snapshot(t.clock().UTC())
		sh.mu.Unlock()
		t.publish(ctx, snap)
		return
	}

	c = &Call{
		CallID:    p.CallID,
		State:     CallStateRinging,
		Direction: DirectionUnknown,
		StartTime: t.clock().UTC(),
		mode:      billingNone,
	}
	c.mergeCreate(p)
	sh.calls[p.CallID] = c

	t.authorize(ctx, c)
	snap := c.snapshot(t.clock().UTC())
	sh.mu.Unlock()

	t.publish(ctx, snap)
}

// authorize runs under the call's shard lock.
func (t *Tracker) authorize(ctx context.Context, c *Call) {
	quote, err := t.rater.Rate(ctx, c.CalledNumber, c.StartTime)
	if err != nil {
		t.log.Error("rating quote failed", "call_id", c.CallID, "called", c.CalledNumber, "err", err)
		c.mode = billingUnrated
		return
	}
	c.Quote = quote
	if !quote.Matched {
		t.log.Warn("destination unrated", "call_id", c.CallID, "called", c.CalledNumber)
		c.mode = billingUnrated
		return
	}

	acct, found, err := t.settler.FindAccountByNumber(ctx, c.CallingNumber)
	if err != nil {
		t.log.Error("account lookup failed", "call_id", c.CallID, "calling", c.CallingNumber, "err", err)
		c.mode = billingNone
		return
	}
	if !found {
		t.log.Debug("no billable account for caller", "call_id", c.CallID, "calling", c.CallingNumber)
		c.mode = billingNone
		return
	}
	c.AccountID = acct.ID

	limit := acct.MaxConcurrentCalls
	if limit <= 0 {
		limit = t.cfg.DefaultMaxConcurrent
	}
	if t.limiter != nil {
		ok, err := t.limiter.Acquire(ctx, acct.ID, limit)
		if err != nil {
			t.log.Error("concurrency limiter failed", "call_id", c.CallID, "account_id", acct.ID, "err", err)
		} else if !ok {
			t.log.Warn("concurrent call limit reached", "call_id", c.CallID, "account_id", acct.ID, "limit", limit)
			c.mode = billingRejected
			return
		} else {
			c.limiterHeld = true
		}
	}

	estimate := ledger.EstimateHold(quote.RatePerMinute)
	res, err := t.settler.Reserve(ctx, acct.ID, c.CallID, estimate, quote.RatePerMinute, t.cfg.ReservationTTL)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			t.log.Warn("authorization denied, insufficient balance", "call_id", c.CallID, "account_id", acct.ID)
		case errors.Is(err, ledger.ErrDuplicateReservation):
			t.log.Error("duplicate reservation for call", "call_id", c.CallID, "account_id", acct.ID)
		default:
			t.log.Error("reservation failed", "call_id", c.CallID, "account_id", acct.ID, "err", err)
		}
		c.mode = billingRejected
		return
	}

	c.ReservationID = res.ID
	c.MaxDurationSeconds = ledger.HoldSeconds(res.ReservedAmount, quote.RatePerMinute)
	c.mode = billingReserved
}

// OnAnswer records the answer transition. A missing record is tolerated:
// the call may predate this process attaching to the switch.
func (t *Tracker) OnAnswer(ctx context.Context, callID string, answerTime time.Time) {
	sh := t.shard(callID)
	sh.mu.Lock()
	c, ok := sh.calls[callID]
	if !ok {
		sh.mu.Unlock()
		t.log.Warn("answer for untracked call", "call_id", callID)
		return
	}
	if answerTime.IsZero() {
		answerTime = t.clock().UTC()
	}
	c.State = CallStateAnswered
	c.AnswerTime = &answerTime
	snap := c.snapshot(t.clock().UTC())
	sh.mu.Unlock()

	t.publish(ctx, snap)
}

// OnEnd removes the call record (idempotent; a duplicate hangup is a no-op)
// and settles the call with its final duration.
func (t *Tracker) OnEnd(ctx context.Context, callID string, endTime time.Time, durationSeconds, billableSeconds int, hangupCause string) {
	sh := t.shard(callID)
	sh.mu.Lock()
	c, ok := sh.calls[callID]
	if ok {
		delete(sh.calls, callID)
	}
	sh.mu.Unlock()

	if !ok {
		t.log.Debug("hangup for untracked call", "call_id", callID)
		return
	}

	if c.limiterHeld && t.limiter != nil {
		if err := t.limiter.Release(ctx, c.AccountID); err != nil {
			t.log.Error("limiter release failed", "account_id", c.AccountID, "err", err)
		}
	}

	if endTime.IsZero() {
		endTime = t.clock().UTC()
	}
	snap := ledger.CallSnapshot{
		CallID:          c.CallID,
		CallingNumber:   c.CallingNumber,
		CalledNumber:    c.CalledNumber,
		Direction:       string(c.Direction),
		HangupCause:     hangupCause,
		StartTime:       c.StartTime,
		AnswerTime:      c.AnswerTime,
		EndTime:         endTime,
		DurationSeconds: durationSeconds,
	}

	switch c.mode {
	case billingReserved:
		if _, err := t.settler.Settle(ctx, snap, billableSeconds, c.Quote); err != nil {
			if errors.Is(err, ledger.ErrReservationNotFound) {
				t.log.Warn("settlement no-op, reservation already terminal", "call_id", callID)
			} else {
				t.log.Error("settlement failed", "call_id", callID, "err", err)
			}
		}
	case billingRejected:
		t.settler.WriteUnbilledCDR(ctx, snap, billableSeconds, c.Quote, ledger.CDRStatusRejected)
	case billingUnrated:
		t.settler.WriteUnbilledCDR(ctx, snap, billableSeconds, c.Quote, ledger.CDRStatusUnrated)
	case billingNone:
		t.settler.WriteUnbilledCDR(ctx, snap, billableSeconds, c.Quote, ledger.CDRStatusCompleted)
	}

	if t.publisher != nil {
		if err := t.publisher.RemoveActiveCall(ctx, callID); err != nil {
			t.log.Warn("active-call remove failed", "call_id", callID, "err", err)
		}
	}
}

func (t *Tracker) publish(ctx context.Context, snap ActiveCallSnapshot) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.UpsertActiveCall(ctx, snap); err != nil {
		t.log.Warn("active-call upsert failed", "call_id", snap.CallID, "err", err)
	}
}

// ActiveCalls lists snapshots of every tracked call.
func (t *Tracker) ActiveCalls() []ActiveCallSnapshot {
	now := t.clock().UTC()
	var out []ActiveCallSnapshot
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for _, c := range sh.calls {
			out = append(out, c.snapshot(now))
		}
		sh.mu.Unlock()
	}
	return out
}

// Len returns the number of tracked calls.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.calls)
		sh.mu.Unlock()
	}
	return n
}
