package calls

import (
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/rating"

	"github.com/shopspring/decimal"
)

// Direction is the switch-reported direction of a call leg.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionInternal Direction = "internal"
	DirectionTransit  Direction = "transit"
	DirectionUnknown  Direction = "unknown"
)

// ParseDirection maps the wire value to a Direction, defaulting to unknown.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case DirectionInbound, DirectionOutbound, DirectionInternal, DirectionTransit:
		return Direction(s)
	default:
		return DirectionUnknown
	}
}

// CallState is the lifecycle state of a tracked call.
type CallState string

const (
	CallStateRinging  CallState = "ringing"
	CallStateAnswered CallState = "answered"
)

// billingMode records how the call will settle at hangup.
type billingMode string

const (
	billingReserved billingMode = "reserved" // active hold, settles normally
	billingRejected billingMode = "rejected" // authorization denied, zero-cost rejected CDR
	billingUnrated  billingMode = "unrated"  // no tariff matched, zero-cost CDR
	billingNone     billingMode = "none"     // no billable account behind the caller
)

// Call is one tracked call leg, owned exclusively by the Tracker.
type Call struct {
	CallID        string    `json:"call_id"`
	CallingNumber string    `json:"calling_number"`
	CalledNumber  string    `json:"called_number"`
	Direction     Direction `json:"direction"`
	State         CallState `json:"state"`

	StartTime  time.Time  `json:"start_time"`
	AnswerTime *time.Time `json:"answer_time,omitempty"`

	// ConnRef identifies the switch connection the call arrived on.
	ConnRef string `json:"conn_ref,omitempty"`

	AccountID     string             `json:"account_id,omitempty"`
	Quote         rating.RatedResult `json:"quote"`
	ReservationID string             `json:"reservation_id,omitempty"`

	// MaxDurationSeconds is how long the reserved hold covers at the quoted
	// rate. Zero when the call carries no hold or the rate is free.
	MaxDurationSeconds int `json:"max_duration_seconds,omitempty"`

	mode        billingMode
	limiterHeld bool
}

// CreateParams are the fields a CHANNEL_CREATE event contributes.
// Zero-valued fields are left untouched on merge, which is what makes a
// duplicate CREATE an upsert instead of a second record.
type CreateParams struct {
	CallID        string
	CallingNumber string
	CalledNumber  string
	Direction     Direction
	StartTime     time.Time
	ConnRef       string
}

func (c *Call) mergeCreate(p CreateParams) {
	if p.CallingNumber != "" {
		c.CallingNumber = p.CallingNumber
	}
	if p.CalledNumber != "" {
		c.CalledNumber = p.CalledNumber
	}
	if p.Direction != "" && p.Direction != DirectionUnknown {
		c.Direction = p.Direction
	}
	if !p.StartTime.IsZero() {
		c.StartTime = p.StartTime
	}
	if p.ConnRef != "" {
		c.ConnRef = p.ConnRef
	}
}

// ActiveCallSnapshot is the wire shape published to the collaborator's
// active-call mirror and served by the operational API.
type ActiveCallSnapshot struct {
	CallID        string     `json:"call_id"`
	CallingNumber string     `json:"calling_number"`
	CalledNumber  string     `json:"called_number"`
	Direction     string     `json:"direction"`
	Status        string     `json:"status"`
	StartTime     time.Time  `json:"start_time"`
	AnswerTime    *time.Time `json:"answer_time,omitempty"`

	CurrentDuration    int             `json:"current_duration"`
	CurrentCost        decimal.Decimal `json:"current_cost"`
	MaxDurationSeconds int             `json:"max_duration_seconds,omitempty"`
}

func (c *Call) snapshot(now time.Time) ActiveCallSnapshot {
	snap := ActiveCallSnapshot{
		CallID:        c.CallID,
		CallingNumber: c.CallingNumber,
		CalledNumber:  c.CalledNumber,
		Direction:     string(c.Direction),
		Status:        string(c.State),
		StartTime:     c.StartTime,
		AnswerTime:    c.AnswerTime,
		CurrentCost:   decimal.Zero,

		MaxDurationSeconds: c.MaxDurationSeconds,
	}
	if c.AnswerTime != nil {
		elapsed := int(now.Sub(*c.AnswerTime).Seconds())
		if elapsed > 0 {
			snap.CurrentDuration = elapsed
			snap.CurrentCost = c.Quote.Cost(elapsed)
		}
	}
	return snap
}
