package calls

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/esl"
)

// Event kinds the dispatcher consumes; everything else is dropped silently.
const (
	EventChannelCreate         = "CHANNEL_CREATE"
	EventChannelAnswer         = "CHANNEL_ANSWER"
	EventChannelHangup         = "CHANNEL_HANGUP"
	EventChannelHangupComplete = "CHANNEL_HANGUP_COMPLETE"
)

// Dispatcher routes decoded events to the tracker's lifecycle handlers.
//
// Events are partitioned by call id onto worker queues: events for one call
// are always processed in arrival order, while different calls proceed
// concurrently. With zero workers (tests) dispatch runs inline.
type Dispatcher struct {
	tracker *Tracker
	log     *slog.Logger

	queues []chan queued
	wg     sync.WaitGroup
}

type queued struct {
	ctx context.Context
	ev  esl.Event
}

func NewDispatcher(tracker *Tracker, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{tracker: tracker, log: log}
}

// Start launches workers partitioned by call id. Close waits for them.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	d.queues = make([]chan queued, workers)
	for i := range d.queues {
		q := make(chan queued, 256)
		d.queues[i] = q
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case item := <-q:
					d.process(item.ctx, item.ev)
				}
			}
		}()
	}
}

// Close waits for in-flight workers after their context is cancelled.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// HandleEvent implements esl.Handler.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev esl.Event) {
	switch ev.Kind() {
	case EventChannelCreate, EventChannelAnswer, EventChannelHangup, EventChannelHangupComplete:
	default:
		return
	}

	callID := ev.Get("Unique-ID")
	if callID == "" {
		d.log.Debug("lifecycle event without Unique-ID dropped", "kind", ev.Kind())
		return
	}

	if len(d.queues) == 0 {
		d.process(ctx, ev)
		return
	}

	h := fnv.New32a()
	h.Write([]byte(callID))
	q := d.queues[h.Sum32()%uint32(len(d.queues))]
	select {
	case q <- queued{ctx: ctx, ev: ev}:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) process(ctx context.Context, ev esl.Event) {
	callID := ev.Get("Unique-ID")

	switch ev.Kind() {
	case EventChannelCreate:
		d.tracker.OnCreate(ctx, CreateParams{
			CallID:        callID,
			CallingNumber: ev.Get("Caller-Caller-ID-Number"),
			CalledNumber:  ev.Get("Caller-Destination-Number"),
			Direction:     ParseDirection(ev.Get("Call-Direction")),
			StartTime:     ev.GetEpochMicro("Caller-Channel-Created-Time"),
			ConnRef:       ev.Get("Core-UUID"),
		})

	case EventChannelAnswer:
		d.tracker.OnAnswer(ctx, callID, time.Now().UTC())

	case EventChannelHangup, EventChannelHangupComplete:
		d.tracker.OnEnd(ctx, callID,
			time.Now().UTC(),
			ev.GetInt("variable_duration"),
			ev.GetInt("variable_billsec"),
			ev.Get("Hangup-Cause"),
		)
	}
}
