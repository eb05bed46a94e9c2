package calls

import (
	"context"
	"testing"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/esl"
)

// Dispatch runs inline when Start was not called, so these tests observe
// tracker state synchronously.

func lifecycleEvent(kind, callID string, extra ...string) esl.Event {
	kvs := append([]string{"Event-Name", kind, "Unique-ID", callID}, extra...)
	return esl.NewEvent(kvs...)
}

func TestDispatcherRoutesLifecycle(t *testing.T) {
	tr, settler, _ := newTestTracker(t)
	d := NewDispatcher(tr, nil)
	ctx := context.Background()

	d.HandleEvent(ctx, lifecycleEvent(EventChannelCreate, "c1",
		"Caller-Caller-ID-Number", "1001",
		"Caller-Destination-Number", "15551234567",
		"Call-Direction", "outbound",
		"Caller-Channel-Created-Time", "1754049600000000",
	))
	if tr.Len() != 1 {
		t.Fatalf("tracked = %d", tr.Len())
	}
	snaps := tr.ActiveCalls()
	if snaps[0].CallingNumber != "1001" || snaps[0].CalledNumber != "15551234567" {
		t.Fatalf("snapshot = %+v", snaps[0])
	}
	if snaps[0].Direction != string(DirectionOutbound) {
		t.Fatalf("direction = %s", snaps[0].Direction)
	}
	if !snaps[0].StartTime.Equal(time.UnixMicro(1754049600000000).UTC()) {
		t.Fatalf("start = %v", snaps[0].StartTime)
	}

	d.HandleEvent(ctx, lifecycleEvent(EventChannelAnswer, "c1"))
	if got := tr.ActiveCalls()[0].Status; got != string(CallStateAnswered) {
		t.Fatalf("status = %s", got)
	}

	d.HandleEvent(ctx, lifecycleEvent(EventChannelHangup, "c1",
		"variable_duration", "65",
		"variable_billsec", "61",
		"Hangup-Cause", "NORMAL_CLEARING",
	))
	if tr.Len() != 0 {
		t.Fatalf("tracked = %d after hangup", tr.Len())
	}
	if settler.billsecs["c1"] != 61 {
		t.Fatalf("billsec = %d", settler.billsecs["c1"])
	}
}

func TestDispatcherIgnoresOtherKindsAndMissingID(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	d := NewDispatcher(tr, nil)
	ctx := context.Background()

	d.HandleEvent(ctx, esl.NewEvent("Event-Name", "HEARTBEAT", "Unique-ID", "x"))
	d.HandleEvent(ctx, esl.NewEvent("Event-Name", EventChannelCreate))
	if tr.Len() != 0 {
		t.Fatalf("tracked = %d", tr.Len())
	}
}

func TestDispatcherHangupCompleteAlsoSettles(t *testing.T) {
	tr, settler, _ := newTestTracker(t)
	d := NewDispatcher(tr, nil)
	ctx := context.Background()

	d.HandleEvent(ctx, lifecycleEvent(EventChannelCreate, "c1",
		"Caller-Caller-ID-Number", "1001",
		"Caller-Destination-Number", "15551234567",
	))
	d.HandleEvent(ctx, lifecycleEvent(EventChannelHangupComplete, "c1", "variable_billsec", "5"))

	if len(settler.settled) != 1 {
		t.Fatalf("settled = %v", settler.settled)
	}
}

func TestDispatcherWorkersPreservePerCallOrder(t *testing.T) {
	tr, settler, _ := newTestTracker(t)
	d := NewDispatcher(tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx, 4)

	const calls = 20
	for i := 0; i < calls; i++ {
		id := callIDFor(i)
		d.HandleEvent(ctx, lifecycleEvent(EventChannelCreate, id,
			"Caller-Caller-ID-Number", "1001",
			"Caller-Destination-Number", "15551234567",
		))
		d.HandleEvent(ctx, lifecycleEvent(EventChannelAnswer, id))
		d.HandleEvent(ctx, lifecycleEvent(EventChannelHangup, id, "variable_billsec", "10"))
	}

	deadline := time.After(5 * time.Second)
	for tr.Len() != 0 || settled(settler) != calls {
		select {
		case <-deadline:
			t.Fatalf("tracked=%d settled=%d", tr.Len(), settled(settler))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	d.Close()
}

func settled(f *fakeSettler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.settled)
}

func callIDFor(i int) string {
	return "call-" + string(rune('a'+i%26)) + "-" + string(rune('0'+i/26))
}
