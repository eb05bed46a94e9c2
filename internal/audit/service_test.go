package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAppendFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	err := svc.Append(context.Background(), Event{
		Type:        EventTypeBalanceAdjust,
		ActorUserID: "op-1",
		AccountID:   "acct-1",
		Message:     "recharge: top-up",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	got := repo.Events()
	if len(got) != 1 {
		t.Fatalf("events = %d", len(got))
	}
	if got[0].ID == "" {
		t.Fatalf("expected generated id")
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatalf("expected created_at")
	}
}

func TestAppendRejectsMissingType(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	err := svc.Append(context.Background(), Event{Message: "no type"})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("got %v", err)
	}
}

func TestLogBalanceAdjust(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogBalanceAdjust(context.Background(), "op-1", "admin", "10.0.0.1", "acct-1", "refund: dispute", ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	got := repo.Events()
	if len(got) != 1 || got[0].Type != EventTypeBalanceAdjust || got[0].AccountID != "acct-1" {
		t.Fatalf("events = %+v", got)
	}
}
